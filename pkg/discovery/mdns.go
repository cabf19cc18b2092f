// Package discovery advertises the gateway HTTP service over mDNS.
package discovery

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"

	"github.com/enbility/zeroconf/v3"
	"github.com/golang/glog"
)

// Defaults.
const (
	ServiceHTTP = "_http._tcp"
	Domain      = "local."
)

// MaxInstanceNameLen is the DNS label limit for instance names.
const MaxInstanceNameLen = 63

// ErrNoPort indicates a missing service port.
var ErrNoPort = errors.New("mdns: port required")

// Config configures an Advertiser.
type Config struct {
	Instance  string            `yaml:"instance"`
	Service   string            `yaml:"service"`
	Interface string            `yaml:"interface"`
	Port      int               `yaml:"-"`
	TXT       map[string]string `yaml:"txt"`
}

// Advertiser publishes a single service instance.
type Advertiser struct {
	config Config

	lock   sync.Mutex
	server *zeroconf.Server
}

// NewAdvertiser validates config and creates an Advertiser.
func NewAdvertiser(config Config) (*Advertiser, error) {
	if config.Port <= 0 || config.Port > 65535 {
		return nil, ErrNoPort
	}
	if config.Service == "" {
		config.Service = ServiceHTTP
	}
	if config.Instance == "" {
		return nil, errors.New("mdns: instance name required")
	}
	if len(config.Instance) > MaxInstanceNameLen {
		config.Instance = config.Instance[:MaxInstanceNameLen]
	}
	return &Advertiser{config: config}, nil
}

// TXTRecords returns TXT entries in key=value form, sorted by key.
func TXTRecords(txt map[string]string) []string {
	records := make([]string, 0, len(txt))
	for k, v := range txt {
		records = append(records, k+"="+v)
	}
	sort.Strings(records)
	return records
}

func (a *Advertiser) interfaces() ([]net.Interface, error) {
	if a.config.Interface == "" {
		return nil, nil
	}
	iface, err := net.InterfaceByName(a.config.Interface)
	if err != nil {
		return nil, err
	}
	return []net.Interface{*iface}, nil
}

// Start registers the service.
func (a *Advertiser) Start() error {
	a.lock.Lock()
	defer a.lock.Unlock()
	if a.server != nil {
		return nil
	}
	ifaces, err := a.interfaces()
	if err != nil {
		return err
	}
	server, err := zeroconf.Register(
		a.config.Instance,
		a.config.Service,
		Domain,
		a.config.Port,
		TXTRecords(a.config.TXT),
		ifaces,
	)
	if err != nil {
		return fmt.Errorf("mdns register %s: %w", a.config.Service, err)
	}
	a.server = server
	glog.Infof("mdns: advertising %q %s on port %d", a.config.Instance, a.config.Service, a.config.Port)
	return nil
}

// Stop withdraws the service.
func (a *Advertiser) Stop() error {
	a.lock.Lock()
	defer a.lock.Unlock()
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
	return nil
}
