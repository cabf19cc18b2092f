// Package gateway composes the radio pipeline, settings, MQTT bridge and the
// web surface into the running gateway.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/golang/glog"

	"github.com/robotalks/radiogw/pkg/closer"
	"github.com/robotalks/radiogw/pkg/discovery"
	"github.com/robotalks/radiogw/pkg/httpd"
	"github.com/robotalks/radiogw/pkg/mqtt"
	"github.com/robotalks/radiogw/pkg/nvs"
	"github.com/robotalks/radiogw/pkg/radio"
	"github.com/robotalks/radiogw/pkg/settings"
	"github.com/robotalks/radiogw/pkg/transport"
)

// Gateway status topic and payloads, relative to the broker prefix.
const (
	TopicGatewayStatus = "gateway/%s/status"
	StatusOffline      = "offline"
)

var (
	// ErrRunning indicates Start on a started gateway.
	ErrRunning = errors.New("gateway already running")
	// ErrNotRunning indicates Stop on a stopped gateway.
	ErrNotRunning = errors.New("gateway not running")
	// ErrBrokerTimeout indicates the broker was not reachable during bring-up.
	ErrBrokerTimeout = fmt.Errorf("broker: %w", mqtt.ErrTimeout)
)

// MQTTFactory creates the broker client from runtime settings.
type MQTTFactory func(mqtt.Options) (*mqtt.Queue, error)

// Gateway is the composed gateway.
type Gateway struct {
	// Driver overrides the configured radio driver.
	Driver radio.Driver
	// NewMQTT overrides how the broker client is created.
	NewMQTT MQTTFactory

	config   Config
	settings *settings.Store
	hub      *httpd.Hub

	lock     sync.Mutex
	stack    *closer.Stack
	queue    *mqtt.Queue
	server   *httpd.Server
	pipeline atomic.Pointer[transport.Pipeline]
}

// New creates a Gateway with settings persisted in backend.
func New(config Config, backend nvs.Backend) (*Gateway, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	store, err := settings.New(backend, settings.Options{
		Namespace: config.Settings.Namespace,
		Defaults:  config.Settings.Defaults,
	})
	if err != nil {
		return nil, err
	}
	g := &Gateway{
		NewMQTT:  mqtt.New,
		config:   config,
		settings: store,
		hub:      httpd.NewHub(),
	}
	store.OnChange(g.settingChanged)
	return g, nil
}

// NewGateway creates a Gateway persisting settings in the configured file.
func (c *Config) NewGateway() (*Gateway, error) {
	return New(*c, nvs.NewFile(c.Settings.File))
}

// Settings returns the settings store.
func (g *Gateway) Settings() *settings.Store {
	return g.settings
}

// Pipeline returns the running pipeline, nil when stopped.
func (g *Gateway) Pipeline() *transport.Pipeline {
	return g.pipeline.Load()
}

// HTTPAddr returns the bound HTTP address, nil when stopped.
func (g *Gateway) HTTPAddr() net.Addr {
	g.lock.Lock()
	defer g.lock.Unlock()
	if g.server == nil {
		return nil
	}
	return g.server.Addr()
}

// Start brings the gateway up step by step. A failing step undoes the
// steps before it.
func (g *Gateway) Start() error {
	g.lock.Lock()
	defer g.lock.Unlock()
	if g.stack != nil {
		return ErrRunning
	}
	return closer.With(func(s *closer.Stack) error {
		if err := g.settings.Init(); err != nil {
			return fmt.Errorf("settings: %w", err)
		}
		vals, err := g.settings.Values()
		if err != nil {
			return err
		}

		var pub Publisher = nopPublisher{}
		if vals.MQTTURI != "" {
			q, err := g.connectMQTT(s, vals)
			if err != nil {
				return err
			}
			g.queue, pub = q, q
			s.Push(func() error {
				g.queue = nil
				return nil
			}, "mqtt ref")
		} else {
			glog.Warning("mqtt.uri is empty, frames are not forwarded")
		}

		driver := g.Driver
		if driver == nil {
			if driver, err = g.config.NewDriver(); err != nil {
				return err
			}
		}
		bridge := NewBridge(pub, nil, driver)
		bridge.GatewayID = g.config.ID
		bridge.Format = g.config.MQTT.Envelope
		bridge.SendTimeout = g.config.Transport.SendTimeout

		p := transport.New(driver, transport.HandleFrameFunc(func(ctx context.Context, f *radio.Frame) error {
			g.hub.PublishFrame(f)
			return bridge.HandleFrame(ctx, f)
		}), g.config.Transport)
		bridge.send = p
		if err := s.Defer("pipeline", p.Start, p.Stop); err != nil {
			return err
		}
		g.pipeline.Store(p)
		s.Push(func() error {
			g.pipeline.Store(nil)
			return nil
		}, "pipeline ref")
		if err := p.SetChannel(vals.WiFiChannel); err != nil {
			return err
		}

		if g.queue != nil {
			cmds := NewCommander(bridge, g.config.MQTT.CommandQueue)
			if err := s.Defer("commands", cmds.Start, cmds.Stop); err != nil {
				return err
			}
			sub, err := g.queue.Sub(TopicCmdFilter, cmds.Submit)
			if err != nil {
				return fmt.Errorf("subscribe %s: %w", TopicCmdFilter, err)
			}
			if err := s.Push(sub.Close, "subscription"); err != nil {
				sub.Close()
				return err
			}
		}

		srv := httpd.New(g.config.HTTP, g.settings, g.hub)
		srv.Stats = p.Stats
		if err := s.Defer("http", srv.Start, srv.Stop); err != nil {
			return err
		}
		g.server = srv
		s.Push(func() error {
			g.server = nil
			return nil
		}, "http ref")

		if g.config.MDNS.Enabled {
			if err := g.advertise(s, srv.Addr()); err != nil {
				return err
			}
		}

		g.stack = s.Release()
		glog.Infof("gateway %s started", g.config.ID)
		return nil
	})
}

func (g *Gateway) connectMQTT(s *closer.Stack, vals settings.Values) (*mqtt.Queue, error) {
	q, err := g.NewMQTT(mqtt.Options{
		URI:      vals.MQTTURI,
		User:     vals.MQTTUser,
		Password: vals.MQTTPassword,
		ClientID: g.config.ID,
		Timeout:  g.config.MQTT.Timeout,
		Will: &mqtt.Message{
			Topic:   fmt.Sprintf(TopicGatewayStatus, g.config.ID),
			Payload: []byte(StatusOffline),
			QoS:     1,
			Retain:  true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mqtt: %w", err)
	}
	timeout := g.config.MQTT.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	err = s.Defer("mqtt connect", func() error {
		err := q.Connect(ctx)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, mqtt.ErrTimeout) {
			return ErrBrokerTimeout
		}
		return err
	}, func() error {
		g.publishStatus(q, StatusOffline)
		return q.Close()
	})
	if err != nil {
		return nil, err
	}
	g.publishStatus(q, StatusOnline)
	return q, nil
}

func (g *Gateway) publishStatus(q *mqtt.Queue, status string) {
	err := q.Publish(context.Background(), mqtt.Message{
		Topic:   fmt.Sprintf(TopicGatewayStatus, g.config.ID),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	})
	if err != nil {
		glog.Warningf("publish gateway status %s: %v", status, err)
	}
}

func (g *Gateway) advertise(s *closer.Stack, addr net.Addr) error {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return fmt.Errorf("mdns: unexpected http address %v", addr)
	}
	adv, err := discovery.NewAdvertiser(g.config.mdnsConfig(tcp.Port))
	if err != nil {
		return err
	}
	return s.Defer("mdns", adv.Start, adv.Stop)
}

// Stop tears the gateway down in reverse bring-up order.
func (g *Gateway) Stop() error {
	g.lock.Lock()
	defer g.lock.Unlock()
	if g.stack == nil {
		return ErrNotRunning
	}
	err := g.stack.Drain()
	g.stack = nil
	glog.Infof("gateway %s stopped", g.config.ID)
	return err
}

// settingChanged applies runtime settings which do not need a restart.
func (g *Gateway) settingChanged(key, value string) {
	switch key {
	case settings.KeyWiFiChannel:
		p := g.Pipeline()
		if p == nil {
			return
		}
		vals, err := g.settings.Values()
		if err != nil {
			glog.Errorf("settings: %v", err)
			return
		}
		if err := p.SetChannel(vals.WiFiChannel); err != nil {
			glog.Errorf("retune to channel %d: %v", vals.WiFiChannel, err)
			return
		}
		glog.Infof("radio retuned to channel %d", vals.WiFiChannel)
	case settings.KeyMQTTURI, settings.KeyMQTTUser, settings.KeyMQTTPassword:
		glog.Infof("setting %s changed, takes effect on restart", key)
	}
}

type nopPublisher struct{}

func (nopPublisher) Publish(_ context.Context, msg mqtt.Message) error {
	glog.V(2).Infof("no broker, dropped %q len=%d", msg.Topic, len(msg.Payload))
	return nil
}
