package gateway

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/robotalks/radiogw/pkg/discovery"
	"github.com/robotalks/radiogw/pkg/env"
	"github.com/robotalks/radiogw/pkg/httpd"
	"github.com/robotalks/radiogw/pkg/radio"
	"github.com/robotalks/radiogw/pkg/radio/serial"
	"github.com/robotalks/radiogw/pkg/radio/udp"
	"github.com/robotalks/radiogw/pkg/settings"
	"github.com/robotalks/radiogw/pkg/transport"
)

// Radio drivers selectable by name.
const (
	RadioUDP    = "udp"
	RadioSerial = "serial"
)

// Config is the gateway configuration.
type Config struct {
	// File is the YAML file loaded by Load, not part of the file itself.
	File string `yaml:"-"`

	ID        string           `yaml:"id"`
	Radio     RadioConfig      `yaml:"radio"`
	Transport transport.Config `yaml:"transport"`
	Settings  SettingsConfig   `yaml:"settings"`
	MQTT      MQTTConfig       `yaml:"mqtt"`
	HTTP      httpd.Config     `yaml:"http"`
	MDNS      MDNSConfig       `yaml:"mdns"`
}

// RadioConfig selects and configures the radio driver.
type RadioConfig struct {
	Driver string `yaml:"driver"`
	// Addr is the station address, used by the udp driver.
	Addr   string        `yaml:"addr"`
	UDP    UDPConfig     `yaml:"udp"`
	Serial serial.Config `yaml:"serial"`
}

// UDPConfig configures the udp driver.
type UDPConfig struct {
	Group     string `yaml:"group"`
	Interface string `yaml:"interface"`
}

// SettingsConfig locates the persisted settings.
type SettingsConfig struct {
	File      string            `yaml:"file"`
	Namespace string            `yaml:"namespace"`
	Defaults  map[string]string `yaml:"defaults"`
}

// MQTTConfig configures the broker side. The broker address and
// credentials are runtime settings.
type MQTTConfig struct {
	// ConnectTimeout bounds the wait for the broker during bring-up.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	Timeout        time.Duration `yaml:"timeout"`
	Envelope       Format        `yaml:"envelope"`

	// CommandQueue bounds node commands waiting for the radio.
	CommandQueue int `yaml:"command_queue"`
}

// MDNSConfig configures the service advertisement.
type MDNSConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Instance  string `yaml:"instance"`
	Interface string `yaml:"interface"`
}

// Defaults.
const (
	DefaultSettingsFile   = "radiogw.cbor"
	DefaultConnectTimeout = 10 * time.Second
	DefaultStationAddr    = "02:00:00:00:00:01"
)

var defaultConfig = Config{
	Radio: RadioConfig{
		Driver: RadioUDP,
		Addr:   DefaultStationAddr,
		UDP:    UDPConfig{Group: udp.DefaultGroup},
		Serial: serial.DefaultConfig(),
	},
	Transport: transport.DefaultConfig(),
	Settings:  SettingsConfig{File: DefaultSettingsFile, Namespace: settings.DefaultNamespace},
	MQTT: MQTTConfig{
		ConnectTimeout: DefaultConnectTimeout,
		Envelope:       FormatRaw,
	},
	HTTP: httpd.DefaultConfig(),
	MDNS: MDNSConfig{Enabled: true},
}

func init() {
	if val := os.Getenv("GW_CONFIG"); val != "" {
		defaultConfig.File = val
	}
	if val := os.Getenv("GW_ID"); val != "" {
		defaultConfig.ID = val
	}
	if val := os.Getenv("GW_RADIO"); val != "" {
		defaultConfig.Radio.Driver = val
	}
	if val := os.Getenv("GW_HTTP_ADDR"); val != "" {
		defaultConfig.HTTP.Addr = val
	}
}

// SetupFlags sets up command line flags.
func SetupFlags() {
	flag.StringVar(&defaultConfig.File, "config", defaultConfig.File, "YAML config file, its values override flags.")
	flag.StringVar(&defaultConfig.ID, "id", defaultConfig.ID, "Gateway ID, derived from the machine id if empty.")
	flag.StringVar(&defaultConfig.Radio.Driver, "radio", defaultConfig.Radio.Driver, "Radio driver: udp or serial.")
	flag.StringVar(&defaultConfig.Radio.Addr, "radio-addr", defaultConfig.Radio.Addr, "Station address for the udp radio.")
	flag.StringVar(&defaultConfig.Radio.Serial.Device, "serial-dev", defaultConfig.Radio.Serial.Device, "Serial device of the radio dongle.")
	flag.StringVar(&defaultConfig.Settings.File, "settings-file", defaultConfig.Settings.File, "File persisting runtime settings.")
	flag.StringVar(&defaultConfig.HTTP.Addr, "http-addr", defaultConfig.HTTP.Addr, "HTTP listen address.")
	flag.BoolVar(&defaultConfig.MDNS.Enabled, "mdns", defaultConfig.MDNS.Enabled, "Advertise the HTTP service over mDNS.")
	flag.Func("envelope", "MQTT payload envelope: raw, json or protobuf.", func(s string) error {
		defaultConfig.MQTT.Envelope = Format(s)
		return nil
	})
}

// Default gets the default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates a Config from the defaults and the config file, if any.
func NewConfig() (*Config, error) {
	conf := defaultConfig
	if conf.File != "" {
		if err := conf.Load(conf.File); err != nil {
			return nil, err
		}
	}
	if conf.ID == "" {
		conf.ID = env.GatewayID()
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return &conf, nil
}

// MustNewConfig is NewConfig which fails on error.
func MustNewConfig() *Config {
	conf, err := NewConfig()
	if err != nil {
		log.Fatalln(err)
	}
	return conf
}

// Load overlays the YAML file at path.
func (c *Config) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}
	c.File = path
	return nil
}

// Validate checks the configuration without changing it.
func (c *Config) Validate() error {
	switch c.Radio.Driver {
	case RadioUDP:
		if _, err := radio.ParseAddr(c.Radio.Addr); err != nil {
			return fmt.Errorf("radio.addr: %w", err)
		}
	case RadioSerial:
		if c.Radio.Serial.Device == "" {
			return fmt.Errorf("radio.serial.device required")
		}
	default:
		return fmt.Errorf("unknown radio driver %q", c.Radio.Driver)
	}
	if c.Settings.File == "" {
		return fmt.Errorf("settings.file required")
	}
	for key := range c.Settings.Defaults {
		if _, ok := settings.Lookup(key); !ok {
			return fmt.Errorf("settings.defaults: %w: %s", settings.ErrUnknownKey, key)
		}
	}
	if !c.MQTT.Envelope.Valid() {
		return fmt.Errorf("unknown mqtt.envelope %q", c.MQTT.Envelope)
	}
	if c.Transport.QueueSize < 0 || c.Transport.PoolSize < 0 {
		return fmt.Errorf("transport sizes must not be negative")
	}
	return nil
}

// NewDriver creates the configured radio driver.
func (c *Config) NewDriver() (radio.Driver, error) {
	switch c.Radio.Driver {
	case RadioUDP:
		addr, err := radio.ParseAddr(c.Radio.Addr)
		if err != nil {
			return nil, err
		}
		return udp.New(udp.Config{Addr: addr, Group: c.Radio.UDP.Group, Interface: c.Radio.UDP.Interface}), nil
	case RadioSerial:
		return serial.New(c.Radio.Serial), nil
	default:
		return nil, fmt.Errorf("unknown radio driver %q", c.Radio.Driver)
	}
}

// mdnsConfig returns the advertisement config for the HTTP port.
func (c *Config) mdnsConfig(port int) discovery.Config {
	instance := c.MDNS.Instance
	if instance == "" {
		instance = c.ID
	}
	return discovery.Config{
		Instance:  instance,
		Interface: c.MDNS.Interface,
		Port:      port,
		TXT:       map[string]string{"id": c.ID, "path": "/"},
	}
}
