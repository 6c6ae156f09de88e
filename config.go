package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	// BindAddress is the address the server listens on (e.g. "0.0.0.0:8080")
	BindAddress string `yaml:"bind_address"`
	// SerialPort is the path to the modem's serial port (e.g. "/dev/ttyUSB0")
	SerialPort string `yaml:"serial_port"`
	// BaudRate is the baud rate for serial communication with the modem (e.g. 115200)
	BaudRate int `yaml:"baud_rate"`
	// LogLevel sets the logging level (e.g. "debug", "info", "warn", "error")
	LogLevel string `yaml:"log_level"`
	// SimPIN is the SIM card PIN code
	SimPIN string `yaml:"sim_pin"`
	// Vendor selects the modem family by name ("generic", "cinterion",
	// "linktop", "sierra"). Empty selects by VendorID.
	Vendor string `yaml:"vendor"`
	// VendorID is the USB vendor ID of the modem (e.g. 0x1e2d)
	VendorID uint16 `yaml:"vendor_id"`
	// ATTimeout is the default reply timeout of AT commands
	ATTimeout time.Duration `yaml:"at_timeout"`
	// MQTT configures the optional event publisher
	MQTT MQTTConfig `yaml:"mqtt"`
}

// MQTTConfig holds the MQTT settings. MQTT is disabled without a broker.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// EventTopic prefixes the message event topics
	EventTopic string `yaml:"event_topic"`
	// SendTopic receives send requests
	SendTopic string `yaml:"send_topic"`
}

// ConfigOption is a function that modifies a Config
type ConfigOption func(*Config) error

// LoadConfig creates a new config by applying the given options in order
func LoadConfig(opts ...ConfigOption) (*Config, error) {
	config := &Config{}

	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, err
		}
	}

	return config, nil
}

// WithDefaults applies default configuration values
func WithDefaults() ConfigOption {
	return func(c *Config) error {
		c.BindAddress = "0.0.0.0:8080"
		c.SerialPort = "/dev/ttyUSB0"
		c.BaudRate = 115200
		c.LogLevel = "info"
		c.ATTimeout = 5 * time.Second
		c.MQTT.ClientID = "modemd"
		c.MQTT.EventTopic = "modemd/messages"
		c.MQTT.SendTopic = "modemd/send"
		return nil
	}
}

// WithFile loads configuration from a YAML file. Keys missing from the
// file keep their current value. An empty path is ignored.
func WithFile(path string) ConfigOption {
	return func(c *Config) error {
		if path == "" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse config file %s: %w", path, err)
		}
		return nil
	}
}

// WithEnv loads configuration from environment variables
func WithEnv() ConfigOption {
	return func(c *Config) error {
		if addr := os.Getenv("BIND_ADDRESS"); addr != "" {
			c.BindAddress = addr
		}

		if serial := os.Getenv("SERIAL_PORT"); serial != "" {
			c.SerialPort = serial
		}

		if baud := os.Getenv("BAUD_RATE"); baud != "" {
			if b, err := strconv.Atoi(baud); err == nil {
				c.BaudRate = b
			}
		}

		if level := os.Getenv("LOG_LEVEL"); level != "" {
			c.LogLevel = level
		}

		if simPIN := os.Getenv("SIM_PIN"); simPIN != "" {
			c.SimPIN = simPIN
		}

		if vendor := os.Getenv("MODEM_VENDOR"); vendor != "" {
			c.Vendor = vendor
		}

		if id := os.Getenv("MODEM_VENDOR_ID"); id != "" {
			if v, err := parseVendorID(id); err == nil {
				c.VendorID = v
			}
		}

		if timeout := os.Getenv("AT_TIMEOUT"); timeout != "" {
			if d, err := time.ParseDuration(timeout); err == nil {
				c.ATTimeout = d
			}
		}

		if broker := os.Getenv("MQTT_BROKER"); broker != "" {
			c.MQTT.Broker = broker
		}

		if clientID := os.Getenv("MQTT_CLIENT_ID"); clientID != "" {
			c.MQTT.ClientID = clientID
		}

		if user := os.Getenv("MQTT_USERNAME"); user != "" {
			c.MQTT.Username = user
		}

		if pass := os.Getenv("MQTT_PASSWORD"); pass != "" {
			c.MQTT.Password = pass
		}

		return nil
	}
}

// WithFlags loads configuration from command-line flags
func WithFlags(fSet *flag.FlagSet) ConfigOption {
	return func(c *Config) error {
		var err error
		fSet.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "bind-address":
				c.BindAddress = f.Value.String()
			case "serial-port":
				c.SerialPort = f.Value.String()
			case "baud-rate":
				if b, err := strconv.Atoi(f.Value.String()); err == nil {
					c.BaudRate = b
				}
			case "log-level":
				c.LogLevel = f.Value.String()
			case "sim-pin":
				c.SimPIN = f.Value.String()
			case "vendor":
				c.Vendor = f.Value.String()
			case "vendor-id":
				v, perr := parseVendorID(f.Value.String())
				if perr != nil {
					err = perr
					return
				}
				c.VendorID = v
			case "at-timeout":
				if d, perr := time.ParseDuration(f.Value.String()); perr == nil {
					c.ATTimeout = d
				}
			case "mqtt-broker":
				c.MQTT.Broker = f.Value.String()
			}
		})
		return err
	}
}

// parseVendorID accepts decimal or 0x-prefixed hexadecimal IDs.
func parseVendorID(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid vendor ID %q: %w", s, err)
	}
	return uint16(v), nil
}
