package config

import (
	"github.com/BurntSushi/toml"
)

// Config is the root of the gateway configuration file.
type Config struct {
	Logger LogConf    // Logger - logging configuration.
	Serial SerialConf // Serial - RS-485 port configuration.
	ArtNet ArtNetConf `toml:"artnet"` // ArtNet - network-facing node configuration.
	DMX    DMXConf    `toml:"dmx"`    // DMX - output scheduler configuration.
	RDM    RDMConf    `toml:"rdm"`    // RDM - transaction engine / discovery configuration.
	MQTT   MQTTConf   `toml:"mqtt"`   // MQTT - optional device publisher.
}

// LogConf configures the logger.
type LogConf struct {
	Level string `toml:"log-level"` // Level - logging level.
}

// SerialConf configures the RS-485 serial port.
type SerialConf struct {
	Device string `toml:"device"` // Device - serial device path.
	Baud   int    `toml:"baud"`   // Baud - DMX-512 runs at 250 kBd.
}

// ArtNetConf configures the UDP node.
type ArtNetConf struct {
	Network   string `toml:"network"`    // Network - CIDR the node interface lives on.
	Universe  uint16 `toml:"universe"`   // Universe - the single output universe served.
	ShortName string `toml:"short-name"` // ShortName - reported in ArtPollReply (max 17 chars).
	LongName  string `toml:"long-name"`  // LongName - reported in ArtPollReply (max 63 chars).
}

// DMXConf configures the frame scheduler.
type DMXConf struct {
	Rate int `toml:"rate"` // Rate - target refresh rate in Hz (1-44).
}

// RDMConf configures transaction timeouts and background discovery.
type RDMConf struct {
	TimeoutMs           int `toml:"timeout-ms"`            // TimeoutMs - per-attempt response timeout.
	Retries             int `toml:"retries"`               // Retries - extra attempts after the first send.
	DiscoveryIntervalMs int `toml:"discovery-interval-ms"` // DiscoveryIntervalMs - background discovery period.
	ProbeTimeoutMs      int `toml:"probe-timeout-ms"`      // ProbeTimeoutMs - per discovery probe response window.
}

// MQTTConf configures the optional TOD publisher.
type MQTTConf struct {
	Enabled  bool   `toml:"enabled"`  // Enabled - publisher is off unless set.
	ClientID string `toml:"clientID"` // ClientID - client name.
	Host     string `toml:"server"`   // Host - MQTT broker address.
	Port     string `toml:"port"`     // Port - MQTT broker port.
	User     string `toml:"user"`     // User - broker login.
	Password string `toml:"password"` // Password - broker password.
	Topic    string `toml:"topic"`    // Topic - where discovered devices are published.
}

// NewConfig loads the configuration file, applying defaults first.
func NewConfig(path string) (*Config, error) {
	cfg := Config{
		Logger: LogConf{Level: "info"},
		Serial: SerialConf{Device: "/dev/ttyUSB0", Baud: 250000},
		ArtNet: ArtNetConf{
			Network:   "10.0.0.0/24",
			Universe:  0,
			ShortName: "ArtNet Node",
			LongName:  "artnet2dmx USB-LAN ArtNet Node",
		},
		DMX: DMXConf{Rate: 40},
		RDM: RDMConf{
			TimeoutMs:           100,
			Retries:             2,
			DiscoveryIntervalMs: 10000,
			ProbeTimeoutMs:      30,
		},
		MQTT: MQTTConf{Topic: "artnet2dmx/tod"},
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return &cfg, err
	}
	return &cfg, nil
}
