package config

import (
	"errors"
	"fmt"
	"net"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/bilbercode/rtsp-relay/internal/rtsp/transport"
)

const (
	DefaultRTSPPort     = 4554
	DefaultStartUDPPort = 5550
	DefaultLANNetwork   = "192.168.0.0/16"
	DefaultWebLimit     = 2
)

// Config is the relay configuration file.
type Config struct {
	RTSPPort       int      `yaml:"rtsp_port"`
	StartUDPPort   int      `yaml:"start_udp_port"`
	LocalIP        string   `yaml:"local_ip"`
	LANNetwork     string   `yaml:"lan_network"`
	WebLimit       *int     `yaml:"web_limit"`
	LogFile        string   `yaml:"log_file"`
	MetricsAddress string   `yaml:"metrics_address"`
	Cameras        []Camera `yaml:"cameras"`
}

// Camera is one upstream camera. Its position in Config.Cameras decides its
// UDP port block.
type Camera struct {
	ID  string `yaml:"id"`
	URL string `yaml:"url"`
}

// Load reads, defaults and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.RTSPPort == 0 {
		c.RTSPPort = DefaultRTSPPort
	}
	if c.StartUDPPort == 0 {
		c.StartUDPPort = DefaultStartUDPPort
	}
	if c.LANNetwork == "" {
		c.LANNetwork = DefaultLANNetwork
	}
	if c.WebLimit == nil {
		limit := DefaultWebLimit
		c.WebLimit = &limit
	}
}

func (c *Config) Validate() error {
	if c.RTSPPort < 1 || c.RTSPPort > 65535 {
		return fmt.Errorf("rtsp_port must be between 1 and 65535, got %d", c.RTSPPort)
	}
	if c.StartUDPPort < 1 || c.StartUDPPort > 65535 {
		return fmt.Errorf("start_udp_port must be between 1 and 65535, got %d", c.StartUDPPort)
	}
	if c.LocalIP != "" && net.ParseIP(c.LocalIP) == nil {
		return fmt.Errorf("local_ip %q is not an IP address", c.LocalIP)
	}
	if _, _, err := net.ParseCIDR(c.LANNetwork); err != nil {
		return fmt.Errorf("lan_network: %w", err)
	}
	if c.WebLimit != nil && *c.WebLimit < 0 {
		return fmt.Errorf("web_limit cannot be negative, got %d", *c.WebLimit)
	}

	if len(c.Cameras) == 0 {
		return errors.New("at least one camera is required")
	}
	last := c.StartUDPPort + len(c.Cameras)*transport.PortsPerCamera - 1
	if last > 65535 {
		return fmt.Errorf("%d cameras from start_udp_port %d need ports up to %d", len(c.Cameras), c.StartUDPPort, last)
	}

	seen := make(map[string]bool, len(c.Cameras))
	for i, camera := range c.Cameras {
		if err := camera.Validate(); err != nil {
			return fmt.Errorf("camera %d: %w", i, err)
		}
		if seen[camera.ID] {
			return fmt.Errorf("camera %d: duplicate id %q", i, camera.ID)
		}
		seen[camera.ID] = true
	}
	return nil
}

func (c *Camera) Validate() error {
	if c.ID == "" {
		return errors.New("id cannot be empty")
	}
	if _, err := ParseAddress(c.URL); err != nil {
		return err
	}
	return nil
}

// Limit returns the web viewer limit, zero meaning unlimited.
func (c *Config) Limit() int {
	if c.WebLimit == nil {
		return 0
	}
	return *c.WebLimit
}

// Network returns the parsed LAN network.
func (c *Config) Network() *net.IPNet {
	_, network, err := net.ParseCIDR(c.LANNetwork)
	if err != nil {
		return nil
	}
	return network
}

// Known reports whether id is a configured camera.
func (c *Config) Known(id string) bool {
	for _, camera := range c.Cameras {
		if camera.ID == id {
			return true
		}
	}
	return false
}

// AdvertisedIP returns local_ip, or the address the hostname resolves to
// when it is unset.
func (c *Config) AdvertisedIP() (net.IP, error) {
	if c.LocalIP != "" {
		return net.ParseIP(c.LocalIP), nil
	}
	return DetectLocalIP()
}

// DetectLocalIP resolves the hostname to its first IPv4 address.
func DetectLocalIP() (net.IP, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("failed to read hostname: %w", err)
	}
	addrs, err := net.LookupIP(hostname)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve hostname %s: %w", hostname, err)
	}
	for _, addr := range addrs {
		if v4 := addr.To4(); v4 != nil {
			return v4, nil
		}
	}
	return nil, fmt.Errorf("hostname %s has no IPv4 address", hostname)
}
