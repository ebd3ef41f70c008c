package report

import (
	"errors"
	"net"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config defines the configuration for the reporting manager
type Config struct {
	// Service identification
	Namespace   string
	Subsystem   string
	ServiceName string

	// Remote write configuration. Without a URL nothing is written.
	RemoteWriteURL      string
	RemoteWriteInterval time.Duration

	// LogDump logs a dump of every registered tree on each tick
	LogDump bool

	// Instance information
	InstanceIP   string
	InstanceID   string // defaults to a random UUID
	Version      string
	CustomLabels map[string]string

	// Optional logger
	Logger *zap.Logger

	// DNS resolver options for the remote write host
	DNSEnable          bool
	DNSCacheTTL        time.Duration
	DNSRefreshInterval time.Duration
	DNSTimeout         time.Duration
	DNSUDPServers      []string // e.g. ["1.1.1.1:53", "8.8.8.8:53"]
	DNSTLSServers      []string // e.g. ["1.1.1.1:853", "9.9.9.9:853"]
	DNSDoHEndpoints    []string // e.g. ["https://cloudflare-dns.com/dns-query"]
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	ip, _ := OutboundIPv4()
	return Config{
		Namespace:           "app",
		Subsystem:           "slotstat",
		ServiceName:         "service",
		RemoteWriteInterval: 15 * time.Second,
		InstanceIP:          ip,
		InstanceID:          uuid.NewString(),
		CustomLabels:        make(map[string]string),
	}
}

// Check validates the config
func (c *Config) Check() error {
	if c.ServiceName == "" {
		return errors.New("report: service name cannot be empty")
	}
	if c.RemoteWriteInterval < 0 {
		return errors.New("report: remote write interval must be positive")
	}
	return nil
}

// OutboundIPv4 gets the outbound IPv4 address of the local machine. No
// packet is sent; dialing UDP only selects a route.
func OutboundIPv4() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String(), nil
}

func pickDuration(v time.Duration, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}
