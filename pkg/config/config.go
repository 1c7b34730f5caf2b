package config

import (
	"crypto/tls"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	TransportStdio          = "stdio"
	TransportStreamableHTTP = "streamable-http"
)

type Config struct {
	MCPServer      *MCPServer    `yaml:"mcp-server,omitempty" json:"mcp-server,omitempty"`
	DeviceFile     string        `yaml:"device-mapping,omitempty" json:"device-mapping,omitempty"`
	TokensFile     string        `yaml:"tokens-file,omitempty" json:"tokens-file,omitempty"`
	DefaultTimeout time.Duration `yaml:"default-timeout,omitempty" json:"default-timeout,omitempty"`
}

type MCPServer struct {
	Host      string `yaml:"host,omitempty" json:"host,omitempty"`
	Port      int    `yaml:"port,omitempty" json:"port,omitempty"`
	Transport string `yaml:"transport,omitempty" json:"transport,omitempty"`
	TLS       *TLS   `yaml:"tls,omitempty" json:"tls,omitempty"`
}

type TLS struct {
	Cert string `yaml:"cert,omitempty" json:"cert,omitempty"`
	Key  string `yaml:"key,omitempty" json:"key,omitempty"`
}

func New(file string) (*Config, error) {
	c := new(Config)
	if file != "" {
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		err = yaml.Unmarshal(b, c)
		if err != nil {
			return nil, err
		}
	}
	err := c.validateSetDefaults()
	return c, err
}

func (c *Config) validateSetDefaults() error {
	if c.MCPServer == nil {
		c.MCPServer = &MCPServer{}
	}
	if err := c.MCPServer.validateSetDefaults(); err != nil {
		return err
	}
	if c.DeviceFile == "" {
		c.DeviceFile = defaultDeviceFile
	}
	if c.TokensFile == "" {
		c.TokensFile = defaultTokensFile
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = defaultCommandTimeout
	}
	return nil
}

func (m *MCPServer) validateSetDefaults() error {
	if m.Host == "" {
		m.Host = defaultHost
	}
	if m.Port <= 0 {
		m.Port = defaultPort
	}
	if m.Transport == "" {
		m.Transport = TransportStreamableHTTP
	}
	switch m.Transport {
	case TransportStdio, TransportStreamableHTTP:
	default:
		return fmt.Errorf("unsupported transport %q, use %q or %q", m.Transport, TransportStdio, TransportStreamableHTTP)
	}
	return nil
}

func (t *TLS) NewConfig() (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(t.Cert, t.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS keypair: %w", err)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
}
