package config

import (
	"fmt"
	"net"
	"strconv"
)

// ConfigProvider defines the interface for configuration data sources
type ConfigProvider interface {
	// Load complete configuration
	LoadConfig() (*ConfigData, error)

	// Source describes where the configuration was read from
	Source() string
	Close() error
}

// ConfigData represents the complete configuration structure
type ConfigData struct {
	DBURL   string      `koanf:"db_url" json:"db_url"`
	Server  ServerData  `koanf:"server" json:"server"`
	Session SessionData `koanf:"session" json:"session"`
	Log     LogData     `koanf:"log" json:"log"`
}

// ServerData holds the configuration of the HTTP and gRPC listener
type ServerData struct {
	ListenAddr  string `koanf:"listen_addr" json:"listen_addr"`
	Port        int    `koanf:"port" json:"port"`
	TLSCertPath string `koanf:"tls_cert_path" json:"tls_cert_path,omitempty"`
	TLSKeyPath  string `koanf:"tls_key_path" json:"tls_key_path,omitempty"`
	// Token protects the API. When empty a random one is generated at
	// startup and printed in the start URL.
	Token       string `koanf:"token" json:"-"`
	NoAuth      bool   `koanf:"no_auth" json:"no_auth"`
	GRPCEnabled bool   `koanf:"grpc_enabled" json:"grpc_enabled"`
	Metrics     bool   `koanf:"metrics" json:"metrics"`
}

// SessionData holds explorer session settings
type SessionData struct {
	// DataLimit caps get_data results. Negative means no limit.
	DataLimit int `koanf:"data_limit" json:"data_limit"`
}

// LogData controls logging verbosity
type LogData struct {
	Debug   bool   `koanf:"debug" json:"debug"`
	Verbose bool   `koanf:"verbose" json:"verbose"`
	File    string `koanf:"file" json:"file,omitempty"`
}

// Defaults returns the configuration used when nothing else is set.
func Defaults() map[string]any {
	return map[string]any{
		"db_url":              "",
		"server.listen_addr":  "localhost",
		"server.port":         5000,
		"server.grpc_enabled": true,
		"server.metrics":      true,
		"session.data_limit":  20,
		"log.debug":           false,
		"log.verbose":         false,
		"log.file":            "",
	}
}

// Addr returns the host:port the server listens on.
func (s ServerData) Addr() string {
	return net.JoinHostPort(s.ListenAddr, strconv.Itoa(s.Port))
}

// TLSEnabled reports whether both TLS files are configured.
func (s ServerData) TLSEnabled() bool {
	return s.TLSCertPath != "" && s.TLSKeyPath != ""
}

// Validate checks the configuration for values the server cannot use.
func (c *ConfigData) Validate() error {
	if c.DBURL == "" {
		return fmt.Errorf("db_url is required")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if (c.Server.TLSCertPath == "") != (c.Server.TLSKeyPath == "") {
		return fmt.Errorf("server.tls_cert_path and server.tls_key_path must be set together")
	}
	return nil
}
