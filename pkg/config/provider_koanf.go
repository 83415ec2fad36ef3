package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix is the prefix of environment variables read by KoanfProvider.
// Nested keys use a double underscore: PROVAMI_SERVER__PORT sets server.port.
const EnvPrefix = "PROVAMI_"

// flagKeys maps command line flags to configuration keys.
var flagKeys = map[string]string{
	"db":         "db_url",
	"db-url":     "db_url",
	"listen":     "server.listen_addr",
	"port":       "server.port",
	"tls-cert":   "server.tls_cert_path",
	"tls-key":    "server.tls_key_path",
	"token":      "server.token",
	"no-auth":    "server.no_auth",
	"grpc":       "server.grpc_enabled",
	"metrics":    "server.metrics",
	"data-limit": "session.data_limit",
	"debug":      "log.debug",
	"verbose":    "log.verbose",
	"log-file":   "log.file",
}

// KoanfProvider implements ConfigProvider by layering defaults, a YAML
// file, environment variables and command line flags, in increasing order
// of precedence.
type KoanfProvider struct {
	filename string
	flags    *pflag.FlagSet
	config   *ConfigData
}

// NewKoanfProvider creates a provider reading filename, which may be empty,
// and the flags explicitly set in flags, which may be nil.
func NewKoanfProvider(filename string, flags *pflag.FlagSet) *KoanfProvider {
	return &KoanfProvider{
		filename: filename,
		flags:    flags,
	}
}

// Source describes the configuration file in use.
func (p *KoanfProvider) Source() string {
	if p.filename == "" {
		return "defaults, environment and flags"
	}
	return p.filename
}

// LoadConfig loads and validates the configuration. The result is cached.
func (p *KoanfProvider) LoadConfig() (*ConfigData, error) {
	if p.config != nil {
		return p.config, nil
	}

	k := koanf.New(".")

	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if p.filename != "" {
		if err := k.Load(file.Provider(p.filename), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", p.filename, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if p.flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(p.flags, ".", k, func(f *pflag.Flag) (string, any) {
			// Only load flags that were explicitly set
			if !f.Changed {
				return "", nil
			}
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(p.flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg ConfigData
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p.config = &cfg
	return p.config, nil
}

// envKey transforms PROVAMI_SERVER__PORT into server.port.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Close releases nothing; it satisfies ConfigProvider.
func (p *KoanfProvider) Close() error {
	return nil
}
