// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads gateway settings from defaults, an optional config
// file, a .env file, the environment and command line flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g.
// OPCUA_GW_LISTEN or OPCUA_GW_PUSH_BUFFER.
const EnvPrefix = "OPCUA_GW"

// Config holds all gateway settings.
type Config struct {
	Listen          string        `mapstructure:"listen"`
	CertDir         string        `mapstructure:"cert_dir"`
	ApplicationURI  string        `mapstructure:"application_uri"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	Timeouts        Timeouts      `mapstructure:"timeouts"`
	Log             Log           `mapstructure:"log"`
	Push            Push          `mapstructure:"push"`
	NATS            NATS          `mapstructure:"nats"`
}

// Timeouts bound calls into the OPC UA server.
type Timeouts struct {
	Request   time.Duration `mapstructure:"request"`
	Connect   time.Duration `mapstructure:"connect"`
	Discovery time.Duration `mapstructure:"discovery"`
}

// Log selects the log handler.
type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Push configures WebSocket delivery of change events.
type Push struct {
	Group          string        `mapstructure:"group"`
	Buffer         int           `mapstructure:"buffer"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	AllowAnyOrigin bool          `mapstructure:"allow_any_origin"`
}

// NATS configures the optional mirror of change events. An empty URL
// disables it.
type NATS struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

// SetDefaults registers the default value of every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("listen", ":8000")
	v.SetDefault("cert_dir", "certificates")
	v.SetDefault("application_uri", "urn:edgeo:gateway:client")
	v.SetDefault("shutdown_timeout", 10*time.Second)
	v.SetDefault("timeouts.request", 10*time.Second)
	v.SetDefault("timeouts.connect", 15*time.Second)
	v.SetDefault("timeouts.discovery", 10*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("push.group", "opcua_updates")
	v.SetDefault("push.buffer", 64)
	v.SetDefault("push.ping_interval", 30*time.Second)
	v.SetDefault("push.write_timeout", 10*time.Second)
	v.SetDefault("push.allow_any_origin", true)
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject", "opcua.updates")
}

// NewViper returns a viper instance with defaults and environment binding
// set up. A non-empty configFile is read as well.
func NewViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}
	return v, nil
}

// LoadEnvFile loads variables from a .env file into the process
// environment without overriding variables already set. A missing default
// file is not an error; a missing explicit file is.
func LoadEnvFile(path string) error {
	explicit := path != ""
	if !explicit {
		path = ".env"
	}

	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// Load decodes and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the gateway cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Listen == "" {
		errs = append(errs, errors.New("listen address is required"))
	}
	if c.Push.Group == "" {
		errs = append(errs, errors.New("push.group is required"))
	}
	if c.Push.Buffer <= 0 {
		errs = append(errs, fmt.Errorf("push.buffer must be positive, got %d", c.Push.Buffer))
	}
	if c.Push.PingInterval <= 0 {
		errs = append(errs, fmt.Errorf("push.ping_interval must be positive, got %s", c.Push.PingInterval))
	}
	for name, d := range map[string]time.Duration{
		"timeouts.request":   c.Timeouts.Request,
		"timeouts.connect":   c.Timeouts.Connect,
		"timeouts.discovery": c.Timeouts.Discovery,
		"shutdown_timeout":   c.ShutdownTimeout,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s cannot be negative, got %s", name, d))
		}
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format: %s", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
