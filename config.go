package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	env "github.com/caarlos0/env/v11"
	"github.com/horgh/config"
)

// Config holds a server's configuration.
type Config struct {
	ListenHost string
	ListenPort string

	// Path of the SQLite database file.
	DBPath string

	// Password peer servers authenticate with.
	LinkPassword string

	// Address of the toxicity scoring service. Blank disables scoring.
	AIAddr string

	// Address for the Prometheus listener. Blank disables it.
	MetricsAddr string

	LogLevel string

	// How long a write to a peer may take before we give it up for dead.
	IOWait time.Duration

	// Server name to its link information.
	Servers map[string]ServerDefinition
}

// ServerDefinition defines how to link to a peer server.
type ServerDefinition struct {
	Name     string
	Hostname string
	Port     int
	Pass     string
}

// envOverrides are applied on top of the config file. Useful in containers.
type envOverrides struct {
	ListenHost   string `env:"PARLEY_LISTEN_HOST"`
	ListenPort   string `env:"PARLEY_LISTEN_PORT"`
	DBPath       string `env:"PARLEY_DB_PATH"`
	LinkPassword string `env:"PARLEY_LINK_PASSWORD"`
	AIAddr       string `env:"PARLEY_AI_ADDR"`
	MetricsAddr  string `env:"PARLEY_METRICS_ADDR"`
	LogLevel     string `env:"PARLEY_LOG_LEVEL"`
}

// checkAndParseConfig checks configuration keys are present and in an
// acceptable format.
//
// We parse some values into alternate representations.
func checkAndParseConfig(file string) (*Config, error) {
	configMap, err := config.ReadStringMap(file)
	if err != nil {
		return nil, err
	}

	requiredKeys := []string{
		"listen-host",
		"listen-port",
		"db-path",
		"link-password",
	}

	// Check each key we want is present and non-blank.
	for _, key := range requiredKeys {
		v, exists := configMap[key]
		if !exists {
			return nil, fmt.Errorf("missing required key: %s", key)
		}

		if len(v) == 0 {
			return nil, fmt.Errorf("configuration value is blank: %s", key)
		}
	}

	c := &Config{
		ListenHost:   configMap["listen-host"],
		ListenPort:   configMap["listen-port"],
		DBPath:       configMap["db-path"],
		LinkPassword: configMap["link-password"],
		AIAddr:       configMap["ai-addr"],
		MetricsAddr:  configMap["metrics-addr"],
		LogLevel:     configMap["log-level"],
		IOWait:       30 * time.Second,
		Servers:      make(map[string]ServerDefinition),
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	if v, exists := configMap["io-wait"]; exists && len(v) > 0 {
		c.IOWait, err = time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("io-wait is in invalid format: %s", err)
		}
	}

	if v, exists := configMap["servers-config"]; exists && len(v) > 0 {
		servers, err := config.ReadStringMap(v)
		if err != nil {
			return nil, fmt.Errorf("unable to load servers config: %s", err)
		}

		for name, def := range servers {
			link, err := parseLink(name, def)
			if err != nil {
				return nil, fmt.Errorf("malformed server link information: %s: %s",
					name, err)
			}
			c.Servers[name] = link
		}
	}

	if err := c.applyEnv(); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Config) applyEnv() error {
	var ov envOverrides
	if err := env.Parse(&ov); err != nil {
		return fmt.Errorf("environment overrides: %s", err)
	}

	if ov.ListenHost != "" {
		c.ListenHost = ov.ListenHost
	}
	if ov.ListenPort != "" {
		c.ListenPort = ov.ListenPort
	}
	if ov.DBPath != "" {
		c.DBPath = ov.DBPath
	}
	if ov.LinkPassword != "" {
		c.LinkPassword = ov.LinkPassword
	}
	if ov.AIAddr != "" {
		c.AIAddr = ov.AIAddr
	}
	if ov.MetricsAddr != "" {
		c.MetricsAddr = ov.MetricsAddr
	}
	if ov.LogLevel != "" {
		c.LogLevel = ov.LogLevel
	}

	return nil
}

// parseLink parses the value side of a server definition from the servers
// config. Format:
// <hostname>,<port>,<password>
func parseLink(name, s string) (ServerDefinition, error) {
	pieces := strings.Split(s, ",")
	if len(pieces) != 3 {
		return ServerDefinition{}, fmt.Errorf("unexpected number of fields")
	}

	hostname := strings.TrimSpace(pieces[0])
	if len(hostname) == 0 {
		return ServerDefinition{}, fmt.Errorf("you must specify a hostname")
	}

	port, err := strconv.ParseInt(strings.TrimSpace(pieces[1]), 10, 32)
	if err != nil {
		return ServerDefinition{}, fmt.Errorf("invalid port: %s: %s", pieces[1], err)
	}

	pass := strings.TrimSpace(pieces[2])
	if len(pass) == 0 {
		return ServerDefinition{}, fmt.Errorf("you must specify a password")
	}

	return ServerDefinition{
		Name:     name,
		Hostname: hostname,
		Port:     int(port),
		Pass:     pass,
	}, nil
}
