// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package config defines the engine's configuration. A configuration
// is a small YAML document whose keys configure the scheduler backend
// (worker count, token pool size) and the execution policy (ordering,
// log level). Configurations merge, so a distribution can layer a
// base document under user overrides; environment variables provide
// a final override layer for deployments that cannot ship files.
package config

import (
	"os"
	"strconv"

	"github.com/grailbio/taskdist/errors"
	"github.com/grailbio/taskdist/log"
	yaml "gopkg.in/yaml.v2"
)

// Environment variables overriding configuration keys.
const (
	EnvWorkers  = "TASKDIST_WORKERS"
	EnvTokens   = "TASKDIST_TOKENS"
	EnvOrdering = "TASKDIST_ORDERING"
	EnvLogLevel = "TASKDIST_LOGLEVEL"
)

// Config stores engine configuration. Configs modulate scheduler and
// policy behavior.
type Config struct {
	// Workers is the number of scheduler workers per run. Zero means
	// one per CPU.
	Workers int `yaml:"workers,omitempty"`
	// Tokens is the capacity of a node's admission token pool.
	Tokens int `yaml:"tokens,omitempty"`
	// Ordering tells whether pipelines request ordered delivery.
	// Ordering is advisory: the engine carries order metadata but
	// does not reorder items.
	Ordering bool `yaml:"ordering,omitempty"`
	// LogLevel is one of "off", "error", "info", "debug".
	LogLevel string `yaml:"loglevel,omitempty"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Tokens:   64,
		LogLevel: "info",
	}
}

// IsZero tells whether every field of this config is the zero value.
func (c Config) IsZero() bool { return c == Config{} }

// Merge merges config d into config c: nonzero fields of d override
// the corresponding fields of c.
func (c *Config) Merge(d Config) {
	if d.Workers != 0 {
		c.Workers = d.Workers
	}
	if d.Tokens != 0 {
		c.Tokens = d.Tokens
	}
	c.Ordering = c.Ordering || d.Ordering
	if d.LogLevel != "" {
		c.LogLevel = d.LogLevel
	}
}

// Parse parses a YAML configuration document.
func Parse(b []byte) (Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return Config{}, errors.E("config.parse", errors.Invalid, err)
	}
	if _, err := c.Level(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Marshal renders the configuration as a YAML document.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// FromEnv returns a copy of c with any environment overrides
// applied.
func FromEnv(c Config) (Config, error) {
	if v := os.Getenv(EnvWorkers); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, errors.E("config.env", EnvWorkers, errors.Invalid, err)
		}
		c.Workers = n
	}
	if v := os.Getenv(EnvTokens); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, errors.E("config.env", EnvTokens, errors.Invalid, err)
		}
		c.Tokens = n
	}
	if v := os.Getenv(EnvOrdering); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, errors.E("config.env", EnvOrdering, errors.Invalid, err)
		}
		c.Ordering = b
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	return c, nil
}

// Level resolves the configuration's log level.
func (c Config) Level() (log.Level, error) {
	switch c.LogLevel {
	case "", "info":
		return log.InfoLevel, nil
	case "off":
		return log.OffLevel, nil
	case "error":
		return log.ErrorLevel, nil
	case "debug":
		return log.DebugLevel, nil
	default:
		return 0, errors.E("config.level", c.LogLevel, errors.Invalid, errors.New("unknown log level"))
	}
}
