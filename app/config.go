package main

import (
	"os"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// Config is the server configuration. Values come from an optional YAML file
// with command line flags taking precedence for anything set explicitly.
type Config struct {
	Addr          string `yaml:"addr"`
	ScriptDir     string `yaml:"script_dir"`
	Passfile      string `yaml:"passfile"`
	ForceJSON     bool   `yaml:"force_json"`
	ExecTimeout   string `yaml:"exec_timeout"`
	MaxConcurrent int    `yaml:"max_concurrent"`
	TLSCert       string `yaml:"tls_cert"`
	TLSKey        string `yaml:"tls_key"`

	execTimeout time.Duration `yaml:"-"`
}

func defaultConfig() *Config {
	return &Config{
		Addr:          ":8080",
		ExecTimeout:   "60s",
		MaxConcurrent: 64,
		execTimeout:   60 * time.Second,
	}
}

func loadConfig(filename string) (*Config, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)

	config := defaultConfig()
	if err := dec.Decode(config); err != nil {
		return nil, err
	}

	return config, nil
}
