package main

import (
	"fmt"
	"time"
)

// validateConfig ensures the Config contains sane values before use. It also
// resolves the parsed exec timeout.
func validateConfig(c *Config) error {
	if c.ScriptDir == "" {
		return fmt.Errorf("script_dir is required")
	}
	if c.ExecTimeout != "" {
		d, err := time.ParseDuration(c.ExecTimeout)
		if err != nil || d <= 0 {
			return fmt.Errorf("invalid exec_timeout %q", c.ExecTimeout)
		}
		c.execTimeout = d
	}
	if c.MaxConcurrent <= 0 {
		return fmt.Errorf("max_concurrent must be > 0")
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		return fmt.Errorf("both tls_cert and tls_key must be provided")
	}
	return nil
}
