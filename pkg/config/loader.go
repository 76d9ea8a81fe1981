package config

import (
	"fmt"

	"github.com/caarlos0/env/v10"
)

// Load fills cfg from environment variables using its `env` struct tags.
// prefix, when non-empty, is prepended to every variable name.
func Load(cfg any, prefix ...string) error {
	opts := env.Options{}
	if len(prefix) > 0 {
		opts.Prefix = prefix[0]
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}
