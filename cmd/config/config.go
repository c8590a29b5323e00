// Package config provides a thin CLI-scoped wrapper around the shared
// configuration loader in pkg/config, so command-line entry points and
// their tests don't reach into the package-level AppConfig directly.
package config

import (
	pkgconfig "github.com/calimero-network/core/pkg/config"
)

// AppConfig holds the currently loaded configuration for command line
// utilities. It mirrors pkg/config.AppConfig but is scoped to this
// package for convenience when writing CLI tools and tests.
var AppConfig pkgconfig.Config

// LoadConfig loads the configuration for the given environment overlay
// and stores it in AppConfig. Any errors during loading cause a panic,
// which is acceptable for command line initialization where failure
// should abort execution before a node starts.
func LoadConfig(env string) {
	cfg, err := pkgconfig.Load(env)
	if err != nil {
		panic(err)
	}
	AppConfig = *cfg
}
