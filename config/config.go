// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package config loads the lab configuration file. The file names
// the environment under test, the service discovery locator for the
// lock service, the roles exempt from locking, and an optional
// static equipment inventory.
package config

import (
	"os"

	"github.com/juju/errors"
	"gopkg.in/yaml.v2"

	"github.com/juju/testlab/environment"
	"github.com/juju/testlab/facts"
	"github.com/juju/testlab/locker"
)

// InventoryEntry is one location hosting a role in the static
// inventory section of the configuration file.
type InventoryEntry struct {
	Hostname string            `yaml:"hostname"`
	Facts    map[string]string `yaml:"facts,omitempty"`
}

// Config is the parsed lab configuration.
type Config struct {
	// Environment is the name of the environment under test.
	// Defaults to the anonymous environment.
	Environment string `yaml:"environment,omitempty"`

	// DiscoverySrv locates the lock service, ready to hand to a
	// locker constructor. Empty means no lock service is available
	// and locking is skipped.
	DiscoverySrv locker.Locator `yaml:"discovery-srv,omitempty"`

	// Neverlock lists role names exempt from distributed locking.
	Neverlock []string `yaml:"neverlock,omitempty"`

	// Environments is a static inventory: environment name to role
	// name to hosting locations. Optional; most deployments use an
	// external provider instead.
	Environments map[string]map[string][]InventoryEntry `yaml:"environments,omitempty"`
}

// Load reads and parses the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Annotate(err, "reading lab config")
	}
	cfg, err := Parse(data)
	return cfg, errors.Trace(err)
}

// Parse parses configuration file content.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Annotate(err, "parsing lab config")
	}
	if cfg.Environment == "" {
		cfg.Environment = environment.Anonymous
	}
	for envName, envView := range cfg.Environments {
		for role, entries := range envView {
			for _, entry := range entries {
				if entry.Hostname == "" {
					return nil, errors.NotValidf(
						"entry for role %q in environment %q without hostname", role, envName)
				}
			}
		}
	}
	return &cfg, nil
}

// StaticProvider returns a provider serving the inventory embedded
// in the configuration file.
func (c *Config) StaticProvider() environment.Provider {
	return environment.ProviderFunc(func(name string) (map[string][]environment.Descriptor, error) {
		view := make(map[string][]environment.Descriptor)
		for role, entries := range c.Environments[name] {
			descriptors := make([]environment.Descriptor, len(entries))
			for i, entry := range entries {
				descriptors[i] = environment.Descriptor{
					Hostname: entry.Hostname,
					Facts:    facts.Facts(entry.Facts),
				}
			}
			view[role] = descriptors
		}
		return view, nil
	})
}
