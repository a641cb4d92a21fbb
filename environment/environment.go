// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package environment models a named test topology: an immutable
// snapshot mapping role names to the equipment locations that host
// them. Snapshots are assembled from one or more providers; the
// merge precedence across providers is whatever order the caller
// passes them in, which is taken as externally resolved.
package environment

import (
	"sort"

	"github.com/juju/errors"

	"github.com/juju/testlab/facts"
)

// Anonymous is the sentinel environment name used when no environment
// has been configured. An anonymous environment is permitted to be
// empty.
const Anonymous = "anonymous"

// ErrEmpty describes an environment whose providers supplied no
// equipment at all for its name.
const ErrEmpty = errors.ConstError("environment defines no equipment")

// Descriptor identifies one location hosting a role.
type Descriptor struct {
	// Hostname is the contact address of the location, and its
	// identity within an environment manager.
	Hostname string

	// Facts holds provider-supplied metadata about the location.
	Facts facts.Facts
}

// Provider supplies the role to descriptor mapping for a named
// environment. Implementations back onto inventory files, databases
// or remote discovery services; only the shape of the answer matters
// here.
type Provider interface {
	// Environment returns the view of the named environment known to
	// this provider, keyed by role name. An unknown environment name
	// yields an empty (or nil) map, not an error.
	Environment(name string) (map[string][]Descriptor, error)
}

// ProviderFunc adapts a plain function to the Provider interface.
type ProviderFunc func(name string) (map[string][]Descriptor, error)

// Environment is part of the Provider interface.
func (f ProviderFunc) Environment(name string) (map[string][]Descriptor, error) {
	return f(name)
}

// Environment is an immutable snapshot of one test topology. It is
// safe for concurrent readers; it is never written after New returns.
type Environment struct {
	name string
	view map[string][]Descriptor
}

// New builds a snapshot of the named environment by querying each
// provider in turn. Later providers win: a descriptor for a (role,
// hostname) pair already seen replaces the earlier one.
func New(name string, providers ...Provider) (*Environment, error) {
	view := make(map[string][]Descriptor)
	for _, provider := range providers {
		part, err := provider.Environment(name)
		if err != nil {
			return nil, errors.Annotatef(err, "querying provider for environment %q", name)
		}
		for role, descriptors := range part {
			for _, descriptor := range descriptors {
				view[role] = mergeDescriptor(view[role], descriptor)
			}
		}
	}
	return &Environment{name: name, view: view}, nil
}

func mergeDescriptor(existing []Descriptor, descriptor Descriptor) []Descriptor {
	for i, have := range existing {
		if have.Hostname == descriptor.Hostname {
			existing[i] = descriptor
			return existing
		}
	}
	return append(existing, descriptor)
}

// Name returns the environment name the snapshot was built for.
func (e *Environment) Name() string {
	return e.name
}

// Get returns the descriptors for all locations hosting the named
// role, or nil if the role is unknown to this environment.
func (e *Environment) Get(role string) []Descriptor {
	descriptors := e.view[role]
	if len(descriptors) == 0 {
		return nil
	}
	result := make([]Descriptor, len(descriptors))
	copy(result, descriptors)
	return result
}

// Roles returns the sorted role names present in the snapshot.
func (e *Environment) Roles() []string {
	roles := make([]string, 0, len(e.view))
	for role := range e.view {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	return roles
}

// IsEmpty reports whether the snapshot contains no equipment at all.
func (e *Environment) IsEmpty() bool {
	return len(e.view) == 0
}
