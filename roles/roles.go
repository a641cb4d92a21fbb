// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package roles defines the role controller contract and the
// registry of factories that build controllers on demand. A role is
// a named software capability hosted at an equipment location; a
// controller is the live object driving one instance of it.
package roles

import (
	"github.com/juju/errors"

	"github.com/juju/testlab/config"
)

// ErrNotRegistered describes a build request for a role name with no
// registered factory.
const ErrNotRegistered = errors.ConstError("role not registered")

// Location is the view of an equipment location a controller holds.
// It is implemented by *lab.Location; controllers must keep the
// exact value they were built with, as the lab layer verifies the
// back reference by identity.
type Location interface {
	// Hostname returns the location's hostname, its identity within
	// an environment manager.
	Hostname() string

	// Fact returns the named fact and whether it is set.
	Fact(key string) (string, bool)
}

// Controller is a live role instance bound to a location. Concrete
// controllers are supplied externally and are otherwise opaque to
// this system.
type Controller interface {
	// Location returns the location the controller was built for.
	Location() Location
}

// Closer is the optional teardown capability of a controller.
// Controllers that hold external resources implement it; teardown is
// invoked exactly once, when the controller is destroyed.
type Closer interface {
	Close() error
}

// Factory builds a role controller at the given location. The
// arguments are role-specific and free-form; an equal argument set
// always yields the same cached controller at a given location.
type Factory func(cfg *config.Config, location Location, args map[string]string) (Controller, error)

// namer is implemented by controllers embedding Base; the manager
// stamps the registered role name on such controllers after a
// successful build.
type namer interface {
	setName(string)
}

// Base carries the controller state the lab layer relies on.
// Concrete controllers embed it and pass the location through:
//
//	type sipServer struct {
//		roles.Base
//	}
//
//	func newSIPServer(cfg *config.Config, loc roles.Location, args map[string]string) (roles.Controller, error) {
//		return &sipServer{Base: roles.NewBase(loc)}, nil
//	}
type Base struct {
	name     string
	location Location
}

// NewBase returns a Base bound to the given location.
func NewBase(location Location) Base {
	return Base{location: location}
}

// Name returns the role name the controller was registered under,
// stamped by the manager at build time.
func (b *Base) Name() string {
	return b.name
}

// Location is part of the Controller interface.
func (b *Base) Location() Location {
	return b.location
}

func (b *Base) setName(name string) {
	b.name = name
}
