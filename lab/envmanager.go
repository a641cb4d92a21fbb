// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package lab coordinates shared access to test equipment. An
// EnvManager owns the set of locations referenced by one test run,
// drives the distributed locking policy that keeps concurrent runs
// off each other's equipment, and sequences the teardown of role
// controllers and locations in reverse creation order.
package lab

import (
	"time"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/juju/loggo"

	"github.com/juju/testlab/config"
	"github.com/juju/testlab/environment"
	"github.com/juju/testlab/facts"
	"github.com/juju/testlab/hub"
	"github.com/juju/testlab/locker"
	"github.com/juju/testlab/roles"
)

var logger = loggo.GetLogger("testlab.lab")

const (
	// ErrRoleNotFound describes a role with no hosting locations in
	// the configured environment.
	ErrRoleNotFound = errors.ConstError("role not found in environment")

	// ErrLocationNotFound describes a destroy request for a location
	// this manager does not manage.
	ErrLocationNotFound = errors.ConstError("location not managed")
)

// RoleCreated is the payload on the historic hub.RoleCreated topic.
type RoleCreated struct {
	Config     *config.Config
	Controller roles.Controller
}

// RoleDestroyed is the payload on the live hub.RoleDestroyed topic.
type RoleDestroyed struct {
	Config     *config.Config
	Controller roles.Controller
}

// LocationDestroyed is the payload on the live
// hub.LocationDestroyed topic.
type LocationDestroyed struct {
	Location *Location
}

// ManagerConfig holds the collaborators and policy of an EnvManager.
// Everything is passed explicitly; the manager keeps no global
// state.
type ManagerConfig struct {
	// Name is the environment under test. Empty means the anonymous
	// environment, which is permitted to be empty of equipment.
	Name string

	// Config is the lab configuration handed to role factories and
	// carried in lifecycle notifications.
	Config *config.Config

	// Hub carries lifecycle notifications and the controller
	// registry.
	Hub *hub.Hub

	// Roles builds role controllers on demand.
	Roles *roles.Manager

	// Providers supply the environment inventory. Merge precedence
	// is the order given here.
	Providers []environment.Provider

	// Locker is the distributed lock client, keyed by hostname. A
	// nil Locker disables locking entirely; the manager warns about
	// it once at construction.
	Locker locker.Locker

	// Neverlock lists roles exempt from locking.
	Neverlock []string
}

// Validate returns an error if the configuration is incomplete.
func (config ManagerConfig) Validate() error {
	if config.Hub == nil {
		return errors.NotValidf("nil Hub")
	}
	if config.Roles == nil {
		return errors.NotValidf("nil Roles")
	}
	return nil
}

// EnvManager owns the locations referenced by one test run. It is
// not goroutine-safe; like the locations it manages, it assumes a
// single writer.
type EnvManager struct {
	name      string
	cfg       *config.Config
	env       *environment.Environment
	hub       *hub.Hub
	roles     *roles.Manager
	locker    locker.Locker
	neverlock set.Strings

	locations map[string]*Location
	order     []string
}

// NewEnvManager builds the environment snapshot from the configured
// providers and returns a manager for it. A named (non-anonymous)
// environment with no equipment at all is an error: it almost always
// means the wrong environment name was configured.
func NewEnvManager(cfg ManagerConfig) (*EnvManager, error) {
	if cfg.Name == "" {
		cfg.Name = environment.Anonymous
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	env, err := environment.New(cfg.Name, cfg.Providers...)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if cfg.Name != environment.Anonymous && env.IsEmpty() {
		return nil, errors.Annotatef(environment.ErrEmpty, "environment %q", cfg.Name)
	}
	if cfg.Locker == nil {
		logger.Warningf("no lock service configured; equipment in environment %q will not be locked", cfg.Name)
	}
	return &EnvManager{
		name:      cfg.Name,
		cfg:       cfg.Config,
		env:       env,
		hub:       cfg.Hub,
		roles:     cfg.Roles,
		locker:    cfg.Locker,
		neverlock: set.NewStrings(cfg.Neverlock...),
		locations: make(map[string]*Location),
	}, nil
}

// Name returns the environment name.
func (m *EnvManager) Name() string {
	return m.name
}

// Environment returns the immutable environment snapshot.
func (m *EnvManager) Environment() *environment.Environment {
	return m.env
}

// Manage returns the location for hostname, creating it on first
// reference. Creation acquires the distributed lock for the
// hostname, unless lock is false or no lock client is configured;
// a zero timeout blocks until the lock is held. Repeated calls for a
// known hostname merge the given facts into the location and ignore
// the lock arguments.
func (m *EnvManager) Manage(hostname string, f facts.Facts, lock bool, timeout time.Duration) (*Location, error) {
	if location, ok := m.locations[hostname]; ok {
		location.updateFacts(f)
		return location, nil
	}

	location := newLocation(hostname, f, m)
	m.locations[hostname] = location
	m.order = append(m.order, hostname)

	if lock && m.locker != nil {
		if err := m.locker.Acquire(hostname, timeout); err != nil {
			delete(m.locations, hostname)
			m.order = m.order[:len(m.order)-1]
			return nil, errors.Annotatef(err, "locking location %q", hostname)
		}
	}
	return location, nil
}

// Locations returns all locations hosting the named role, managing
// each on first reference. Roles in the neverlock set are managed
// without acquiring locks. A role unknown to the environment is an
// error, never a silently empty result.
func (m *EnvManager) Locations(role string, timeout time.Duration) ([]*Location, error) {
	descriptors := m.env.Get(role)
	if len(descriptors) == 0 {
		return nil, errors.Annotatef(ErrRoleNotFound,
			"no locations host role %q in environment %q", role, m.name)
	}

	lock := !m.neverlock.Contains(role)
	locations := make([]*Location, 0, len(descriptors))
	for _, descriptor := range descriptors {
		location, err := m.Manage(descriptor.Hostname, descriptor.Facts, lock, timeout)
		if err != nil {
			return nil, errors.Trace(err)
		}
		locations = append(locations, location)
	}
	return locations, nil
}

// Find builds and returns the controller for the named role at every
// location hosting it.
func (m *EnvManager) Find(role string, timeout time.Duration) ([]roles.Controller, error) {
	locations, err := m.Locations(role, timeout)
	if err != nil {
		return nil, errors.Trace(err)
	}
	controllers := make([]roles.Controller, 0, len(locations))
	for _, location := range locations {
		controller, err := location.Role(role, nil)
		if err != nil {
			return nil, errors.Trace(err)
		}
		controllers = append(controllers, controller)
	}
	return controllers, nil
}

// FindOne builds and returns the controller for the named role at
// the first location hosting it.
func (m *EnvManager) FindOne(role string, timeout time.Duration) (roles.Controller, error) {
	controllers, err := m.Find(role, timeout)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return controllers[0], nil
}

// Contains reports whether the manager manages the location.
func (m *EnvManager) Contains(location *Location) bool {
	_, ok := m.locations[location.Hostname()]
	return ok
}

// Destroy releases a location: its controllers are torn down,
// observers are notified, and the distributed lock for its hostname
// is released. The lock release happens even when teardown fails;
// a stuck lock is worse than a partially cleaned location. The
// teardown error, if any, is returned after the release.
func (m *EnvManager) Destroy(location *Location) error {
	hostname := location.Hostname()
	managed, ok := m.locations[hostname]
	if !ok {
		return errors.Annotatef(ErrLocationNotFound, "%s", location)
	}
	if managed != location {
		logger.Warningf("destroying unmanaged duplicate of %s", location)
	}
	logger.Infof("destroying %s", location)
	delete(m.locations, hostname)
	m.order = removeKey(m.order, hostname)

	cleanupErr := location.Cleanup()

	_ = m.hub.Publish(hub.LocationDestroyed, LocationDestroyed{Location: location})
	if m.locker != nil {
		if err := m.locker.Release(hostname); err != nil {
			logger.Errorf("releasing lock for %q: %v", hostname, err)
		}
	}
	return errors.Trace(cleanupErr)
}

// Cleanup destroys every managed location in reverse creation order
// and then releases every lock held by the lock client. The bulk
// release runs exactly once however teardown goes; the first
// teardown error is returned after it.
func (m *EnvManager) Cleanup() (err error) {
	if m.locker != nil {
		defer func() {
			if rerr := m.locker.ReleaseAll(); rerr != nil {
				if err == nil {
					err = errors.Trace(rerr)
				} else {
					logger.Errorf("releasing remaining locks: %v", rerr)
				}
			}
		}()
	}

	order := make([]string, len(m.order))
	copy(order, m.order)

	var firstErr error
	for i := len(order) - 1; i >= 0; i-- {
		location, ok := m.locations[order[i]]
		if !ok {
			continue
		}
		if derr := m.Destroy(location); derr != nil {
			logger.Errorf("destroying %s: %v", location, derr)
			if firstErr == nil {
				firstErr = derr
			}
		}
	}
	return errors.Trace(firstErr)
}
