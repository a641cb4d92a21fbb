// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package roles

import (
	"sort"

	"github.com/juju/errors"
	"github.com/juju/loggo"

	"github.com/juju/testlab/config"
	"github.com/juju/testlab/hub"
)

var logger = loggo.GetLogger("testlab.roles")

// CatalogChange is the payload published on the role catalog topic
// when a factory is registered. The topic is historic, so observers
// that attach after registration still replay the full catalog.
type CatalogChange struct {
	// Name is the registered role name.
	Name string
}

// Manager maps role names to factories and builds controllers on
// demand. It performs no caching; caching per (location, role,
// arguments) is the location's responsibility.
type Manager struct {
	cfg       *config.Config
	hub       *hub.Hub
	factories map[string]Factory
}

// NewManager returns a Manager. The configuration is handed to every
// factory invocation; the hub carries catalog notifications.
func NewManager(cfg *config.Config, h *hub.Hub) *Manager {
	return &Manager{
		cfg:       cfg,
		hub:       h,
		factories: make(map[string]Factory),
	}
}

// Register records a factory for the named role. The last
// registration for a name wins. Each registration is announced on
// the historic catalog topic.
func (m *Manager) Register(name string, factory Factory) {
	if _, ok := m.factories[name]; ok {
		logger.Debugf("replacing factory for role %q", name)
	}
	m.factories[name] = factory
	_ = m.hub.PublishHistoric(hub.RoleCatalog, CatalogChange{Name: name})
}

// Build invokes the factory registered for the named role and stamps
// the role name on the resulting controller. ErrNotRegistered is
// returned for names with no factory.
func (m *Manager) Build(name string, location Location, args map[string]string) (Controller, error) {
	factory, ok := m.factories[name]
	if !ok {
		return nil, errors.Annotatef(ErrNotRegistered, "role %q", name)
	}
	controller, err := factory(m.cfg, location, args)
	if err != nil {
		return nil, errors.Annotatef(err, "building role %q", name)
	}
	if n, ok := controller.(namer); ok {
		n.setName(name)
	}
	return controller, nil
}

// Roles returns the sorted names of all registered roles. This is
// the canonical catalog; the historic topic exists for observers
// that need change events rather than a snapshot.
func (m *Manager) Roles() []string {
	names := make([]string, 0, len(m.factories))
	for name := range m.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
