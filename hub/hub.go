// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package hub provides the notification bus used to observe the
// lifecycle of role controllers and locations. It wraps a simple
// pubsub hub with two additions: historic topics, whose full backlog
// is replayed to subscribers that join late, and a registry of named
// controllers mirroring the set of live roles.
package hub

import (
	"sync"

	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/juju/pubsub/v2"
)

// Topics published by the lab orchestration layer. RoleCatalog and
// RoleCreated are historic: subscribers receive the backlog first.
// RoleDestroyed and LocationDestroyed are live only.
const (
	RoleCatalog       = "role.catalog"
	RoleCreated       = "role.created"
	RoleDestroyed     = "role.destroyed"
	LocationDestroyed = "location.destroyed"
)

var logger = loggo.GetLogger("testlab.hub")

// Hub is a notification bus with optional replay-on-subscribe
// delivery. The zero value is not usable; call New.
type Hub struct {
	simple *pubsub.SimpleHub

	mu       sync.Mutex
	history  map[string][]interface{}
	registry map[string]interface{}
}

// New returns a ready to use Hub.
func New() *Hub {
	return &Hub{
		simple: pubsub.NewSimpleHub(&pubsub.SimpleHubConfig{
			Logger: loggo.GetLogger("testlab.hub.pubsub"),
		}),
		history:  make(map[string][]interface{}),
		registry: make(map[string]interface{}),
	}
}

// Subscribe attaches handler to the named topic and returns an
// unsubscribe function. If the topic has a historic backlog the
// handler is called synchronously, before Subscribe returns, with
// every past payload in original publication order; live events
// follow, each delivered exactly once. Handlers must not call back
// into the Hub while the backlog is being replayed.
func (h *Hub) Subscribe(topic string, handler func(topic string, data interface{})) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, payload := range h.history[topic] {
		handler(topic, payload)
	}
	return h.simple.Subscribe(topic, handler)
}

// Publish notifies current subscribers of the topic. Subscribers
// attaching afterwards never see the event. The returned function
// blocks until all subscriber handlers have run.
func (h *Hub) Publish(topic string, data interface{}) func() {
	return h.simple.Publish(topic, data)
}

// PublishHistoric publishes to current subscribers and appends the
// payload to the topic's backlog so that future subscribers replay
// it. The returned function blocks until all current subscriber
// handlers have run.
func (h *Hub) PublishHistoric(topic string, data interface{}) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.history[topic] = append(h.history[topic], data)
	return h.simple.Publish(topic, data)
}

// Register records value in the controller registry under name.
// A second registration for the same name is an error.
func (h *Hub) Register(name string, value interface{}) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.registry[name]; ok {
		return errors.AlreadyExistsf("controller %q", name)
	}
	h.registry[name] = value
	logger.Tracef("registered controller %q", name)
	return nil
}

// Unregister removes value from the controller registry, whatever
// name it was registered under. Unknown values are ignored.
func (h *Hub) Unregister(value interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for name, registered := range h.registry {
		if registered == value {
			delete(h.registry, name)
			logger.Tracef("unregistered controller %q", name)
			return
		}
	}
}

// Registered returns the value registered under name, if any.
func (h *Hub) Registered(name string) (interface{}, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	value, ok := h.registry[name]
	return value, ok
}
