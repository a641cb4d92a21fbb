// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package lab

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"

	"github.com/juju/errors"
	"github.com/juju/loggo"

	"github.com/juju/testlab/facts"
	"github.com/juju/testlab/hub"
	"github.com/juju/testlab/roles"
)

// ErrLocationMismatch describes a factory-built controller whose
// location back reference is missing or names a different location
// than the one it was built for. This is a contract violation in the
// factory; the controller is never cached.
const ErrLocationMismatch = errors.ConstError("controller location mismatch")

// Family names an address family in a location's address info.
type Family string

const (
	IPv4 Family = "ipv4"
	IPv6 Family = "ipv6"
)

// lookupIP is patched in tests.
var lookupIP = func(network, host string) ([]net.IP, error) {
	return net.DefaultResolver.LookupIP(context.Background(), network, host)
}

// Location is a software hosting location contactable via its
// hostname. It owns the cache of role controllers built for it;
// repeated requests for the same role and arguments return the same
// controller. Locations are created and destroyed by an EnvManager,
// never directly.
//
// A Location assumes a single writer. Callers driving one from
// multiple goroutines must serialise access themselves.
type Location struct {
	hostname string
	facts    facts.Facts
	manager  *EnvManager
	logger   loggo.Logger

	cache map[string]roles.Controller
	order []string

	addrOnce sync.Once
	addrs    map[Family]string
}

func newLocation(hostname string, f facts.Facts, manager *EnvManager) *Location {
	return &Location{
		hostname: hostname,
		facts:    f.Copy(),
		manager:  manager,
		logger:   loggo.GetLogger("testlab.lab." + hostname),
		cache:    make(map[string]roles.Controller),
	}
}

// Hostname is part of the roles.Location interface.
func (l *Location) Hostname() string {
	return l.hostname
}

// Fact is part of the roles.Location interface.
func (l *Location) Fact(key string) (string, bool) {
	value, ok := l.facts[key]
	return value, ok
}

// Facts returns a copy of the location's facts.
func (l *Location) Facts() facts.Facts {
	return l.facts.Copy()
}

func (l *Location) updateFacts(f facts.Facts) {
	l.facts.Update(f)
}

// EnvManager returns the manager owning this location.
func (l *Location) EnvManager() *EnvManager {
	return l.manager
}

func (l *Location) String() string {
	return fmt.Sprintf("Location(hostname=%s, facts=%v)", l.hostname, map[string]string(l.facts))
}

// cacheKey canonicalises a role request: argument sets that differ
// only in key order share a cache entry.
func cacheKey(name string, args map[string]string) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		fmt.Fprintf(&b, "|%s=%s", k, args[k])
	}
	return b.String()
}

// Role returns the controller for the named role at this location,
// building it via the role manager on first request. The controller
// is cached by role name and canonicalised arguments; later requests
// return the same instance without invoking the factory again.
func (l *Location) Role(name string, args map[string]string) (roles.Controller, error) {
	key := cacheKey(name, args)
	if controller, ok := l.cache[key]; ok {
		return controller, nil
	}
	l.logger.Debugf("loading %s@%s", name, l.hostname)

	controller, err := l.manager.roles.Build(name, l, args)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if controller.Location() != roles.Location(l) {
		return nil, errors.Annotatef(ErrLocationMismatch,
			"controller for role %q reports location %v, expected %s", name, controller.Location(), l)
	}

	// Qualify with the cache key rather than the bare role name so
	// that same-role builds differing only in arguments each get a
	// registry entry. For an args-free request the key is the name.
	qualified := key + "@" + l.hostname
	if err := l.manager.hub.Register(qualified, controller); err != nil {
		return nil, errors.Annotatef(err, "registering controller %q", qualified)
	}
	l.cache[key] = controller
	l.order = append(l.order, key)

	_ = l.manager.hub.PublishHistoric(hub.RoleCreated, RoleCreated{
		Config:     l.manager.cfg,
		Controller: controller,
	})
	return controller, nil
}

// Destroy tears down a controller previously built at this
// location: it is dropped from the cache, observers are notified,
// the optional Close capability is invoked and the controller is
// unregistered from the hub. Controllers not found in the cache are
// ignored.
func (l *Location) Destroy(controller roles.Controller) error {
	key, ok := l.keyOf(controller)
	if !ok {
		l.logger.Debugf("destroy of unknown controller at %s ignored", l.hostname)
		return nil
	}
	l.logger.Debugf("destroying %s", key)
	delete(l.cache, key)
	l.order = removeKey(l.order, key)

	_ = l.manager.hub.Publish(hub.RoleDestroyed, RoleDestroyed{
		Config:     l.manager.cfg,
		Controller: controller,
	})

	var closeErr error
	if closer, ok := controller.(roles.Closer); ok {
		l.logger.Debugf("closing %s", key)
		closeErr = closer.Close()
	} else {
		l.logger.Debugf("%s has no teardown", key)
	}

	// The controller leaves the hub even when its teardown failed;
	// observers must not see a destroyed controller as registered.
	l.manager.hub.Unregister(controller)
	return errors.Trace(closeErr)
}

// Cleanup destroys every cached controller in reverse creation
// order. Teardown failures do not stop the sweep; the first error is
// returned once all controllers have been destroyed.
func (l *Location) Cleanup() error {
	order := make([]string, len(l.order))
	copy(order, l.order)

	var firstErr error
	for i := len(order) - 1; i >= 0; i-- {
		controller := l.cache[order[i]]
		if err := l.Destroy(controller); err != nil {
			l.logger.Errorf("destroying %s: %v", order[i], err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if len(l.cache) != 0 {
		panic(fmt.Sprintf("controllers survived cleanup at %s: %v", l.hostname, l.order))
	}
	return errors.Trace(firstErr)
}

func (l *Location) keyOf(controller roles.Controller) (string, bool) {
	for _, key := range l.order {
		if l.cache[key] == controller {
			return key, true
		}
	}
	return "", false
}

func removeKey(order []string, key string) []string {
	for i, k := range order {
		if k == key {
			return append(order[:i], order[i+1:]...)
		}
	}
	return order
}

// AddrInfo resolves the hostname to one address per family. The
// lookup happens at most once per Location; a family that fails to
// resolve is logged and left out, and is not retried later even if
// the result is partial.
func (l *Location) AddrInfo() map[Family]string {
	l.addrOnce.Do(func() {
		l.addrs = make(map[Family]string)
		for family, network := range map[Family]string{IPv4: "ip4", IPv6: "ip6"} {
			addrs, err := lookupIP(network, l.hostname)
			if err != nil {
				l.logger.Warningf("failed to resolve %s on %s: %v", l.hostname, family, err)
				continue
			}
			if len(addrs) > 0 {
				l.addrs[family] = addrs[0].String()
			}
		}
	})
	return l.addrs
}

// IP returns the location's IPv4 address, or the empty string when
// the hostname did not resolve on IPv4.
func (l *Location) IP() string {
	return l.AddrInfo()[IPv4]
}

// IP6 returns the location's IPv6 address, or the empty string when
// the hostname did not resolve on IPv6.
func (l *Location) IP6() string {
	return l.AddrInfo()[IPv6]
}
