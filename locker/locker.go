// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package locker defines the lock client used to coordinate access
// to shared test equipment across independent test run processes.
// The lock is cooperative: it only excludes processes that go through
// a Locker keyed by the same resource names.
package locker

import (
	"time"

	"github.com/juju/errors"
)

// ErrTimeout describes a lock acquisition that did not complete
// within its timeout.
const ErrTimeout = errors.ConstError("timed out acquiring lock")

// Locator is the externally resolved address of a lock service, for
// example a service-discovery SRV lookup string. How a Locator is
// resolved to a concrete service is the lock client's business.
type Locator string

// Locker provides cooperative cross-process mutual exclusion over
// named resources. Resource names are location hostnames.
//
// Implementations are not required to be goroutine-safe beyond what
// the environment manager needs: a single acquiring goroutine.
type Locker interface {
	// Acquire takes the lock for the named resource, blocking until
	// it is held or the timeout expires, in which case ErrTimeout is
	// returned. A zero timeout blocks indefinitely; callers opting
	// into that must mean it.
	Acquire(resource string, timeout time.Duration) error

	// Release releases the named resource. Releasing a resource that
	// is not held is a no-op.
	Release(resource string) error

	// ReleaseAll releases every resource held by this client.
	ReleaseAll() error
}
