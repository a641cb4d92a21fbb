// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package locker

import (
	"fmt"
	"hash/crc32"
	"strings"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/juju/mutex/v2"
	"github.com/juju/retry"
)

var logger = loggo.GetLogger("testlab.locker")

const (
	// pollInterval bounds a single mutex acquisition attempt so that
	// long waits surface as periodic log messages rather than one
	// silent block.
	pollInterval = 250 * time.Millisecond

	// retryInterval is the pause between acquisition attempts.
	retryInterval = 50 * time.Millisecond

	// maxMutexName is the longest name juju/mutex accepts.
	maxMutexName = 39
)

// MachineLocker is a Locker backed by named machine mutexes. It
// excludes other processes on the same machine; coordinating runs
// across machines needs a networked Locker implementation located
// via a discovery Locator.
type MachineLocker struct {
	locator Locator
	clock   clock.Clock

	mu   sync.Mutex
	held map[string]mutex.Releaser
}

// NewMachineLocker returns a MachineLocker. The locator is recorded
// for diagnostics only. A nil clk means the wall clock.
func NewMachineLocker(locator Locator, clk clock.Clock) *MachineLocker {
	if clk == nil {
		clk = clock.WallClock
	}
	return &MachineLocker{
		locator: locator,
		clock:   clk,
		held:    make(map[string]mutex.Releaser),
	}
}

// Locator returns the discovery locator the locker was created with.
func (l *MachineLocker) Locator() Locator {
	return l.locator
}

// Acquire is part of the Locker interface.
func (l *MachineLocker) Acquire(resource string, timeout time.Duration) error {
	l.mu.Lock()
	_, already := l.held[resource]
	l.mu.Unlock()
	if already {
		return errors.AlreadyExistsf("lock for %q", resource)
	}

	spec := mutex.Spec{
		Name:    mutexName(resource),
		Clock:   l.clock,
		Delay:   retryInterval,
		Timeout: pollInterval,
	}
	var releaser mutex.Releaser
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			r, err := mutex.Acquire(spec)
			if err != nil {
				return errors.Trace(err)
			}
			releaser = r
			return nil
		},
		IsFatalError: func(err error) bool {
			return errors.Cause(err) != mutex.ErrTimeout
		},
		NotifyFunc: func(err error, attempt int) {
			logger.Debugf("waiting for lock on %q (attempt %d)", resource, attempt)
		},
		Attempts:    retry.UnlimitedAttempts,
		Delay:       retryInterval,
		Clock:       l.clock,
		MaxDuration: timeout,
	})
	if err != nil {
		if retry.IsDurationExceeded(err) || retry.IsAttemptsExceeded(err) {
			return errors.Annotatef(ErrTimeout, "lock for %q", resource)
		}
		return errors.Trace(err)
	}

	l.mu.Lock()
	l.held[resource] = releaser
	l.mu.Unlock()
	logger.Debugf("acquired lock on %q", resource)
	return nil
}

// Release is part of the Locker interface.
func (l *MachineLocker) Release(resource string) error {
	l.mu.Lock()
	releaser, ok := l.held[resource]
	delete(l.held, resource)
	l.mu.Unlock()
	if !ok {
		return nil
	}
	releaser.Release()
	logger.Debugf("released lock on %q", resource)
	return nil
}

// ReleaseAll is part of the Locker interface.
func (l *MachineLocker) ReleaseAll() error {
	l.mu.Lock()
	held := l.held
	l.held = make(map[string]mutex.Releaser)
	l.mu.Unlock()
	for resource, releaser := range held {
		releaser.Release()
		logger.Debugf("released lock on %q", resource)
	}
	return nil
}

// mutexName maps an arbitrary resource name onto a valid mutex name:
// a leading letter followed by lowercase alphanumerics and hyphens.
// Long names are truncated with a checksum suffix to stay unique.
func mutexName(resource string) string {
	var b strings.Builder
	b.WriteString("lab-")
	for _, r := range strings.ToLower(resource) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('-')
		}
	}
	name := b.String()
	if len(name) > maxMutexName {
		sum := crc32.ChecksumIEEE([]byte(resource))
		name = fmt.Sprintf("%s-%08x", name[:maxMutexName-9], sum)
	}
	return name
}
