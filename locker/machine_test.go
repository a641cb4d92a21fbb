// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package locker_test

import (
	"fmt"
	"time"

	"github.com/juju/errors"
	jujutesting "github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/juju/testlab/locker"
)

type machineLockerSuite struct {
	jujutesting.IsolationSuite
}

var _ = gc.Suite(&machineLockerSuite{})

// uniqueResource avoids collisions with mutexes left behind by other
// test runs on the same machine.
func uniqueResource(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

func (s *machineLockerSuite) TestAcquireRelease(c *gc.C) {
	resource := uniqueResource("host")
	l := locker.NewMachineLocker("_service._tcp.example.com", nil)
	c.Assert(l.Acquire(resource, time.Second), jc.ErrorIsNil)
	c.Assert(l.Release(resource), jc.ErrorIsNil)
}

func (s *machineLockerSuite) TestAcquireHeldElsewhereTimesOut(c *gc.C) {
	resource := uniqueResource("host")
	holder := locker.NewMachineLocker("", nil)
	c.Assert(holder.Acquire(resource, time.Second), jc.ErrorIsNil)
	defer holder.Release(resource)

	waiter := locker.NewMachineLocker("", nil)
	err := waiter.Acquire(resource, 100*time.Millisecond)
	c.Assert(err, jc.ErrorIs, locker.ErrTimeout)
	c.Assert(err, gc.ErrorMatches, fmt.Sprintf("lock for %q: timed out acquiring lock", resource))
}

func (s *machineLockerSuite) TestAcquireAfterRelease(c *gc.C) {
	resource := uniqueResource("host")
	holder := locker.NewMachineLocker("", nil)
	c.Assert(holder.Acquire(resource, time.Second), jc.ErrorIsNil)
	c.Assert(holder.Release(resource), jc.ErrorIsNil)

	other := locker.NewMachineLocker("", nil)
	c.Assert(other.Acquire(resource, time.Second), jc.ErrorIsNil)
	c.Assert(other.Release(resource), jc.ErrorIsNil)
}

func (s *machineLockerSuite) TestAcquireTwice(c *gc.C) {
	resource := uniqueResource("host")
	l := locker.NewMachineLocker("", nil)
	c.Assert(l.Acquire(resource, time.Second), jc.ErrorIsNil)
	defer l.Release(resource)

	err := l.Acquire(resource, time.Second)
	c.Assert(err, jc.Satisfies, errors.IsAlreadyExists)
}

func (s *machineLockerSuite) TestReleaseUnheld(c *gc.C) {
	l := locker.NewMachineLocker("", nil)
	c.Assert(l.Release(uniqueResource("host")), jc.ErrorIsNil)
}

func (s *machineLockerSuite) TestReleaseAll(c *gc.C) {
	first := uniqueResource("first")
	second := uniqueResource("second")
	l := locker.NewMachineLocker("", nil)
	c.Assert(l.Acquire(first, time.Second), jc.ErrorIsNil)
	c.Assert(l.Acquire(second, time.Second), jc.ErrorIsNil)
	c.Assert(l.ReleaseAll(), jc.ErrorIsNil)

	// Both resources are free again.
	other := locker.NewMachineLocker("", nil)
	c.Assert(other.Acquire(first, time.Second), jc.ErrorIsNil)
	c.Assert(other.Acquire(second, time.Second), jc.ErrorIsNil)
	c.Assert(other.ReleaseAll(), jc.ErrorIsNil)
}

func (s *machineLockerSuite) TestReleaseAllEmpty(c *gc.C) {
	l := locker.NewMachineLocker("", nil)
	c.Assert(l.ReleaseAll(), jc.ErrorIsNil)
}

func (s *machineLockerSuite) TestLocator(c *gc.C) {
	l := locker.NewMachineLocker("_service._tcp.example.com", nil)
	c.Assert(l.Locator(), gc.Equals, locker.Locator("_service._tcp.example.com"))
}

type mutexNameSuite struct{}

var _ = gc.Suite(&mutexNameSuite{})

func (*mutexNameSuite) TestSanitisesHostnames(c *gc.C) {
	c.Assert(locker.MutexName("10.0.0.5"), gc.Equals, "lab-10-0-0-5")
	c.Assert(locker.MutexName("Host_Alpha.Example"), gc.Equals, "lab-host-alpha-example")
}

func (*mutexNameSuite) TestTruncatesLongNames(c *gc.C) {
	long := "a-very-long-hostname.some.deeply.nested.domain.example.com"
	name := locker.MutexName(long)
	c.Assert(len(name) <= 39, jc.IsTrue)
	c.Assert(name, gc.Not(gc.Equals), locker.MutexName(long+".other"))
}
