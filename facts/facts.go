// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package facts holds the free-form key/value metadata attached to
// equipment locations and environment descriptors.
package facts

import (
	"sort"
)

// Facts is a string key/value mapping of metadata about a location,
// for example hardware model, firmware revision, or rack position.
type Facts map[string]string

// Update merges other into f: new keys are added and existing keys
// are overwritten. Keys absent from other are retained, never deleted.
func (f Facts) Update(other Facts) {
	for k, v := range other {
		f[k] = v
	}
}

// Copy returns an independent copy of f.
func (f Facts) Copy() Facts {
	result := make(Facts, len(f))
	for k, v := range f {
		result[k] = v
	}
	return result
}

// Keys returns the fact keys in sorted order.
func (f Facts) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
