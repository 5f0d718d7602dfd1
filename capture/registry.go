/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2024-2026 cross-control Contributors. All Rights Reserved.
 */

package capture

import (
	"sort"
	"sync"

	"github.com/Adjoint-uk/cross-control/wire"
)

// Registry assigns stable device_ids and diffs successive enumeration
// snapshots to drive DeviceAnnounce/DeviceGone (§4.3).
type Registry struct {
	mu     sync.Mutex
	byPath map[string]wire.DeviceInfo
	nextID uint32
}

// NewRegistry returns an empty device registry.
func NewRegistry() *Registry {
	return &Registry{byPath: make(map[string]wire.DeviceInfo)}
}

// Reconcile takes the backend's freshly enumerated device paths (with a
// kind/capability/vendor/product hint for any path not already known)
// and returns the announcements and removals needed to bring the
// registry in sync. device_id is stable for the lifetime of a path's
// handle: re-enumerating the same path returns the same DeviceInfo.
func (r *Registry) Reconcile(seen map[string]wire.DeviceInfo) (announced []wire.DeviceInfo, gone []uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for path, hint := range seen {
		if _, ok := r.byPath[path]; ok {
			continue
		}
		r.nextID++
		info := hint
		info.DeviceID = r.nextID
		r.byPath[path] = info
		announced = append(announced, info)
	}

	for path, info := range r.byPath {
		if _, ok := seen[path]; !ok {
			gone = append(gone, info.DeviceID)
			delete(r.byPath, path)
		}
	}

	sort.Slice(announced, func(i, j int) bool { return announced[i].DeviceID < announced[j].DeviceID })
	sort.Slice(gone, func(i, j int) bool { return gone[i] < gone[j] })
	return announced, gone
}

// InfoForPath returns the currently assigned DeviceInfo for a path, if any.
func (r *Registry) InfoForPath(path string) (wire.DeviceInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.byPath[path]
	return info, ok
}

// Snapshot returns every currently known device.
func (r *Registry) Snapshot() []wire.DeviceInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]wire.DeviceInfo, 0, len(r.byPath))
	for _, d := range r.byPath {
		out = append(out, d)
	}
	return out
}

// Remove retracts a single device by path, e.g. after a read failure on
// that device alone (§4.3: "loss of read on a device emits a single
// DeviceGone and closes only that device").
func (r *Registry) Remove(path string) (wire.DeviceInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.byPath[path]
	if ok {
		delete(r.byPath, path)
	}
	return info, ok
}
