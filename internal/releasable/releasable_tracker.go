// Package releasable allows tracking of allocated resources (such as open file handles)
// to make sure they are released on every code path.
package releasable

import (
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// ItemKind identifies the kind of a releasable item, e.g. "tempstore-handle".
type ItemKind string

type perKindTracker struct {
	mu sync.Mutex

	// +checklocks:mu
	items map[any]string
}

func (s *perKindTracker) addItem(item any, stack string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[item] = stack
}

func (s *perKindTracker) removeItem(item any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.items, item)
}

func (s *perKindTracker) active() map[any]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := map[any]string{}
	for k, v := range s.items {
		res[k] = v
	}

	return res
}

//nolint:gochecknoglobals
var (
	perKindMu       sync.Mutex
	perKindTrackers = map[ItemKind]*perKindTracker{}
)

func trackerFor(kind ItemKind) *perKindTracker {
	perKindMu.Lock()
	defer perKindMu.Unlock()

	return perKindTrackers[kind]
}

// EnableTracking enables tracking of the given item kind. Items created before tracking
// was enabled are not reported.
func EnableTracking(kind ItemKind) {
	perKindMu.Lock()
	defer perKindMu.Unlock()

	if perKindTrackers[kind] != nil {
		return
	}

	perKindTrackers[kind] = &perKindTracker{items: map[any]string{}}
}

// DisableTracking disables tracking of the given item kind and forgets all its items.
func DisableTracking(kind ItemKind) {
	perKindMu.Lock()
	defer perKindMu.Unlock()

	delete(perKindTrackers, kind)
}

// Created records that the provided item has been allocated.
func Created(kind ItemKind, item any) {
	if t := trackerFor(kind); t != nil {
		t.addItem(item, string(debug.Stack()))
	}
}

// Released records that the provided item has been released.
func Released(kind ItemKind, item any) {
	if t := trackerFor(kind); t != nil {
		t.removeItem(item)
	}
}

// Active returns the map of all active (not released) items per tracked kind, along
// with the stack trace of their allocation.
func Active() map[ItemKind]map[any]string {
	perKindMu.Lock()
	trackers := map[ItemKind]*perKindTracker{}

	for k, v := range perKindTrackers {
		trackers[k] = v
	}
	perKindMu.Unlock()

	res := map[ItemKind]map[any]string{}
	for k, v := range trackers {
		res[k] = v.active()
	}

	return res
}

// Verify returns an error describing all tracked items that have not been released.
func Verify() error {
	var msgs []string

	for kind, items := range Active() {
		if len(items) == 0 {
			continue
		}

		var sb strings.Builder

		fmt.Fprintf(&sb, "found %v %q resources that have not been released:", len(items), kind)

		for _, stack := range items {
			sb.WriteString("\n  - ")
			sb.WriteString(strings.ReplaceAll(stack, "\n", "\n    "))
		}

		msgs = append(msgs, sb.String())
	}

	if len(msgs) == 0 {
		return nil
	}

	sort.Strings(msgs)

	return errors.New(strings.Join(msgs, "\n"))
}
