// SPDX-FileCopyrightText: 2026 The Turnpike Authors
// SPDX-License-Identifier: MIT

// Package timeevents implements the deadline list that drives
// allocation, permission and channel binding expiry.
package timeevents

import (
	"sort"
	"time"
)

// TimeEvents keeps a sorted list of (deadline, action) pairs. Adding an
// action that is already scheduled moves its deadline instead of
// queueing a second trigger.
type TimeEvents[A comparable] struct {
	events []entry[A]
}

type entry[A comparable] struct {
	deadline time.Time
	action   A
}

// New returns an empty scheduler.
func New[A comparable]() *TimeEvents[A] {
	return &TimeEvents[A]{}
}

// Add schedules action for deadline, postponing any earlier schedule of
// the same action. It returns the new earliest deadline across all
// pending events.
func (t *TimeEvents[A]) Add(deadline time.Time, action A) time.Time {
	for i, e := range t.events {
		if e.action == action {
			t.events = append(t.events[:i], t.events[i+1:]...)
			break
		}
	}
	idx := sort.Search(len(t.events), func(i int) bool {
		return t.events[i].deadline.After(deadline)
	})
	t.events = append(t.events, entry[A]{})
	copy(t.events[idx+1:], t.events[idx:])
	t.events[idx] = entry[A]{deadline: deadline, action: action}

	return t.events[0].deadline
}

// Remove drops a pending action. It is a no-op if the action is not
// scheduled.
func (t *TimeEvents[A]) Remove(action A) {
	for i, e := range t.events {
		if e.action == action {
			t.events = append(t.events[:i], t.events[i+1:]...)
			return
		}
	}
}

// PendingActions drains and returns every action whose deadline is at
// or before now, in deadline order.
func (t *TimeEvents[A]) PendingActions(now time.Time) []A {
	idx := sort.Search(len(t.events), func(i int) bool {
		return t.events[i].deadline.After(now)
	})
	if idx == 0 {
		return nil
	}
	actions := make([]A, idx)
	for i, e := range t.events[:idx] {
		actions[i] = e.action
	}
	t.events = append(t.events[:0], t.events[idx:]...)

	return actions
}

// NextTrigger returns the earliest pending deadline, or false if
// nothing is scheduled.
func (t *TimeEvents[A]) NextTrigger() (time.Time, bool) {
	if len(t.events) == 0 {
		return time.Time{}, false
	}
	return t.events[0].deadline, true
}

// Len returns the number of pending events.
func (t *TimeEvents[A]) Len() int {
	return len(t.events)
}
