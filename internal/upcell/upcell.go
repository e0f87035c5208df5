// Package upcell provides the exclusive-access cell used for all mutable
// kernel state on a uniprocessor.
//
// The kernel never runs two control flows at once, so a cell needs no lock.
// What it does need is a guarantee that no code path borrows the same state
// twice: a second Exclusive while a RefMut is outstanding is a kernel bug
// and panics with a model.ContractViolation instead of waiting.
package upcell

import (
	"sync/atomic"

	"github.com/me/strider/pkg/model"
)

// Cell holds a value that can be borrowed by at most one caller at a time.
// A Cell must not be copied after first use.
type Cell[T any] struct {
	name     string
	borrowed atomic.Bool
	value    T
}

// New returns a cell holding v. name shows up in contract violations.
func New[T any](name string, v T) *Cell[T] {
	return &Cell[T]{name: name, value: v}
}

// Exclusive borrows the cell. The returned guard must be released before
// the same cell is borrowed again.
func (c *Cell[T]) Exclusive() *RefMut[T] {
	if !c.borrowed.CompareAndSwap(false, true) {
		model.Violate("exclusive_access", "%s already borrowed", c.name)
	}
	return &RefMut[T]{cell: c}
}

// Borrowed reports whether a guard is currently outstanding.
func (c *Cell[T]) Borrowed() bool {
	return c.borrowed.Load()
}

// With borrows the cell for the duration of fn.
func (c *Cell[T]) With(fn func(v *T)) {
	g := c.Exclusive()
	defer g.Release()
	fn(g.Get())
}

// Map borrows c for the duration of fn and returns its result.
func Map[T, R any](c *Cell[T], fn func(v *T) R) R {
	g := c.Exclusive()
	defer g.Release()
	return fn(g.Get())
}

// RefMut is a scoped exclusive borrow of a Cell.
type RefMut[T any] struct {
	cell     *Cell[T]
	released bool
}

// Get returns the borrowed value. Using a released guard panics.
func (r *RefMut[T]) Get() *T {
	if r.released {
		model.Violate("exclusive_access", "%s used after release", r.cell.name)
	}
	return &r.cell.value
}

// Release ends the borrow. Releasing twice panics.
func (r *RefMut[T]) Release() {
	if r.released {
		model.Violate("exclusive_access", "%s released twice", r.cell.name)
	}
	r.released = true
	r.cell.borrowed.Store(false)
}
