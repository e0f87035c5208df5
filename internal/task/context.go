package task

import "github.com/me/strider/pkg/model"

// Context is the saved control flow of either a task or the CPU's idle
// loop. A task context starts its entry function on a dedicated goroutine
// the first time it is switched into and from then on is resumed where it
// last called Switch. Only the goroutine owning the context that was most
// recently switched into ever runs.
type Context struct {
	entry     func()
	started   bool
	discarded bool
	wake      chan struct{}
}

// ZeroInit returns an empty context, used for the idle loop. It only ever
// becomes meaningful after something switches away from it.
func ZeroInit() Context {
	return Context{wake: make(chan struct{}, 1)}
}

// GotoEntry returns a context that begins executing entry when first
// switched into.
func GotoEntry(entry func()) Context {
	return Context{entry: entry, wake: make(chan struct{}, 1)}
}

// Discarded returns a context that is never resumed. Switching away from it
// returns at once, so an exiting task can unwind its goroutine.
func Discarded() *Context {
	return &Context{discarded: true}
}

// Started reports whether control has ever entered the context.
func (c *Context) Started() bool {
	return c.started || c.entry == nil
}

// Switch saves the caller's control flow into current and transfers the
// CPU to next. It returns when some later Switch resumes current.
func Switch(current, next *Context) {
	next.resume()
	if current.discarded {
		return
	}
	<-current.wake
}

func (c *Context) resume() {
	if c.discarded {
		model.Violate("switch", "switch into a discarded context")
	}
	if c.entry != nil && !c.started {
		c.started = true
		go c.entry()
		return
	}
	select {
	case c.wake <- struct{}{}:
	default:
		model.Violate("switch", "context resumed twice without running")
	}
}
