// Package rcontext implements Context (§3): a persistent, copy-on-write
// snapshot of the abstract machine's registers and memory, plus the
// bookkeeping (id, caller id, running hash) Recontex needs to propagate and
// deduplicate contexts along a Flo's paths.
package rcontext

import (
	"sync/atomic"

	"rstc/internal/addr"
	"rstc/internal/hashutil"
	"rstc/internal/virt"
)

var globalContextID uint64

func nextContextID() uint64 {
	return atomic.AddUint64(&globalContextID, 1)
}

// Context is an immutable snapshot of {Registers, Memory}. Children are
// built by copy-on-write from a parent via Fork, so forking is O(1) and two
// sibling contexts share all ancestor state.
type Context struct {
	id       uint64
	callerID uint64
	hash     uint64
	regs     *virt.Registers
	mem      *virt.Memory
}

// NewInitial builds the initial context for a fresh Flo: every tracked
// register set to a fresh symbolic value sourced at entry, except RSP,
// which is set to the magic stack sentinel (§3 Lifecycle).
func NewInitial(entry addr.Address) *Context {
	c := &Context{
		id:   nextContextID(),
		regs: virt.NewRegisters(),
		mem:  virt.NewMemory(),
	}
	c.callerID = c.id
	for _, reg := range virt.AllRegisters() {
		var v virt.Value
		if reg == virt.RSP {
			v = virt.StackSentinel(entry)
		} else {
			v = virt.Symbolic(entry, 8)
		}
		c = c.setRegisterRaw(reg, v)
	}
	return c
}

// ParentRole tells Fork whether the child is being created because the
// current function called into another one (Caller) or because we are
// simply advancing within the same function (Same): in the latter case the
// child inherits the parent's own caller id unchanged.
type ParentRole int

const (
	// Same means "still within the same function as parent": caller id is
	// inherited.
	Same ParentRole = iota
	// Caller means "parent is the context that is calling into a new
	// function": the child's caller id becomes parent's own id.
	Caller
)

// Fork returns a child Context referencing c's registers and memory via
// copy-on-write overlay.
func (c *Context) Fork(role ParentRole) *Context {
	callerID := c.callerID
	if role == Caller {
		callerID = c.id
	}
	return &Context{
		id:       nextContextID(),
		callerID: callerID,
		hash:     c.hash,
		regs:     c.regs,
		mem:      c.mem,
	}
}

// ID returns the context's globally unique, monotonically increasing id.
func (c *Context) ID() uint64 { return c.id }

// CallerID returns the id of the context that invoked the current
// function, or the context's own id if it is a top-level (entry) context.
func (c *Context) CallerID() uint64 { return c.callerID }

// Hash returns the running hash summarizing every register update observed
// on the path that produced c. Used solely to deduplicate contexts
// recorded at the same instruction address (§3, §9).
func (c *Context) Hash() uint64 { return c.hash }

// GetRegister returns the value in reg, or the zero Value and false if it
// was never set (which should not happen after NewInitial, but callers
// should not assume it).
func (c *Context) GetRegister(reg virt.RegID) (virt.Value, bool) {
	return c.regs.Get(reg)
}

// GetMemory reads size bytes at address.
func (c *Context) GetMemory(address uint64, size uint8) virt.MemoryValues {
	return c.mem.Get(address, size)
}

// SetRegister returns a new Context with reg updated to value and the
// running hash updated to reflect the change, per §3: combine in the old
// value's (source, symbol-id-or-value), then the new value's
// (symbol-id-or-value, source). Unknown (untracked) registers are silently
// ignored, per §3 — writing one returns c unchanged.
func (c *Context) SetRegister(reg virt.RegID, value virt.Value) *Context {
	if reg == virt.RegNone {
		return c
	}
	child := c.Fork(Same)
	return child.setRegisterRaw(reg, value)
}

func (c *Context) setRegisterRaw(reg virt.RegID, value virt.Value) *Context {
	h := c.hash
	if old, ok := c.regs.Get(reg); ok {
		h = hashutil.Combine(h, uint64(old.Source()))
		if old.IsSymbolic() {
			h = hashutil.Combine(h, old.SymbolID())
		} else {
			h = hashutil.Combine(h, old.Raw())
		}
		// Don't "un-hash" reg: it is only folded in when there was no old
		// value, matching the original's own comment on this point.
	} else {
		h = hashutil.Combine(h, uint64(reg))
	}
	if value.IsSymbolic() {
		h = hashutil.Combine(h, value.SymbolID())
	} else {
		h = hashutil.Combine(h, value.Raw())
	}
	h = hashutil.Combine(h, uint64(value.Source()))

	c.hash = h
	c.regs = c.regs.Set(reg, value)
	return c
}

// SetMemory returns a new Context with a write of value at address
// recorded. Memory writes do not affect the running hash (§9: "the running
// hash summarises register writes only").
func (c *Context) SetMemory(address uint64, value virt.Value) *Context {
	child := c.Fork(Same)
	child.mem = child.mem.Set(address, value)
	return child
}
