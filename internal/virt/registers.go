package virt

import (
	"golang.org/x/arch/x86/x86asm"
)

// RegID is a canonical x86-64 register root: the whitelist of registers the
// abstract machine tracks. Writes to any alias of a root (EAX, AX, AL all
// alias RAX) update the one slot for that root.
type RegID uint8

const (
	RegNone RegID = iota
	RAX
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
	RIP
	// Segment stubs: tracked as opaque 64-bit slots, never decomposed.
	ES
	CS
	SS
	DS
	FS
	GS
	// Vector registers, widest form exposed by the decoder (x86asm tops out
	// at 128-bit XMM; there is no wider AVX-512 form to track since the
	// decoder collaborator doesn't expose one).
	X0
	X1
	X2
	X3
	X4
	X5
	X6
	X7
	X8
	X9
	X10
	X11
	X12
	X13
	X14
	X15

	regCount
)

// regInfo describes how a decoder-level x86asm.Reg maps onto a tracked
// RegID root and the width, in bytes, of that particular alias.
type regInfo struct {
	root  RegID
	width uint8
}

var regAliasTable = map[x86asm.Reg]regInfo{
	x86asm.AL: {RAX, 1}, x86asm.AH: {RAX, 1}, x86asm.AX: {RAX, 2}, x86asm.EAX: {RAX, 4}, x86asm.RAX: {RAX, 8},
	x86asm.CL: {RCX, 1}, x86asm.CH: {RCX, 1}, x86asm.CX: {RCX, 2}, x86asm.ECX: {RCX, 4}, x86asm.RCX: {RCX, 8},
	x86asm.DL: {RDX, 1}, x86asm.DH: {RDX, 1}, x86asm.DX: {RDX, 2}, x86asm.EDX: {RDX, 4}, x86asm.RDX: {RDX, 8},
	x86asm.BL: {RBX, 1}, x86asm.BH: {RBX, 1}, x86asm.BX: {RBX, 2}, x86asm.EBX: {RBX, 4}, x86asm.RBX: {RBX, 8},
	x86asm.SPB: {RSP, 1}, x86asm.SP: {RSP, 2}, x86asm.ESP: {RSP, 4}, x86asm.RSP: {RSP, 8},
	x86asm.BPB: {RBP, 1}, x86asm.BP: {RBP, 2}, x86asm.EBP: {RBP, 4}, x86asm.RBP: {RBP, 8},
	x86asm.SIB: {RSI, 1}, x86asm.SI: {RSI, 2}, x86asm.ESI: {RSI, 4}, x86asm.RSI: {RSI, 8},
	x86asm.DIB: {RDI, 1}, x86asm.DI: {RDI, 2}, x86asm.EDI: {RDI, 4}, x86asm.RDI: {RDI, 8},

	x86asm.R8B: {R8, 1}, x86asm.R8W: {R8, 2}, x86asm.R8L: {R8, 4}, x86asm.R8: {R8, 8},
	x86asm.R9B: {R9, 1}, x86asm.R9W: {R9, 2}, x86asm.R9L: {R9, 4}, x86asm.R9: {R9, 8},
	x86asm.R10B: {R10, 1}, x86asm.R10W: {R10, 2}, x86asm.R10L: {R10, 4}, x86asm.R10: {R10, 8},
	x86asm.R11B: {R11, 1}, x86asm.R11W: {R11, 2}, x86asm.R11L: {R11, 4}, x86asm.R11: {R11, 8},
	x86asm.R12B: {R12, 1}, x86asm.R12W: {R12, 2}, x86asm.R12L: {R12, 4}, x86asm.R12: {R12, 8},
	x86asm.R13B: {R13, 1}, x86asm.R13W: {R13, 2}, x86asm.R13L: {R13, 4}, x86asm.R13: {R13, 8},
	x86asm.R14B: {R14, 1}, x86asm.R14W: {R14, 2}, x86asm.R14L: {R14, 4}, x86asm.R14: {R14, 8},
	x86asm.R15B: {R15, 1}, x86asm.R15W: {R15, 2}, x86asm.R15L: {R15, 4}, x86asm.R15: {R15, 8},

	x86asm.IP: {RIP, 2}, x86asm.EIP: {RIP, 4}, x86asm.RIP: {RIP, 8},

	x86asm.ES: {ES, 8}, x86asm.CS: {CS, 8}, x86asm.SS: {SS, 8}, x86asm.DS: {DS, 8}, x86asm.FS: {FS, 8}, x86asm.GS: {GS, 8},

	x86asm.X0: {X0, 16}, x86asm.X1: {X1, 16}, x86asm.X2: {X2, 16}, x86asm.X3: {X3, 16},
	x86asm.X4: {X4, 16}, x86asm.X5: {X5, 16}, x86asm.X6: {X6, 16}, x86asm.X7: {X7, 16},
	x86asm.X8: {X8, 16}, x86asm.X9: {X9, 16}, x86asm.X10: {X10, 16}, x86asm.X11: {X11, 16},
	x86asm.X12: {X12, 16}, x86asm.X13: {X13, 16}, x86asm.X14: {X14, 16}, x86asm.X15: {X15, 16},
}

// RootOf reports the canonical RegID root and alias width for a decoder
// register, and whether r is one of the tracked registers at all. Unknown
// aliases (segment-internal system registers, debug/control/task registers
// the spec does not track) report ok=false and are silently ignored by
// callers, per §3.
func RootOf(r x86asm.Reg) (id RegID, widthBytes uint8, ok bool) {
	info, ok := regAliasTable[r]
	if !ok {
		return RegNone, 0, false
	}
	return info.root, info.width, true
}

// VolatileRegisters is the Microsoft x64 ABI's caller-saved register set, as
// tracked by this analyzer: a CALL is modeled as clobbering exactly these.
var VolatileRegisters = []RegID{RAX, RCX, RDX, R8, R9, R10, R11, X0, X1, X2, X3, X4, X5}

// NonVolatileRegisters is the Microsoft x64 ABI's callee-saved register set.
var NonVolatileRegisters = []RegID{RBX, RBP, RSP, RDI, RSI, R12, R13, R14, R15, X6, X7, X8, X9, X10, X11, X12, X13, X14, X15}

// AllRegisters enumerates every tracked root, used to seed a fresh Flo's
// initial context with symbolic values.
func AllRegisters() []RegID {
	regs := make([]RegID, 0, int(regCount)-1)
	for id := RegID(1); id < regCount; id++ {
		regs = append(regs, id)
	}
	return regs
}

// Registers is a persistent, copy-on-write mapping from RegID to Value. A
// child Registers references its parent and overlays only the slots it
// itself has written, following the same parent-linked construction the
// Context type uses for its register and memory stores (§3, §9).
type Registers struct {
	parent *Registers
	slots  map[RegID]Value
}

// NewRegisters returns an empty register file with no parent.
func NewRegisters() *Registers {
	return &Registers{}
}

// Get returns the value held in reg, searching this node then its
// ancestors, and ok=false if reg was never set along the chain.
func (r *Registers) Get(reg RegID) (Value, bool) {
	for n := r; n != nil; n = n.parent {
		if v, ok := n.slots[reg]; ok {
			return v, true
		}
	}
	return Value{}, false
}

// Set returns a new Registers with reg updated to value, sharing all other
// slots with r via the parent chain (O(1) fork).
func (r *Registers) Set(reg RegID, value Value) *Registers {
	return &Registers{parent: r, slots: map[RegID]Value{reg: value}}
}
