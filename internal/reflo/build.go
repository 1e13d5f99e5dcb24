package reflo

import (
	"golang.org/x/arch/x86/x86asm"

	"rstc/internal/addr"
	"rstc/internal/peimage"
	"rstc/internal/rerr"
)

// builder decodes one Flo at a time against a shared, immutable image.
type builder struct {
	img *peimage.Image
}

// decodeAt decodes a single instruction at address, bounded by the end of
// its containing section.
func (b *builder) decodeAt(address addr.Address) (x86asm.Inst, error) {
	data, err := b.img.Bytes(address)
	if err != nil {
		return x86asm.Inst{}, rerr.Wrap(rerr.DecodeError, err, "address not mapped")
	}
	end := b.img.End(address)
	avail := data
	if end.Valid() {
		if max := int(end - address); max < len(avail) {
			avail = avail[:max]
		}
	}
	inst, err := x86asm.Decode(avail, 64)
	if err != nil {
		return x86asm.Inst{}, rerr.Wrap(rerr.DecodeError, err, "decode instruction")
	}
	return inst, nil
}

// analyze implements CFGraph::analyze from §4.1: decode the instruction
// already stored at address, classify it, record edges, and return the
// next address to continue the trace at, or addr.Nil to halt.
func (b *builder) analyze(f *Flo, address addr.Address) addr.Address {
	inst := f.Instructions[address]
	next := address.Add(int64(inst.Len))
	f.promoteUnknown(address, Inner)

	switch {
	case IsCall(inst.Op):
		if dst, ok := RelTarget(address, inst); ok {
			f.addCall(dst, address, next)
		} else {
			f.addCall(addr.Nil, address, next)
		}
		return next

	case IsRet(inst.Op):
		f.HasRet = true
		if f.IsInner(next) {
			return next
		}
		return addr.Nil

	case IsAnyJump(inst.Op):
		unconditional := IsUnconditionalJump(inst.Op)
		dst, resolved := RelTarget(address, inst)
		if !resolved {
			f.HasUnresolvedJump = true
			if !unconditional {
				return next
			}
			return addr.Nil
		}
		jt := b.classify(f, dst, address, next)
		f.addJump(jt, dst, address)
		if !unconditional {
			return next
		}
		switch jt {
		case Unknown:
			if f.promoteUnknown(next, Inner) {
				return next
			}
			return addr.Nil
		case Inner:
			if dst >= next {
				return next
			}
			return addr.Nil
		default: // Outer
			return addr.Nil
		}

	default:
		return next
	}
}

// classify implements CFGraph::get_jump_type from §4.1.
func (b *builder) classify(f *Flo, dst, src, next addr.Address) JumpType {
	switch {
	case dst == next:
		return Inner
	case len(f.Instructions) == 1:
		return Outer
	}
	if _, ok := f.Instructions[dst]; ok {
		return Inner
	}
	if dst < f.EntryPoint {
		return Outer
	}
	return Unknown
}

// fill decodes sequentially from f's current end (or its entry point, if
// empty) until the trace halts or runs off the end of its section.
func (b *builder) fill(f *Flo) error {
	next := f.EntryPoint
	if len(f.Instructions) > 0 {
		next = f.LastAddress().Add(int64(f.Lengths[f.LastAddress()]))
	}
	end := b.img.End(next)
	for {
		address := next
		if !address.Valid() || (end.Valid() && address >= end) {
			return nil
		}
		inst, err := b.decodeAt(address)
		if err != nil {
			return err
		}
		f.addInstruction(address, inst)
		next = b.analyze(f, address)
	}
}

// canMergeWithOuter implements CFGraph::can_merge_with_outer_cfgraph: a
// sub-trace can be absorbed into its outer Flo when it is either
// self-complete, or its first instruction abuts the outer Flo's current
// last instruction.
func canMergeWithOuter(outer, sub *Flo) bool {
	if sub.IsComplete() {
		return true
	}
	if len(sub.Instructions) == 0 {
		return false
	}
	outerLast := outer.LastAddress()
	if !outerLast.Valid() {
		return false
	}
	outerEnd := outerLast.Add(int64(outer.Lengths[outerLast]))
	subFirst := sub.SortedAddresses()[0]
	return subFirst == outerEnd
}

// resolveIncomplete implements Restruc::resolve_incomplete_cfgraph: while f
// has unknown jumps, pick the lowest unresolved destination, trace a
// sub-Flo rooted there, and either merge it in (if contiguous / complete)
// or demote the destination to Outer and keep trying.
func (b *builder) resolveIncomplete(f *Flo) error {
	for len(f.UnknownJumps) > 0 {
		dst := lowestKey(f.UnknownJumps)
		sub := newFlo(dst)
		if err := b.fillSub(f, sub); err != nil {
			return err
		}
		if canMergeWithOuter(f, sub) {
			f.merge(sub)
			break
		}
		f.promoteUnknown(dst, Outer)
	}
	return nil
}

// fillSub traces a sub-CFGraph rooted at sub.EntryPoint, with outer as its
// outer scope: addresses visited during the sub-trace can promote matching
// unknown jumps in both sub and outer (CFGraph::visit).
func (b *builder) fillSub(outer, sub *Flo) error {
	next := sub.EntryPoint
	end := b.img.End(next)
	for {
		address := next
		if !address.Valid() || (end.Valid() && address >= end) {
			return nil
		}
		inst, err := b.decodeAt(address)
		if err != nil {
			return err
		}
		sub.addInstruction(address, inst)
		sub.promoteUnknown(address, Inner)
		outer.promoteUnknown(address, Inner)
		next = b.analyze(sub, address)
		if canMergeWithOuter(outer, sub) {
			return nil
		}
	}
}

func lowestKey(m map[addr.Address][]Jump) addr.Address {
	first := true
	var lowest addr.Address
	for k := range m {
		if first || k < lowest {
			lowest = k
			first = false
		}
	}
	return lowest
}

// BuildFlo fully disassembles the function at entry, iterating fill/resolve
// until the CFGraph is complete, per §4.1.
func BuildFlo(img *peimage.Image, entry addr.Address) (*Flo, error) {
	b := &builder{img: img}
	f := newFlo(entry)
	for {
		if err := b.fill(f); err != nil {
			return nil, err
		}
		if f.IsComplete() {
			return f, nil
		}
		if len(f.UnknownJumps) == 0 {
			// Nothing left to resolve but still incomplete (e.g. ran off
			// the end of the section, or hit an unresolved indirect
			// branch): the Flo is final as-is.
			return f, nil
		}
		if err := b.resolveIncomplete(f); err != nil {
			return nil, err
		}
		if f.IsComplete() {
			return f, nil
		}
	}
}
