// restruc.go adds the stage orchestrator: per-Flo grouping of memory
// accesses into the Field/Struc model struc.go implements, plus the
// cross-function linking passes that merge one Flo's Struc into another's.
//
// No teacher analogue exists (mewmew-x never infers struct layouts), so the
// orchestration shape here is grounded on reflo.Reflo and recontex.Recontex
// — the two stage types it runs directly after — generalized to this
// domain's own two-pass structure: a per-Flo synthesis pass, then a
// cross-function linking pass once every Flo's domain is known.
package restruc

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/arch/x86/x86asm"

	"rstc/internal/addr"
	"rstc/internal/rcontext"
	"rstc/internal/recontex"
	"rstc/internal/reflo"
	"rstc/internal/rlog"
	"rstc/internal/virt"
	"rstc/internal/worker"
)

// rootKey identifies one grouping root: either a specific (symbol id,
// symbol offset) pair, or a concrete address. Two accesses group together
// iff their base register's value shares a rootKey, matching the struct
// naming rule below, which bakes the same two components into the name.
type rootKey struct {
	symbolic bool
	id       uint64
	offset   int64
}

func rootKeyOf(v virt.Value) rootKey {
	if v.IsSymbolic() {
		return rootKey{symbolic: true, id: v.SymbolID(), offset: v.SymbolOffset()}
	}
	return rootKey{id: v.Raw()}
}

// StrucDomain is one root discovered in a Flo together with the Struc
// synthesized for it, the register the root was read from as a memory base,
// and the root value itself (the stack-argument rule reads PointsToStack/
// StackArgumentNumber directly off it; the register rule looks the root up
// across every register via registersHoldingRoot).
type StrucDomain struct {
	Struc   *Struc
	Root    virt.Value
	BaseReg virt.RegID
}

// argumentRegisters is the Microsoft x64 convention's first four integer
// argument registers — the only ones a caller's pre-call context can tell a
// callee's domain anything about.
var argumentRegisters = []virt.RegID{virt.RCX, virt.RDX, virt.R8, virt.R9}

// contextSource is satisfied by *recontex.Recontex. Factored out as an
// interface (rather than depending on the concrete type directly) so the
// cross-function linking passes can be exercised in tests against a
// map-backed fake, without needing a real PE image and worker pool to
// produce a populated Recontex.
type contextSource interface {
	ContextsFor(entry addr.Address) (*recontex.ContextMap, bool)
}

// Restruc owns the global Struc table (§5: one flat name -> Struc table
// shared by every Flo's synthesis) and the per-Flo domains recovered from
// it.
type Restruc struct {
	mu      sync.Mutex
	strucs  map[string]*Struc
	domains map[addr.Address]map[rootKey]*StrucDomain
}

// New returns an empty Restruc ready to Analyze a Reflo's recovered
// functions once Recontex has propagated their contexts.
func New() *Restruc {
	return &Restruc{
		strucs:  make(map[string]*Struc),
		domains: make(map[addr.Address]map[rootKey]*StrucDomain),
	}
}

// Domains returns every StrucDomain recovered for the Flo entered at entry.
// Safe to call only after Analyze returns.
func (r *Restruc) Domains(entry addr.Address) []*StrucDomain {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*StrucDomain, 0, len(r.domains[entry]))
	for _, d := range r.domains[entry] {
		out = append(out, d)
	}
	return out
}

// AllStrucs returns every synthesized Struc, sorted by name for
// deterministic output.
func (r *Restruc) AllStrucs() []*Struc {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.strucs))
	for n := range r.strucs {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]*Struc, len(names))
	for i, n := range names {
		out[i] = r.strucs[n]
	}
	return out
}

func (r *Restruc) lookupOrCreate(name string) *Struc {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.strucs[name]; ok {
		return s
	}
	s := NewStruc(name)
	r.strucs[name] = s
	return s
}

// strucName implements the naming rule: <flo_va>_<symbol_id_or_value>_<offset>
// in hex, which differentiates multiple roots sharing a Flo by symbol id and
// by the pointer-arithmetic offset baked into the root itself.
func strucName(floEntry addr.Address, root virt.Value) string {
	if root.IsSymbolic() {
		return fmt.Sprintf("%x_%x_%x", uint64(floEntry), root.SymbolID(), root.SymbolOffset())
	}
	return fmt.Sprintf("%x_%x_0", uint64(floEntry), root.Raw())
}

// callSite is one recorded CALL instruction, reindexed by its target so the
// cross-function linking passes can find, for any Flo, every place it is
// called from.
type callSite struct {
	caller addr.Address
	src    addr.Address
}

func buildCallerIndex(flos map[addr.Address]*reflo.Flo) map[addr.Address][]callSite {
	idx := make(map[addr.Address][]callSite)
	for entry, f := range flos {
		for src, calls := range f.Calls {
			for _, c := range calls {
				idx[c.Dst] = append(idx[c.Dst], callSite{caller: entry, src: src})
			}
		}
	}
	return idx
}

// Analyze runs structure synthesis over every Flo Recontex has propagated
// contexts for: a per-Flo pass (bounded by pool, §5) followed by a
// cross-function linking pass that needs every Flo's domain already built,
// so it runs as a barrier after the per-Flo stage rather than interleaved
// with it.
func (r *Restruc) Analyze(ctx context.Context, pool *worker.Pool, rf *reflo.Reflo, rc *recontex.Recontex) error {
	log := rlog.Stage("restruc")

	type job struct {
		entry addr.Address
		flo   *reflo.Flo
		cm    *recontex.ContextMap
	}
	var jobs []job
	for entry, f := range rf.Flos() {
		cm, ok := rc.ContextsFor(entry)
		if !ok {
			continue
		}
		jobs = append(jobs, job{entry: entry, flo: f, cm: cm})
	}

	err := worker.RunStage(ctx, pool, jobs, func(_ context.Context, j job) error {
		domains := r.createFloStrucs(j.flo, j.cm)
		r.mu.Lock()
		r.domains[j.entry] = domains
		r.mu.Unlock()
		return nil
	})
	if err != nil {
		return err
	}

	r.linkAcrossFunctions(rf.Flos(), rc)
	log.Infof("synthesized %d structs across %d functions", len(r.strucs), len(r.domains))
	return nil
}

// memOperand locates the single memory operand in inst's argument list (x86
// never encodes two), returning it, its argument index, and the other
// (register or immediate) operand alongside it.
func memOperand(inst x86asm.Inst) (mem x86asm.Mem, memIdx int, other x86asm.Arg, ok bool) {
	for i, arg := range inst.Args {
		if m, isMem := arg.(x86asm.Mem); isMem {
			mem, memIdx, ok = m, i, true
			break
		}
	}
	if !ok {
		return
	}
	for i, arg := range inst.Args {
		if i != memIdx && arg != nil {
			other = arg
			break
		}
	}
	return
}

// classifyAccess infers a field's type and size from the instruction and
// the operand paired with the memory access: a vector register on the other
// side means Float (SSE/AVX move and arithmetic mnemonics all pair a memory
// operand with an X0-X15 register), a zero-extending load means UInt,
// anything else defaults to a signed Int.
func classifyAccess(inst x86asm.Inst, mem x86asm.Mem, other x86asm.Arg) (FieldType, uint8) {
	size := uint8(inst.MemBytes)
	if size == 0 {
		size = 8
	}
	if reg, ok := other.(x86asm.Reg); ok {
		if root, _, ok2 := virt.RootOf(reg); ok2 && root >= virt.X0 && root <= virt.X15 {
			return Float, size
		}
	}
	if inst.Op == x86asm.MOVZX {
		return UInt, size
	}
	return Int, size
}

// writtenRegisterValue returns the value a store's source register holds in
// ctx, if the source is a register and the written value is symbolic — the
// only case intra-function linking cares about (a pointer field).
func writtenRegisterValue(other x86asm.Arg, ctx *rcontext.Context) (virt.Value, bool) {
	reg, ok := other.(x86asm.Reg)
	if !ok {
		return virt.Value{}, false
	}
	root, _, ok := virt.RootOf(reg)
	if !ok {
		return virt.Value{}, false
	}
	v, ok := ctx.GetRegister(root)
	if !ok || !v.IsSymbolic() {
		return virt.Value{}, false
	}
	return v, true
}

// createFloStrucs implements the per-Flo synthesis pass: group every
// explicit non-stack memory access by its base register's root value,
// infer each field's type and size, then link pointer-valued writes to
// whichever other group in this same Flo they point at.
func (r *Restruc) createFloStrucs(f *reflo.Flo, cm *recontex.ContextMap) map[rootKey]*StrucDomain {
	domains := make(map[rootKey]*StrucDomain)
	// pointerWrites[group][offset] names the rootKey observed written at
	// offset within group, a promotion candidate resolved once every group
	// in this Flo has its Struc (step 3, intra-function linking).
	pointerWrites := make(map[rootKey]map[int64]rootKey)

	for a, inst := range f.Instructions {
		if reflo.IsAnyJump(inst.Op) || reflo.IsCall(inst.Op) || reflo.IsRet(inst.Op) || inst.Op == x86asm.LEA {
			continue
		}
		mem, memIdx, other, ok := memOperand(inst)
		if !ok || mem.Base == 0 || mem.Base == x86asm.RIP {
			continue
		}
		baseReg, _, ok := virt.RootOf(mem.Base)
		if !ok || baseReg == virt.RSP {
			// RSP-based accesses are this function's own stack frame, not a
			// recoverable aggregate in their own right; a stack-passed
			// argument is linked at the caller via the register/stack
			// cross-function rules below instead.
			continue
		}
		typ, size := classifyAccess(inst, mem, other)
		isWrite := memIdx == 0
		offset := int64(mem.Disp)

		for _, ctx := range cm.At(a) {
			rootVal, ok := ctx.GetRegister(baseReg)
			if !ok {
				continue
			}
			key := rootKeyOf(rootVal)
			dom, exists := domains[key]
			if !exists {
				dom = &StrucDomain{
					Struc:   r.lookupOrCreate(strucName(f.EntryPoint, rootVal)),
					Root:    rootVal,
					BaseReg: baseReg,
				}
				domains[key] = dom
			}

			switch typ {
			case Float:
				dom.Struc.AddFloatField(uint64(offset), size, 1)
			case UInt:
				dom.Struc.AddIntField(uint64(offset), size, false, 1)
			default:
				dom.Struc.AddIntField(uint64(offset), size, true, 1)
			}

			// A store from a vector register is a float field, never a
			// pointer candidate.
			if isWrite && typ != Float {
				if written, ok := writtenRegisterValue(other, ctx); ok {
					if pointerWrites[key] == nil {
						pointerWrites[key] = make(map[int64]rootKey)
					}
					pointerWrites[key][offset] = rootKeyOf(written)
				}
			}
		}
	}

	for key, writes := range pointerWrites {
		dom := domains[key]
		for offset, targetKey := range writes {
			target, ok := domains[targetKey]
			if !ok || target == dom {
				continue
			}
			dom.Struc.AddPointerField(uint64(offset), 1, target.Struc)
		}
	}

	for _, dom := range domains {
		dom.Struc.CollapseArrays()
	}

	return domains
}

// registersHoldingRoot scans every context recorded for a Flo and returns
// the set of registers observed holding a value with the same symbol id as
// root at any point — struc.hxx's "every register that held root R anywhere
// in F", used by the register cross-function linking rule.
func registersHoldingRoot(cm *recontex.ContextMap, root virt.Value) map[virt.RegID]bool {
	held := make(map[virt.RegID]bool)
	if !root.IsSymbolic() {
		return held
	}
	for _, a := range cm.Addresses() {
		for _, ctx := range cm.At(a) {
			for _, reg := range virt.AllRegisters() {
				v, ok := ctx.GetRegister(reg)
				if ok && v.IsSymbolic() && v.SymbolID() == root.SymbolID() {
					held[reg] = true
				}
			}
		}
	}
	return held
}

// linkAcrossFunctions implements the two cross-function linking rules: a
// stack-argument root merges into whichever caller's Struc its call-site
// stack slot names, and a register-held root merges into whichever caller's
// Struc its call-site argument register names. Both rules run only after
// every Flo's per-Flo domain already exists, since they read one Flo's
// Recontex-recorded contexts to resolve another Flo's Struc.
func (r *Restruc) linkAcrossFunctions(flos map[addr.Address]*reflo.Flo, cs contextSource) {
	callers := buildCallerIndex(flos)

	type pending struct {
		entry  addr.Address
		domain *StrucDomain
	}
	r.mu.Lock()
	var all []pending
	for entry, doms := range r.domains {
		for _, d := range doms {
			all = append(all, pending{entry, d})
		}
	}
	r.mu.Unlock()

	for _, p := range all {
		sites := callers[p.entry]
		if len(sites) == 0 {
			continue
		}
		if p.domain.Root.PointsToStack() {
			r.linkStackArgument(p.domain, sites, cs)
			continue
		}
		if p.domain.Root.IsSymbolic() {
			r.linkRegisterArgument(p.entry, p.domain, sites, cs)
		}
	}
}

// linkStackArgument resolves the caller-side value of a stack-passed
// argument. A stack-magic-tagged root encodes its slot number in its low 32
// bits (Value.StackArgumentNumber). Since emulateCall leaves RSP and memory
// untouched (the callee's own prologue/epilogue is assumed to balance the
// stack exactly), the context recorded at the call site still holds the
// caller's own stack layout: slot N sits at the caller's own RSP plus N*8
// (the callee's entry RSP is the caller's RSP minus the implicit
// return-address push, and slot N sits at displacement (N+1)*8 from the
// callee's entry RSP; substituting gives callerRSP + N*8). Because
// virt.StackSentinel always produces the identical constant regardless of
// which Flo it seeds, slot numbers are directly comparable across every Flo
// without any per-Flo normalization.
func (r *Restruc) linkStackArgument(domain *StrucDomain, sites []callSite, cs contextSource) {
	slot := domain.Root.StackArgumentNumber()
	if slot < 0 {
		return
	}
	for _, site := range sites {
		callerCM, ok := cs.ContextsFor(site.caller)
		if !ok {
			continue
		}
		for _, ctx := range callerCM.At(site.src) {
			rsp, ok := ctx.GetRegister(virt.RSP)
			if !ok || rsp.IsSymbolic() {
				continue
			}
			slotAddr := rsp.Raw() + uint64(slot)*8
			mv := ctx.GetMemory(slotAddr, 8)
			if len(mv.Values) != 1 || !mv.Values[0].IsSymbolic() {
				continue
			}
			r.mergeIntoCallerDomain(site.caller, mv.Values[0], domain.Struc)
		}
	}
}

// linkRegisterArgument resolves the caller-side value of a register-passed
// argument. It cannot compare symbol ids across Flos directly — ids are
// allocated fresh for each Flo's own initial context — so instead it checks
// positionally: if this Flo's root R was ever observed held in one of the
// four integer argument registers, then at every call site that invokes
// this Flo, whatever value the CALLER itself had in that same register —
// read from the call's pre-call context, since CALL's post-effect context
// already clobbers volatile registers — is looked up against the CALLER's
// own domain (a same-Flo symbol-id comparison, which is always valid) and
// merged if found.
func (r *Restruc) linkRegisterArgument(entry addr.Address, domain *StrucDomain, sites []callSite, cs contextSource) {
	cm, ok := cs.ContextsFor(entry)
	if !ok {
		return
	}
	held := registersHoldingRoot(cm, domain.Root)

	for _, reg := range argumentRegisters {
		if !held[reg] {
			continue
		}
		for _, site := range sites {
			callerCM, ok := cs.ContextsFor(site.caller)
			if !ok {
				continue
			}
			for _, ctx := range callerCM.CallSiteContexts(site.src) {
				v, ok := ctx.GetRegister(reg)
				if !ok || !v.IsSymbolic() {
					continue
				}
				r.mergeIntoCallerDomain(site.caller, v, domain.Struc)
			}
		}
	}
}

func (r *Restruc) mergeIntoCallerDomain(callerEntry addr.Address, v virt.Value, src *Struc) {
	r.mu.Lock()
	doms := r.domains[callerEntry]
	r.mu.Unlock()
	if doms == nil {
		return
	}
	if dom, ok := doms[rootKeyOf(v)]; ok {
		dom.Struc.Merge(src)
	}
}
