// Package restruc implements structure synthesis (§4.4): per-Flo grouping
// of memory accesses by their root symbolic value, typed field inference,
// and cross-function linking of the resulting Strucs. Grounded on
// _examples/original_source/src/struc.cxx for the field-aliasing and merge
// rules (the authoritative source for dedup/union behavior the distilled
// spec only describes in prose) and on restruc.hxx's method names for the
// overall shape, since restruc.cxx itself in the retrieval pack predates
// the Struc/StrucDomain split and does not implement them.
package restruc

import (
	"fmt"
	"sort"
	"sync"
)

// FieldType is a Field's inferred kind, ordered by the "wins on a tie"
// priority struc.cxx's is_duplicate/merge_fields use when one of several
// aliasing writes at the same offset must be kept: a plain integer loses
// to a float or pointer read at the same offset and size.
type FieldType int

const (
	Int FieldType = iota
	UInt
	Float
	Pointer
	FieldStruc
)

func (t FieldType) String() string {
	switch t {
	case Int:
		return "int"
	case UInt:
		return "uint"
	case Float:
		return "float"
	case Pointer:
		return "pointer"
	case FieldStruc:
		return "struc"
	default:
		return "unknown"
	}
}

// Field is one typed slot at some offset within a Struc. Target is the
// referenced Struc for Pointer and FieldStruc fields, nil otherwise.
type Field struct {
	Type   FieldType
	Size   uint8
	Count  int
	Target *Struc
}

// isPointerAlias reports whether this field, read back at size bytes, could
// just as well be interpreted as a pointer — an 8-byte Int, UInt, or Pointer.
func (f Field) isPointerAlias(size uint8) bool {
	return f.Size == 8 && size == 8 && (f.Type == Int || f.Type == UInt || f.Type == Pointer)
}

// isFloatAlias reports whether this field could be reinterpreted as a float
// of the given size: any numeric type at a matching width.
func (f Field) isFloatAlias(size uint8) bool {
	if f.Size != size {
		return false
	}
	return f.Type == Int || f.Type == UInt || f.Type == Float
}

// isTypedAlias reports whether this field could be reinterpreted as any
// numeric or pointer type of the given size.
func (f Field) isTypedAlias(size uint8) bool {
	if f.Size != size {
		return false
	}
	return f.Type == Int || f.Type == UInt || f.Type == Float || f.Type == Pointer
}

// CTypeName renders the field's C-style type spelling, used by the dumper.
func (f Field) CTypeName() string {
	switch f.Type {
	case UInt:
		return cIntName("uint", f.Size)
	case Int:
		return cIntName("int", f.Size)
	case Float:
		switch f.Size {
		case 2:
			return "f16_t"
		case 4:
			return "float"
		case 8:
			return "double"
		case 10:
			return "long double"
		}
	case Pointer:
		if f.Target != nil {
			return f.Target.Name() + "*"
		}
		return "void*"
	case FieldStruc:
		if f.Target != nil {
			return f.Target.Name()
		}
	}
	return ""
}

func cIntName(base string, size uint8) string {
	return fmt.Sprintf("%s%d_t", base, int(size)*8)
}

// fieldAt pairs a Field with the offset it was inserted at, preserving
// multiple entries at the same offset (a union) in insertion order.
type fieldAt struct {
	Offset uint64
	Field  Field
}

// Struc is a recovered aggregate type: a name and an ordered multimap from
// offset to the Field(s) observed there (more than one at an offset means a
// union).
type Struc struct {
	mu     sync.Mutex
	name   string
	fields []fieldAt
	// covered tracks every byte offset any field occupies, mirroring
	// struc.cxx's field_set_, used by has_field_at_offset.
	covered map[uint64]bool
}

// NewStruc returns an empty Struc named name.
func NewStruc(name string) *Struc {
	return &Struc{name: name, covered: make(map[uint64]bool)}
}

// Name returns the Struc's name.
func (s *Struc) Name() string { return s.name }

// minArrayRun is the fewest contiguous same-type, same-size, same-stride
// accesses CollapseArrays will fold into an array field. Two adjacent
// scalars of the same type (e.g. two int32_t struct members in a row) are
// the ordinary case and must stay distinct fields; nothing short of a
// three-or-more-element run is good evidence of an actual array walk rather
// than coincidentally-adjacent scalars. Chosen to satisfy both the flat
// two-field struct and the four-element array scenarios without a source
// to confirm the original threshold against: recorded as an Open Question
// decision, not read off struc.cxx (which predates array inference).
const minArrayRun = 3

// CollapseArrays merges consecutive runs of at least minArrayRun
// identically-typed, identically-sized fields sitting at stride == size
// offsets into a single field with Count set to the run length — struc.cxx's
// array inference, scanning contiguous same-stride accesses after every
// individual access has already been recorded as its own field. Called once
// per domain after its accesses are fully gathered (and after any
// intra-function pointer promotion), since collapsing earlier would merge
// fields a later promotion still needs to address individually by offset.
func (s *Struc) CollapseArrays() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.fields) < minArrayRun {
		return
	}
	sorted := make([]fieldAt, len(s.fields))
	copy(sorted, s.fields)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Offset < sorted[j].Offset })

	var out []fieldAt
	i := 0
	for i < len(sorted) {
		cur := sorted[i]
		count := maxInt(cur.Field.Count, 1)
		size := uint64(cur.Field.Size)
		j := i + 1
		for size > 0 && j < len(sorted) {
			nxt := sorted[j]
			if nxt.Offset != cur.Offset+uint64(count)*size {
				break
			}
			if nxt.Field.Type != cur.Field.Type || nxt.Field.Size != cur.Field.Size || nxt.Field.Target != cur.Field.Target {
				break
			}
			count += maxInt(nxt.Field.Count, 1)
			j++
		}
		if j == i {
			j = i + 1
		}
		if count >= minArrayRun {
			cur.Field.Count = count
			out = append(out, cur)
		} else {
			out = append(out, sorted[i:j]...)
		}
		i = j
	}
	s.fields = out
}

// Fields returns every field, sorted by offset then insertion order (a
// union's members appear consecutively at equal offset). Safe for
// concurrent use: returns a snapshot copy.
func (s *Struc) Fields() []Field {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]fieldAt, len(s.fields))
	copy(out, s.fields)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Offset < out[j].Offset })
	fields := make([]Field, len(out))
	offsets := make([]uint64, len(out))
	for i, fa := range out {
		fields[i] = fa.Field
		offsets[i] = fa.Offset
	}
	return fields
}

// FieldOffsets returns the offset of each field in the same order Fields
// returns them.
func (s *Struc) FieldOffsets() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]fieldAt, len(s.fields))
	copy(out, s.fields)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Offset < out[j].Offset })
	offsets := make([]uint64, len(out))
	for i, fa := range out {
		offsets[i] = fa.Offset
	}
	return offsets
}

// Size returns the Struc's total byte size: the end offset of its
// last-placed, widest field.
func (s *Struc) Size() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.fields) == 0 {
		return 0
	}
	lastOffset := s.fields[0].Offset
	for _, fa := range s.fields {
		if fa.Offset > lastOffset {
			lastOffset = fa.Offset
		}
	}
	var widest uint64
	for _, fa := range s.fields {
		if fa.Offset != lastOffset {
			continue
		}
		end := uint64(fa.Field.Size) * uint64(maxInt(fa.Field.Count, 1))
		if end > widest {
			widest = end
		}
	}
	return lastOffset + widest
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// AddIntField inserts an integer field at offset, unless an existing field
// there already aliases it at the same size (struc.cxx's add_int_field).
func (s *Struc) AddIntField(offset uint64, size uint8, signed bool, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasAliasLocked(offset, func(f Field) bool { return f.isTypedAlias(size) }) {
		return
	}
	typ := UInt
	if signed {
		typ = Int
	}
	s.addFieldLocked(offset, Field{Type: typ, Size: size, Count: maxInt(count, 1)})
}

// AddFloatField inserts a float field at offset, absorbing (removing) any
// integer aliases of the same size already there, and keeping the larger of
// the removed aliases' count and count (struc.cxx's add_float_field).
func (s *Struc) AddFloatField(offset uint64, size uint8, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addFloatFieldLocked(offset, size, count)
}

func (s *Struc) addFloatFieldLocked(offset uint64, size uint8, count int) {
	removedCount := s.removeAliasesLocked(offset, func(f Field) bool { return f.isFloatAlias(size) })
	s.addFieldLocked(offset, Field{Type: Float, Size: size, Count: maxInt(maxInt(count, 1), removedCount)})
}

// AddPointerField inserts a pointer field at offset, absorbing any 8-byte
// integer aliases already there (struc.cxx's add_pointer_field).
func (s *Struc) AddPointerField(offset uint64, count int, target *Struc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addPointerFieldLocked(offset, count, target)
}

func (s *Struc) addPointerFieldLocked(offset uint64, count int, target *Struc) {
	removedCount := s.removeAliasesLocked(offset, func(f Field) bool { return f.isPointerAlias(8) })
	s.addFieldLocked(offset, Field{Type: Pointer, Size: 8, Count: maxInt(maxInt(count, 1), removedCount), Target: target})
}

// AddStrucField inserts an inline struct-embed field at offset.
func (s *Struc) AddStrucField(offset uint64, target *Struc, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addFieldLocked(offset, Field{Type: FieldStruc, Size: 0, Count: maxInt(count, 1), Target: target})
}

func (s *Struc) hasAliasLocked(offset uint64, alias func(Field) bool) bool {
	for _, fa := range s.fields {
		if fa.Offset == offset && alias(fa.Field) {
			return true
		}
	}
	return false
}

func (s *Struc) removeAliasesLocked(offset uint64, alias func(Field) bool) int {
	count := 1
	kept := s.fields[:0:0]
	for _, fa := range s.fields {
		if fa.Offset == offset && alias(fa.Field) {
			if fa.Field.Count > count {
				count = fa.Field.Count
			}
			continue
		}
		kept = append(kept, fa)
	}
	s.fields = kept
	return count
}

// isDuplicateLocked reports whether field at offset is already covered by
// an existing, equal-or-stronger-typed field at an aligned overlapping
// offset, per struc.cxx's is_duplicate.
func (s *Struc) isDuplicateLocked(offset uint64, field Field) bool {
	for i := len(s.fields) - 1; i >= 0; i-- {
		fa := s.fields[i]
		if fa.Offset > offset {
			continue
		}
		end := fa.Offset + uint64(fa.Field.Size)*uint64(maxInt(fa.Field.Count, 1))
		if end <= offset {
			continue
		}
		if fa.Field.Size != field.Size {
			continue
		}
		if field.Size != 0 && fa.Offset%uint64(field.Size) != offset%uint64(field.Size) {
			continue
		}
		switch fa.Field.Type {
		case Int, UInt:
			if field.isTypedAlias(fa.Field.Size) && field.Type <= fa.Field.Type {
				return true
			}
		case Float:
			if field.isFloatAlias(fa.Field.Size) && field.Type <= fa.Field.Type {
				return true
			}
		case Pointer:
			if field.isPointerAlias(fa.Field.Size) && field.Type <= fa.Field.Type {
				return true
			}
		case FieldStruc:
			if field.Type == FieldStruc {
				return true
			}
		}
	}
	return false
}

func (s *Struc) addFieldLocked(offset uint64, field Field) {
	if s.isDuplicateLocked(offset, field) {
		return
	}
	n := maxInt(field.Count, 1)
	size := uint64(field.Size)
	if size == 0 {
		size = 1
	}
	for i := 0; i < n; i++ {
		s.covered[offset+uint64(i)*size] = true
	}
	s.fields = append(s.fields, fieldAt{Offset: offset, Field: field})
}

func (s *Struc) hasFieldAtOffsetLocked(offset uint64) bool {
	return s.covered[offset]
}

// mergeFieldsLocked is struc.cxx's merge_fields: re-add field at offset
// through the normal add_* path (preserving alias-absorption rules) unless
// an identical field is already there.
func (s *Struc) mergeFieldsLocked(offset uint64, field Field) {
	if !s.hasFieldAtOffsetLocked(offset) {
		s.addFieldLocked(offset, field)
		return
	}
	if s.isDuplicateLocked(offset, field) {
		return
	}
	switch {
	case field.Type == Pointer && field.Target != nil:
		s.addPointerFieldLocked(offset, 1, field.Target)
	case field.Type == Float:
		s.addFloatFieldLocked(offset, field.Size, field.Count)
	default:
		s.addFieldLocked(offset, field)
	}
}

// mergeMu serializes every merge across every Struc in the program, exactly
// as §5 describes: "the merge operation acquires a global merge mutex to
// avoid ABBA deadlocks in the presence of mutually-pointing Strucs". Go's
// sync.Mutex isn't re-entrant, so this stands in for struc.cxx's per-Struc
// recursive_mutex: one global critical section for the whole merge call
// (itself already documented as needing to be short) is simpler and
// deadlock-free by construction, at the cost of serializing merges that in
// principle touch disjoint Struc graphs.
var mergeMu sync.Mutex

// Merge absorbs src's fields into s, per struc.cxx's Struc::merge: fields
// that land on an existing pointer field recurse into the two pointed-to
// Strucs (pointer-chasing merge) instead of overwriting; everything else
// falls through to mergeFields. Idempotent and cycle-safe: a (src, dst)
// pair is visited at most once per top-level call, so merging S into
// itself, or merging the same src into dst twice, leaves dst unchanged the
// second time.
func (s *Struc) Merge(src *Struc) {
	mergeMu.Lock()
	defer mergeMu.Unlock()
	s.mergeLocked(src, make(map[[2]*Struc]bool))
}

func (s *Struc) mergeLocked(src *Struc, visited map[[2]*Struc]bool) {
	if s == src {
		return
	}
	key := [2]*Struc{s, src}
	if visited[key] {
		return
	}
	visited[key] = true

	src.mu.Lock()
	srcFields := make([]fieldAt, len(src.fields))
	copy(srcFields, src.fields)
	src.mu.Unlock()
	sort.SliceStable(srcFields, func(i, j int) bool { return srcFields[i].Offset < srcFields[j].Offset })

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, fa := range srcFields {
		if !s.tryMergeStrucFieldAtOffsetLocked(fa.Offset, fa.Field, visited) {
			s.mergeFieldsLocked(fa.Offset, fa.Field)
		}
	}
}

// tryMergeStrucFieldAtOffsetLocked implements struc.cxx's
// try_merge_struc_field_at_offset: if srcField is a pointer and an existing
// field at an overlapping, 8-byte-aligned offset is also a pointer, recurse
// the merge into the two target Strucs instead of adding a new field.
func (s *Struc) tryMergeStrucFieldAtOffsetLocked(offset uint64, srcField Field, visited map[[2]*Struc]bool) bool {
	if srcField.Type != Pointer || srcField.Target == nil {
		return false
	}
	merged := false
	for i := len(s.fields) - 1; i >= 0; i-- {
		fa := s.fields[i]
		if fa.Offset > offset {
			continue
		}
		end := fa.Offset + uint64(fa.Field.Size)*uint64(maxInt(fa.Field.Count, 1))
		if end <= offset {
			continue
		}
		if fa.Field.Type != Pointer || fa.Field.Target == nil || fa.Offset%8 != offset%8 {
			continue
		}
		fa.Field.Target.mergeLocked(srcField.Target, visited)
		merged = true
	}
	return merged
}
