package virt

// memWrite records one store: the byte range it covers and the value
// stored there.
type memWrite struct {
	address uint64
	size    uint8
	value   Value
}

func (w memWrite) end() uint64 { return w.address + uint64(w.size) }

// Memory is a byte-addressed, persistent, copy-on-write store. Like
// Registers, a child node references its parent and overlays only the
// writes it performs itself, so forking a Memory for a new Context is O(1).
// Exact byte-by-byte reconstruction is not required (§3): Get assembles the
// set of distinct source values whose write range overlaps the query
// range, which is all Restruc needs.
type Memory struct {
	parent *Memory
	writes []memWrite
}

// NewMemory returns an empty memory store with no parent.
func NewMemory() *Memory {
	return &Memory{}
}

// Set returns a new Memory with a write of value at address recorded,
// covering value.Size() bytes, sharing history with m.
func (m *Memory) Set(address uint64, value Value) *Memory {
	size := value.Size()
	if size == 0 {
		size = 8
	}
	return &Memory{parent: m, writes: []memWrite{{address: address, size: size, value: value}}}
}

// MemoryValues is the result of reading a byte range: the set of distinct
// source values whose write overlapped the range, most-recently-written
// first.
type MemoryValues struct {
	Values []Value
}

// Get reads size bytes starting at address, walking from m towards the
// root and collecting every distinct value whose write overlapped
// [address, address+size).
func (m *Memory) Get(address uint64, size uint8) MemoryValues {
	if size == 0 {
		size = 8
	}
	end := address + uint64(size)
	var result MemoryValues
	seen := make(map[uint64]struct{})
	for n := m; n != nil; n = n.parent {
		for _, w := range n.writes {
			if w.address >= end || address >= w.end() {
				continue
			}
			key := valueDedupKey(w.value)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			result.Values = append(result.Values, w.value)
		}
	}
	return result
}

// valueDedupKey folds a Value down to a key suitable for set-membership
// dedup within one MemoryValues read. Two writes fold to the same key when
// their kind, identity (symbol id and offset, or numeric value), size and
// source all match; unlike Value.Equal, the source counts for concrete
// values too.
func valueDedupKey(v Value) uint64 {
	h := uint64(14695981039346656037)
	const prime = 1099511628211
	mix := func(x uint64) {
		h ^= x
		h *= prime
	}
	if v.symbolic {
		mix(1)
		mix(v.id)
		mix(uint64(v.offset))
	} else {
		mix(0)
		mix(v.value)
	}
	mix(uint64(v.size))
	mix(uint64(v.source))
	return h
}
