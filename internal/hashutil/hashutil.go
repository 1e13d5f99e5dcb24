// Package hashutil provides the single hash_combine primitive used both by
// Context's running hash (§3) and by effective-address symbolic id
// derivation (§4.3), so the two stay bit-for-bit consistent with each
// other's combining order.
package hashutil

// Combine folds v into the running hash h, boost::hash_combine style. The
// result is order-sensitive: Combine(Combine(h, a), b) differs from
// Combine(Combine(h, b), a), which is why every call site in this module
// documents the fixed order it combines its fields in.
func Combine(h uint64, v uint64) uint64 {
	// golden-ratio derived constant, the same mixing constant
	// boost::hash_combine uses for 64-bit values.
	const magic = 0x9e3779b97f4a7c15
	v += magic + (h << 6) + (h >> 2)
	return h ^ v
}

// CombineAll folds each value in vs into h in order.
func CombineAll(h uint64, vs ...uint64) uint64 {
	for _, v := range vs {
		h = Combine(h, v)
	}
	return h
}
