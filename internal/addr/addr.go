// Package addr defines the raw address type shared across all analysis
// stages. An Address is an untyped raw pointer into the decoded byte image;
// it carries no information about which PE section it falls in, and it is
// not a Go pointer, so ordinary unsigned arithmetic applies to it.
package addr

import "fmt"

// Address is a raw address into the decoded byte image.
type Address uint64

// Nil is the zero address, used throughout the pipeline to mean "unknown"
// or "no source instruction".
const Nil Address = 0

// String formats a as lowercase hex, unprefixed, matching the teacher's
// Addr formatting convention.
func (a Address) String() string {
	return fmt.Sprintf("%x", uint64(a))
}

// Add returns a shifted by the signed offset n.
func (a Address) Add(n int64) Address {
	return Address(int64(a) + n)
}

// Valid reports whether a is a non-zero address.
func (a Address) Valid() bool {
	return a != Nil
}

// Addrs implements sort.Interface, sorting addresses in ascending order.
type Addrs []Address

func (as Addrs) Len() int           { return len(as) }
func (as Addrs) Swap(i, j int)      { as[i], as[j] = as[j], as[i] }
func (as Addrs) Less(i, j int) bool { return as[i] < as[j] }
