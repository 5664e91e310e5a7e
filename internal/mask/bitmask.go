// Package mask implements BitMask256, a fixed-width 256-bit set used
// throughout the kernel for component masks, authority masks, and query
// include/exclude filters.
//
// The four uint64 lanes are combined with plain scalar Go arithmetic, one
// lane at a time; no SIMD instructions, assembly or cgo are used.
package mask

import "math/bits"

// BitMask256 is a dense 256-bit set, stored as four 64-bit lanes.
// Bit b lives in lane b>>6 at offset b&63. The zero value is the empty set.
type BitMask256 struct {
	lane [4]uint64
}

// NumBits is the number of bits a BitMask256 can hold.
const NumBits = 256

// SetBit sets bit b. b must be in [0, NumBits).
func (m *BitMask256) SetBit(b int) {
	m.lane[b>>6] |= 1 << uint(b&63)
}

// ClearBit clears bit b. b must be in [0, NumBits).
func (m *BitMask256) ClearBit(b int) {
	m.lane[b>>6] &^= 1 << uint(b&63)
}

// IsSet reports whether bit b is set. b must be in [0, NumBits).
func (m BitMask256) IsSet(b int) bool {
	return m.lane[b>>6]&(1<<uint(b&63)) != 0
}

// Clear resets the mask to empty.
func (m *BitMask256) Clear() {
	m.lane = [4]uint64{}
}

// IsEmpty reports whether no bits are set.
func (m BitMask256) IsEmpty() bool {
	return m.lane[0] == 0 && m.lane[1] == 0 && m.lane[2] == 0 && m.lane[3] == 0
}

// Equal reports whether m and other have exactly the same bits set.
func (m BitMask256) Equal(other BitMask256) bool {
	return m.lane == other.lane
}

// Or returns the union of m and other.
func (m BitMask256) Or(other BitMask256) BitMask256 {
	var out BitMask256
	for i := range m.lane {
		out.lane[i] = m.lane[i] | other.lane[i]
	}
	return out
}

// And returns the intersection of m and other.
func (m BitMask256) And(other BitMask256) BitMask256 {
	var out BitMask256
	for i := range m.lane {
		out.lane[i] = m.lane[i] & other.lane[i]
	}
	return out
}

// HasAll reports whether m contains every bit set in sub (sub & m == sub).
func (m BitMask256) HasAll(sub BitMask256) bool {
	for i := range m.lane {
		if m.lane[i]&sub.lane[i] != sub.lane[i] {
			return false
		}
	}
	return true
}

// HasAny reports whether m and other share any set bit.
func (m BitMask256) HasAny(other BitMask256) bool {
	for i := range m.lane {
		if m.lane[i]&other.lane[i] != 0 {
			return true
		}
	}
	return false
}

// Matches reports whether target has all bits of include set and none of
// exclude set. This is the core query-matching primitive: used both for
// component-mask include/exclude and (per spec §9's WithOwned/WithoutOwned
// design note) for authority-mask include/exclude.
func Matches(target, include, exclude BitMask256) bool {
	return target.HasAll(include) && !target.HasAny(exclude)
}

// PopCount returns the number of set bits.
func (m BitMask256) PopCount() int {
	n := 0
	for _, l := range m.lane {
		n += bits.OnesCount64(l)
	}
	return n
}

// ForEachBit calls fn once for every set bit, in ascending order, stopping
// early if fn returns false.
func (m BitMask256) ForEachBit(fn func(b int) bool) {
	for lane, l := range m.lane {
		for l != 0 {
			b := lane*64 + bits.TrailingZeros64(l)
			if !fn(b) {
				return
			}
			l &= l - 1
		}
	}
}
