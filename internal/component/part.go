// Package component implements PartDescriptor and MultiPartComponent: an
// optional 64-byte-granularity view over a large component's byte
// representation, so higher layers (the recorder, a managed serializer)
// can diff or re-encode a component at sub-chunk granularity instead of
// always handling it as one opaque blob. Everything here is a pure value
// operation; neither type holds a mutex, a buffer pool, or any state
// beyond the bytes handed to it.
package component

import "bytes"

// PartBytes is the fixed granularity a MultiPartComponent splits its
// backing bytes into.
const PartBytes = 64

// PartDescriptor names one slice of a component's byte representation.
type PartDescriptor struct {
	Index  int
	Offset int
	Length int
}

// Describe returns the PartDescriptor sequence covering a component of
// totalBytes length at PartBytes granularity. The final descriptor is
// shorter than PartBytes when totalBytes is not an exact multiple.
func Describe(totalBytes int) []PartDescriptor {
	if totalBytes < 0 {
		panic("component: negative totalBytes")
	}
	n := (totalBytes + PartBytes - 1) / PartBytes
	out := make([]PartDescriptor, n)
	for i := 0; i < n; i++ {
		off := i * PartBytes
		length := PartBytes
		if off+length > totalBytes {
			length = totalBytes - off
		}
		out[i] = PartDescriptor{Index: i, Offset: off, Length: length}
	}
	return out
}

// MultiPartComponent pairs a byte slice with its part layout.
type MultiPartComponent struct {
	Bytes []byte
	parts []PartDescriptor
}

// NewMultiPartComponent wraps data, computing its part layout.
func NewMultiPartComponent(data []byte) MultiPartComponent {
	return MultiPartComponent{Bytes: data, parts: Describe(len(data))}
}

// PartCount returns the number of parts.
func (m MultiPartComponent) PartCount() int { return len(m.parts) }

// Part returns the descriptor for part i.
func (m MultiPartComponent) Part(i int) PartDescriptor { return m.parts[i] }

// PartBytes returns the byte slice covered by part i, a view into m.Bytes.
func (m MultiPartComponent) PartBytes(i int) []byte {
	p := m.parts[i]
	return m.Bytes[p.Offset : p.Offset+p.Length]
}

// DirtyParts compares m against prev part-by-part and returns the indices
// of parts whose bytes differ. If the two differ in length, every part
// index beyond the shorter one's part count is reported dirty. Pure: does
// not mutate either receiver.
func (m MultiPartComponent) DirtyParts(prev MultiPartComponent) []int {
	var dirty []int
	n := m.PartCount()
	if prev.PartCount() < n {
		n = prev.PartCount()
	}
	for i := 0; i < n; i++ {
		if !bytes.Equal(m.PartBytes(i), prev.PartBytes(i)) {
			dirty = append(dirty, i)
		}
	}
	longer := m
	if prev.PartCount() > m.PartCount() {
		longer = prev
	}
	for i := n; i < longer.PartCount(); i++ {
		dirty = append(dirty, i)
	}
	return dirty
}
