// Package recorder implements RecorderSystem (the delta/keyframe encoder),
// AsyncRecorder (the double-buffered async writer), and the FDP recording
// wire format both sides of a recording depend on.
package recorder

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

// Magic is the 6-byte ASCII tag at the start of every FDP recording.
const Magic = "FDPREC"

// FormatVersion is bumped on incompatible wire-format changes.
const FormatVersion uint32 = 1

// GlobalHeaderBytes is the fixed size of the file-level header.
const GlobalHeaderBytes = len(Magic) + 4 + 8

// ErrInvalidFormat is returned for a bad magic, a version mismatch, or a
// truncated frame.
var ErrInvalidFormat = errors.New("recorder: invalid recording format")

// FrameType distinguishes a full snapshot frame from a dirty-chunks-only
// frame.
type FrameType uint8

const (
	FrameDelta FrameType = iota
	FrameKeyframe
)

func (t FrameType) String() string {
	if t == FrameKeyframe {
		return "Keyframe"
	}
	return "Delta"
}

// WriteGlobalHeader writes the file-level header: magic, FormatVersion, and
// the current Unix timestamp.
func WriteGlobalHeader(w io.Writer) error {
	buf := make([]byte, GlobalHeaderBytes)
	copy(buf[:len(Magic)], Magic)
	binary.LittleEndian.PutUint32(buf[len(Magic):len(Magic)+4], FormatVersion)
	binary.LittleEndian.PutUint64(buf[len(Magic)+4:], uint64(time.Now().Unix()))
	_, err := w.Write(buf)
	return err
}

// ReadGlobalHeader validates magic and FormatVersion and returns the
// recording's creation timestamp.
func ReadGlobalHeader(r io.Reader) (timestamp int64, err error) {
	buf := make([]byte, GlobalHeaderBytes)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	if string(buf[:len(Magic)]) != Magic {
		return 0, fmt.Errorf("%w: bad magic", ErrInvalidFormat)
	}
	version := binary.LittleEndian.Uint32(buf[len(Magic) : len(Magic)+4])
	if version != FormatVersion {
		return 0, fmt.Errorf("%w: version %d, want %d", ErrInvalidFormat, version, FormatVersion)
	}
	ts := int64(binary.LittleEndian.Uint64(buf[len(Magic)+4:]))
	return ts, nil
}

// binWriter is a sticky-error streaming encoder: once a write fails every
// later call is a no-op, so callers need check err only once at the end.
// Extends the fixed-record manual-cursor style of record.EncodeRecord to a
// frame whose total length isn't known up front.
type binWriter struct {
	w   io.Writer
	err error
}

func (bw *binWriter) u8(v uint8) {
	if bw.err != nil {
		return
	}
	_, bw.err = bw.w.Write([]byte{v})
}

func (bw *binWriter) u16(v uint16) {
	if bw.err != nil {
		return
	}
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	_, bw.err = bw.w.Write(b[:])
}

func (bw *binWriter) u32(v uint32) {
	if bw.err != nil {
		return
	}
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	_, bw.err = bw.w.Write(b[:])
}

func (bw *binWriter) i32(v int32) { bw.u32(uint32(v)) }

func (bw *binWriter) u64(v uint64) {
	if bw.err != nil {
		return
	}
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	_, bw.err = bw.w.Write(b[:])
}

func (bw *binWriter) bytes(b []byte) {
	if bw.err != nil || len(b) == 0 {
		return
	}
	_, bw.err = bw.w.Write(b)
}

// binReader is the sticky-error counterpart to binWriter.
type binReader struct {
	r   io.Reader
	err error
}

func (br *binReader) fill(buf []byte) {
	if br.err != nil {
		return
	}
	_, br.err = io.ReadFull(br.r, buf)
}

func (br *binReader) u8() uint8 {
	var b [1]byte
	br.fill(b[:])
	return b[0]
}

func (br *binReader) u16() uint16 {
	var b [2]byte
	br.fill(b[:])
	return binary.LittleEndian.Uint16(b[:])
}

func (br *binReader) u32() uint32 {
	var b [4]byte
	br.fill(b[:])
	return binary.LittleEndian.Uint32(b[:])
}

func (br *binReader) i32() int32 { return int32(br.u32()) }

func (br *binReader) bytesN(n int) []byte {
	if n <= 0 {
		return nil
	}
	buf := make([]byte, n)
	br.fill(buf)
	return buf
}
