package recorder

import (
	"io"

	"fdprec/internal/ecs"
)

// RecorderSystem is the delta/keyframe encoder (spec §4.7): given a
// repository and a destination writer, it produces exactly one frame. It
// holds no per-frame state of its own beyond an optional EventBus; prevTick
// bookkeeping for deltas is the caller's responsibility (AsyncRecorder, or
// an application driving RecorderSystem directly).
type RecorderSystem struct {
	bus EventBus
}

// NewRecorderSystem returns a RecorderSystem. bus may be nil.
func NewRecorderSystem(bus EventBus) *RecorderSystem {
	return &RecorderSystem{bus: bus}
}

// CaptureKeyframe writes a full snapshot frame of repo to w.
func (rs *RecorderSystem) CaptureKeyframe(w io.Writer, repo *ecs.Repository) error {
	return EncodeFrame(w, repo, FrameKeyframe, 0, rs.bus)
}

// CaptureFrame writes a delta frame of repo to w, covering every chunk
// dirtied since prevTick.
func (rs *RecorderSystem) CaptureFrame(w io.Writer, repo *ecs.Repository, prevTick uint32) error {
	return EncodeFrame(w, repo, FrameDelta, prevTick, rs.bus)
}

// encodeInto is the frameType-parametrized form CaptureKeyframe/CaptureFrame
// wrap; AsyncRecorder uses it directly since it picks the frame type itself.
func (rs *RecorderSystem) encodeInto(w io.Writer, repo *ecs.Repository, frameType FrameType, prevTick uint32) error {
	return EncodeFrame(w, repo, frameType, prevTick, rs.bus)
}
