package playback

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"fdprec/internal/ecs"
	"fdprec/internal/logging"
	"fdprec/internal/recorder"
)

// FrameMeta describes one frame's location in the recording, as built by a
// single scan on PlaybackController construction.
type FrameMeta struct {
	Offset int64
	Type   recorder.FrameType
	Tick   uint64
	Size   int64
}

// PlaybackController is the seekable cursor over a recording (spec §4.9):
// a keyframe-anchored index built by one file scan, plus step/seek
// operations that replay from the nearest keyframe at or before the
// target frame.
type PlaybackController struct {
	file      *os.File
	reader    *RecordingReader
	sessionID uuid.UUID
	logger    *slog.Logger

	index        []FrameMeta
	currentFrame int32
}

// ControllerOption configures a new PlaybackController.
type ControllerOption func(*PlaybackController)

// WithControllerLogger attaches a structured logger; nil yields a discard
// logger.
func WithControllerLogger(logger *slog.Logger) ControllerOption {
	return func(pc *PlaybackController) { pc.logger = logger }
}

// NewPlaybackController opens path, validates its header, and scans it once
// to build the frame index. sink may be nil.
func NewPlaybackController(path string, sink EventSink, opts ...ControllerOption) (*PlaybackController, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	_, names, err := recorder.ReadRecordingHeader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	sessionID, err := uuid.NewV7()
	if err != nil {
		f.Close()
		return nil, err
	}

	pc := &PlaybackController{
		file:         f,
		reader:       &RecordingReader{names: names, sink: sink},
		sessionID:    sessionID,
		currentFrame: -1,
	}
	for _, opt := range opts {
		opt(pc)
	}
	pc.logger = logging.Default(pc.logger).With("component", "playback-controller", "session", sessionID.String())

	if err := pc.buildIndex(); err != nil {
		f.Close()
		return nil, err
	}
	pc.logger.Info("playback index built", "frames", len(pc.index))
	return pc, nil
}

func (pc *PlaybackController) buildIndex() error {
	for {
		offset, err := pc.file.Seek(0, io.SeekCurrent)
		if err != nil {
			return err
		}
		frame, err := recorder.DecodeFrame(pc.file)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		end, err := pc.file.Seek(0, io.SeekCurrent)
		if err != nil {
			return err
		}
		pc.index = append(pc.index, FrameMeta{
			Offset: offset,
			Type:   frame.Type,
			Tick:   frame.Tick,
			Size:   end - offset,
		})
	}
}

// SessionID returns this controller's UUIDv7 session tag.
func (pc *PlaybackController) SessionID() uuid.UUID { return pc.sessionID }

// Total returns the number of frames in the recording.
func (pc *PlaybackController) Total() int { return len(pc.index) }

// CurrentFrame returns the cursor's current frame, or -1 before the first
// step/seek.
func (pc *PlaybackController) CurrentFrame() int32 { return pc.currentFrame }

// FrameMetaAt returns the index entry for frame f.
func (pc *PlaybackController) FrameMetaAt(f int) (FrameMeta, bool) {
	if f < 0 || f >= len(pc.index) {
		return FrameMeta{}, false
	}
	return pc.index[f], true
}

func (pc *PlaybackController) nearestKeyframeAtOrBefore(f int) int {
	for i := f; i >= 0; i-- {
		if pc.index[i].Type == recorder.FrameKeyframe {
			return i
		}
	}
	return -1
}

func (pc *PlaybackController) applyFrameAt(target *ecs.Repository, f int) error {
	if _, err := pc.file.Seek(pc.index[f].Offset, io.SeekStart); err != nil {
		return err
	}
	frame, err := recorder.DecodeFrame(pc.file)
	if err != nil {
		return err
	}
	return pc.reader.ApplyFrame(target, frame)
}

// SeekToFrame bounds-checks f, finds the nearest keyframe at or before f,
// applies it, replays every frame up to and including f, and sets the
// cursor to f.
func (pc *PlaybackController) SeekToFrame(target *ecs.Repository, f int) error {
	if f < 0 || f >= len(pc.index) {
		return fmt.Errorf("playback: frame %d out of range [0,%d)", f, len(pc.index))
	}
	k := pc.nearestKeyframeAtOrBefore(f)
	if k < 0 {
		return fmt.Errorf("playback: no keyframe at or before frame %d", f)
	}
	for i := k; i <= f; i++ {
		if err := pc.applyFrameAt(target, i); err != nil {
			return err
		}
	}
	pc.currentFrame = int32(f)
	pc.logger.Debug("seek to frame", "frame", f, "keyframe", k)
	return nil
}

// SeekToTick binary searches the index by tick, then seeks to that frame.
func (pc *PlaybackController) SeekToTick(target *ecs.Repository, tick uint64) error {
	lo, hi := 0, len(pc.index)
	for lo < hi {
		mid := (lo + hi) / 2
		if pc.index[mid].Tick < tick {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo >= len(pc.index) || pc.index[lo].Tick != tick {
		return fmt.Errorf("playback: no frame with tick %d", tick)
	}
	return pc.SeekToFrame(target, lo)
}

// StepForward applies the frame after the cursor and advances it. It
// returns false, nil if already at the last frame.
func (pc *PlaybackController) StepForward(target *ecs.Repository) (bool, error) {
	next := int(pc.currentFrame) + 1
	if next >= len(pc.index) {
		return false, nil
	}
	if err := pc.applyFrameAt(target, next); err != nil {
		return false, err
	}
	pc.currentFrame = int32(next)
	return true, nil
}

// StepBackward rewinds to the nearest keyframe at or before current-1 and
// replays forward to current-1. It returns false, nil if already at or
// before the first frame.
func (pc *PlaybackController) StepBackward(target *ecs.Repository) (bool, error) {
	if pc.currentFrame <= 0 {
		return false, nil
	}
	if err := pc.SeekToFrame(target, int(pc.currentFrame)-1); err != nil {
		return false, err
	}
	return true, nil
}

// FastForward repeats StepForward up to n times, clamped at the end of the
// recording, and returns the number of frames actually advanced.
func (pc *PlaybackController) FastForward(target *ecs.Repository, n int) (int, error) {
	advanced := 0
	for i := 0; i < n; i++ {
		ok, err := pc.StepForward(target)
		if err != nil {
			return advanced, err
		}
		if !ok {
			break
		}
		advanced++
	}
	return advanced, nil
}

// Rewind seeks to frame 0.
func (pc *PlaybackController) Rewind(target *ecs.Repository) error {
	return pc.SeekToFrame(target, 0)
}

// PlayToEnd steps forward to the end of the recording, invoking progress
// once per frame with the new cursor and the total frame count. progress
// may be nil.
func (pc *PlaybackController) PlayToEnd(target *ecs.Repository, progress func(current, total int)) error {
	total := len(pc.index)
	for {
		ok, err := pc.StepForward(target)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if progress != nil {
			progress(int(pc.currentFrame), total)
		}
	}
}

// Close closes the underlying file.
func (pc *PlaybackController) Close() error {
	return pc.file.Close()
}
