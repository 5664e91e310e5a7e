package playback

import (
	"io"
	"log/slog"

	"fdprec/internal/ecs"
	"fdprec/internal/entity"
	"fdprec/internal/logging"
	"fdprec/internal/recorder"
)

// RecordingReader is the sequential binary decoder (spec §4.9): given a
// stream positioned after a global header + component dictionary pair, it
// decodes and applies one frame at a time onto a target repository.
// Component IDs in the recording are tolerated by remapping through
// component name rather than trusting the recorded numeric ID directly, so
// two recordings that registered the same types in a different order still
// decode correctly onto the same target.
type RecordingReader struct {
	r      io.Reader
	names  []string
	sink   EventSink
	logger *slog.Logger
}

// ReaderOption configures a new RecordingReader.
type ReaderOption func(*RecordingReader)

// WithReaderLogger attaches a structured logger; nil yields a discard logger.
func WithReaderLogger(logger *slog.Logger) ReaderOption {
	return func(rr *RecordingReader) { rr.logger = logger }
}

// NewRecordingReader validates r's global header and component dictionary
// and returns a reader positioned at the first frame. sink may be nil, in
// which case event buffers are discarded.
func NewRecordingReader(r io.Reader, sink EventSink, opts ...ReaderOption) (*RecordingReader, error) {
	_, names, err := recorder.ReadRecordingHeader(r)
	if err != nil {
		return nil, err
	}
	rr := &RecordingReader{r: r, names: names, sink: sink}
	for _, opt := range opts {
		opt(rr)
	}
	rr.logger = logging.Default(rr.logger).With("component", "playback-reader")
	return rr, nil
}

// Names returns the recorded component dictionary, indexed by recorded CID.
func (rr *RecordingReader) Names() []string { return rr.names }

// ReadNextFrame decodes and applies the next frame onto target. It returns
// false, nil at end of stream.
func (rr *RecordingReader) ReadNextFrame(target *ecs.Repository) (bool, error) {
	frame, err := recorder.DecodeFrame(rr.r)
	if err != nil {
		if err == io.EOF {
			return false, nil
		}
		return false, err
	}
	if err := rr.ApplyFrame(target, frame); err != nil {
		return false, err
	}
	return true, nil
}

// ApplyFrame mutates target to reflect a decoded frame: destroys entities
// named in the destruction log (without re-logging them), delivers event
// buffers to the sink, restores chunk payloads (remapping component IDs by
// name), and finally advances target's global version to frame.Tick.
func (rr *RecordingReader) ApplyFrame(target *ecs.Repository, frame *recorder.DecodedFrame) error {
	index := target.EntityIndex()

	for _, d := range frame.Destroyed {
		e := entity.Entity{Index: d.Index, Generation: d.Generation}
		index.Destroy(e, uint32(frame.Tick))
	}

	if rr.sink != nil {
		rr.sink.ApplyUnmanagedBuffer(frame.Tick, frame.Unmanaged)
		rr.sink.ApplyManagedBuffer(frame.Tick, frame.Managed)
	}

	var sawHeaderChunk bool
	for _, c := range frame.Chunks {
		for _, tb := range c.Types {
			if tb.TypeID == -1 {
				headers := index.Headers()
				headers.RestoreChunkFromBuffer(int(c.ChunkIdx), tb.Payload)
				index.ExtendMaxIssuedIndex(int(c.ChunkIdx))
				// Component mask bits carry the recording's CIDs; translate
				// each one to target's CID for the same component name.
				base := int32(int(c.ChunkIdx) * headers.ChunkCap())
				last := min(base+int32(headers.ChunkCap())-1, index.MaxIssuedIndex())
				for idx := base; idx <= last; idx++ {
					old := headers.Get(idx).ComponentMask
					remapped := old
					remapped.Clear()
					old.ForEachBit(func(b int) bool {
						if cid, ok := rr.remapCID(target, int32(b)); ok {
							remapped.SetBit(cid)
						}
						return true
					})
					if !remapped.Equal(old) {
						headers.GetRW(idx, uint32(frame.Tick)).ComponentMask = remapped
					}
				}
				sawHeaderChunk = true
				continue
			}
			targetCID, ok := rr.remapCID(target, tb.TypeID)
			if !ok {
				rr.logger.Warn("dropping chunk block for unregistered component",
					"recorded_cid", tb.TypeID, "chunk", c.ChunkIdx)
				continue
			}
			col, ok := target.ColumnByID(targetCID)
			if !ok {
				rr.logger.Warn("dropping chunk block for component with no column",
					"target_cid", targetCID, "chunk", c.ChunkIdx)
				continue
			}
			if err := col.DecodeChunk(int(c.ChunkIdx), tb.Payload); err != nil {
				return err
			}
		}
	}
	if sawHeaderChunk {
		index.RebuildMetadata()
	}

	target.SetGlobalVersion(uint32(frame.Tick))
	return nil
}

// remapCID translates a recorded component ID into target's own ID for the
// same component name. ok is false if the recorded ID is out of range for
// the dictionary or target never registered that name.
func (rr *RecordingReader) remapCID(target *ecs.Repository, recordedCID int32) (int, bool) {
	if recordedCID < 0 || int(recordedCID) >= len(rr.names) {
		return 0, false
	}
	return target.Registry().Lookup(rr.names[recordedCID])
}
