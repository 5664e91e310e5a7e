// Package playback implements RecordingReader and PlaybackController: the
// sequential frame decoder and the seekable, keyframe-anchored cursor built
// on top of it.
package playback

// EventSink is the playback-side half of the event bus contract (spec §6):
// a decoded frame's opaque event buffers are handed to ApplyUnmanagedBuffer
// / ApplyManagedBuffer in recorded order. Both buffers are treated as
// opaque by the reader; ordering within a buffer is the sink's own concern.
// A nil EventSink is valid — event buffers are simply discarded.
type EventSink interface {
	ApplyUnmanagedBuffer(tick uint64, data []byte)
	ApplyManagedBuffer(tick uint64, data []byte)
}
