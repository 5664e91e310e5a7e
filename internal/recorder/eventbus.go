package recorder

// EventBus is the producer side of the event bus contract (spec §6): the
// recorder treats both buffers as opaque blobs, never inspecting their
// contents. A nil EventBus is valid and yields empty event buffers.
type EventBus interface {
	ProduceUnmanagedBuffer(tick uint32) []byte
	ProduceManagedBuffer(tick uint32) []byte
}
