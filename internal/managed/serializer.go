// Package managed implements the default serializer for managed (non-plain)
// components: msgpack for the value encoding, with an optional zstd wrap
// for large payloads. It satisfies ecs.ManagedSerializer structurally —
// this package does not import internal/ecs, keeping the core agnostic
// about managed-object encoding per spec §1's scope boundary.
package managed

import (
	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

// Serializer marshals values with msgpack, optionally wrapping the result
// in a zstd frame. A single Serializer is safe for concurrent use.
type Serializer struct {
	compress bool
	encoder  *zstd.Encoder
	decoder  *zstd.Decoder
}

// NewSerializer returns a Serializer. When compress is true, payloads are
// zstd-compressed after msgpack encoding — worthwhile for components whose
// managed payload runs to hundreds of bytes or more; for small payloads
// the frame overhead outweighs the savings, so callers of
// RegisterManagedComponent can opt out per component type.
func NewSerializer(compress bool) (*Serializer, error) {
	s := &Serializer{compress: compress}
	if !compress {
		return s, nil
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, err
	}
	s.encoder = enc
	s.decoder = dec
	return s, nil
}

// Marshal encodes v.
func (s *Serializer) Marshal(v any) ([]byte, error) {
	raw, err := msgpack.Marshal(v)
	if err != nil {
		return nil, err
	}
	if !s.compress {
		return raw, nil
	}
	return s.encoder.EncodeAll(raw, make([]byte, 0, len(raw))), nil
}

// Unmarshal decodes data into v.
func (s *Serializer) Unmarshal(data []byte, v any) error {
	raw := data
	if s.compress {
		decoded, err := s.decoder.DecodeAll(data, nil)
		if err != nil {
			return err
		}
		raw = decoded
	}
	return msgpack.Unmarshal(raw, v)
}

// Close releases the zstd decoder's background resources. A no-op when
// compression was not enabled.
func (s *Serializer) Close() error {
	if s.decoder != nil {
		s.decoder.Close()
	}
	if s.encoder != nil {
		return s.encoder.Close()
	}
	return nil
}
