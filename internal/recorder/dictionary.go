package recorder

import (
	"fmt"
	"io"

	"fdprec/internal/ecs"
)

// Spec §6 fixes the global header and frame byte layouts but is silent on
// how §4.9's "remapped by component name" tolerance is supposed to work
// mechanically: nothing in the frame format itself carries a name. A
// component dictionary section, written once right after the global
// header, is the minimal addition that makes tolerant remapping possible
// at all: it records, in CID order as of the moment recording started, the
// type identity string ComponentTypeRegistry assigned each CID.
//
// Layout (little-endian, immediately following the global header):
//
//	u32  name_count
//	repeat name_count:
//	  u16  name_len
//	  <name_len bytes ASCII/UTF-8>
const maxDictionaryNameLen = 1 << 16

// WriteComponentDictionary writes names (indexed by CID) to w.
func WriteComponentDictionary(w io.Writer, names []string) error {
	bw := &binWriter{w: w}
	bw.u32(uint32(len(names)))
	for _, name := range names {
		if len(name) >= maxDictionaryNameLen {
			return fmt.Errorf("recorder: component name too long: %d bytes", len(name))
		}
		bw.u16(uint16(len(name)))
		bw.bytes([]byte(name))
	}
	return bw.err
}

// ReadComponentDictionary reads a component dictionary written by
// WriteComponentDictionary. The returned slice is indexed by recorded CID.
func ReadComponentDictionary(r io.Reader) ([]string, error) {
	br := &binReader{r: r}
	count := br.u32()
	names := make([]string, 0, count)
	for i := uint32(0); i < count; i++ {
		n := br.u16()
		names = append(names, string(br.bytesN(int(n))))
	}
	if br.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, br.err)
	}
	return names, nil
}

// dictionaryNames snapshots repo's registry, indexed by CID.
func dictionaryNames(repo *ecs.Repository) []string {
	n := repo.Registry().Len()
	names := make([]string, n)
	for cid := 0; cid < n; cid++ {
		names[cid] = repo.Registry().Name(cid)
	}
	return names
}

// WriteRecordingHeader writes the global header followed by repo's
// component dictionary. Every FDP recording begins with this pair; a
// caller driving RecorderSystem directly (outside AsyncRecorder) must call
// this once before the first CaptureKeyframe/CaptureFrame.
func WriteRecordingHeader(w io.Writer, repo *ecs.Repository) error {
	if err := WriteGlobalHeader(w); err != nil {
		return err
	}
	return WriteComponentDictionary(w, dictionaryNames(repo))
}

// ReadRecordingHeader reads the global header and component dictionary
// pair written by WriteRecordingHeader.
func ReadRecordingHeader(r io.Reader) (timestamp int64, names []string, err error) {
	timestamp, err = ReadGlobalHeader(r)
	if err != nil {
		return 0, nil, err
	}
	names, err = ReadComponentDictionary(r)
	if err != nil {
		return 0, nil, err
	}
	return timestamp, names, nil
}
