package recorder

import (
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"fdprec/internal/chunktable"
	"fdprec/internal/ecs"
	"fdprec/internal/entity"
)

// DestroyEntry is one (index, generation) pair from a repository's
// destruction log, carried verbatim in a frame.
type DestroyEntry struct {
	Index      int32
	Generation uint16
}

// TypeBlock is one (type_id, payload) entry within a chunk record. TypeID
// -1 denotes the EntityIndex header column.
type TypeBlock struct {
	TypeID  int32
	Payload []byte
}

// ChunkRecord groups every TypeBlock that happened to land on the same
// numeric chunk_idx. This grouping is a pure writer-side packing choice —
// different columns have different ChunkCap, so the same chunk_idx covers
// a different entity-index range per column. DecodeFrame and ApplyFrame
// never assume otherwise: each TypeBlock is restored independently against
// its own column.
type ChunkRecord struct {
	ChunkIdx int32
	Types    []TypeBlock
}

// DecodedFrame is the parsed form of one frame, produced by DecodeFrame and
// consumed by playback's RecordingReader.ApplyFrame.
type DecodedFrame struct {
	Tick      uint64
	Type      FrameType
	Destroyed []DestroyEntry
	Unmanaged []byte
	Managed   []byte
	Chunks    []ChunkRecord
}

// EncodeFrame writes one frame for repo's current state to w, selecting a
// full snapshot (FrameKeyframe) or only chunks dirtied since prevTick
// (FrameDelta). bus may be nil, in which case both event buffers are empty.
// EncodeFrame clears repo's destruction log: the recorder is the only code
// permitted to do so (spec design note on destruction-log ownership).
func EncodeFrame(w io.Writer, repo *ecs.Repository, frameType FrameType, prevTick uint32, bus EventBus) error {
	tick := repo.GlobalVersion()

	destroyed := repo.GetDestructionLog()
	repo.ClearDestructionLog()

	var unmanaged, managedEvents []byte
	if bus != nil {
		unmanaged = bus.ProduceUnmanagedBuffer(tick)
		managedEvents = bus.ProduceManagedBuffer(tick)
	}

	chunks, err := selectChunks(repo, frameType, prevTick)
	if err != nil {
		return err
	}

	bw := &binWriter{w: w}
	bw.u64(uint64(tick))
	bw.u8(uint8(frameType))

	bw.i32(int32(len(destroyed)))
	for _, d := range destroyed {
		bw.i32(d.Index)
		bw.u16(d.Generation)
	}

	bw.i32(int32(len(unmanaged)))
	bw.bytes(unmanaged)
	bw.i32(int32(len(managedEvents)))
	bw.bytes(managedEvents)

	bw.i32(int32(len(chunks)))
	for _, c := range chunks {
		bw.i32(c.ChunkIdx)
		bw.i32(int32(len(c.Types)))
		for _, t := range c.Types {
			bw.i32(t.TypeID)
			bw.i32(int32(len(t.Payload)))
			bw.bytes(t.Payload)
		}
	}

	return bw.err
}

// DecodeFrame parses the next frame from r. It returns io.EOF (unwrapped)
// when r is exhausted before any frame bytes are read, and a wrapped
// ErrInvalidFormat for a truncated or malformed frame.
func DecodeFrame(r io.Reader) (*DecodedFrame, error) {
	var tickBuf [8]byte
	n, err := io.ReadFull(r, tickBuf[:])
	if err != nil {
		if err == io.EOF && n == 0 {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: truncated frame header: %v", ErrInvalidFormat, err)
	}
	tick := binary.LittleEndian.Uint64(tickBuf[:])

	br := &binReader{r: r}
	frameType := FrameType(br.u8())

	destroyCount := br.i32()
	destroyed := make([]DestroyEntry, 0, max(0, int(destroyCount)))
	for i := 0; i < int(destroyCount); i++ {
		idx := br.i32()
		gen := br.u16()
		destroyed = append(destroyed, DestroyEntry{Index: idx, Generation: gen})
	}

	unmanagedLen := br.i32()
	unmanaged := br.bytesN(int(unmanagedLen))
	managedLen := br.i32()
	managedEvents := br.bytesN(int(managedLen))

	chunkCount := br.i32()
	chunks := make([]ChunkRecord, 0, max(0, int(chunkCount)))
	for i := 0; i < int(chunkCount); i++ {
		chunkIdx := br.i32()
		typeCount := br.i32()
		types := make([]TypeBlock, 0, max(0, int(typeCount)))
		for j := 0; j < int(typeCount); j++ {
			typeID := br.i32()
			payloadLen := br.i32()
			payload := br.bytesN(int(payloadLen))
			types = append(types, TypeBlock{TypeID: typeID, Payload: payload})
		}
		chunks = append(chunks, ChunkRecord{ChunkIdx: chunkIdx, Types: types})
	}

	if br.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, br.err)
	}

	return &DecodedFrame{
		Tick:      tick,
		Type:      frameType,
		Destroyed: destroyed,
		Unmanaged: unmanaged,
		Managed:   managedEvents,
		Chunks:    chunks,
	}, nil
}

// selectChunks implements spec §4.7 step 4: Keyframe selects every
// committed chunk of every recordable column plus the full entity-header
// range; Delta selects only chunks whose version exceeds prevTick.
// Sanitization (spec §4.7: dead slots write as zero) happens inside each
// Column's EncodeChunk, driven by a liveness slice computed against that
// column's own ChunkCap — never the header table's, since the two can
// differ.
func selectChunks(repo *ecs.Repository, frameType FrameType, prevTick uint32) ([]ChunkRecord, error) {
	grouped := make(map[int32][]TypeBlock)

	ix := repo.EntityIndex()
	headers := ix.Headers()

	addHeaderChunk := func(chunkIdx int) {
		buf := make([]byte, headers.ChunkBytes())
		n := headers.CopyChunkToBuffer(chunkIdx, buf)
		if n == 0 {
			return
		}
		grouped[int32(chunkIdx)] = append(grouped[int32(chunkIdx)], TypeBlock{TypeID: -1, Payload: buf})
	}

	if frameType == FrameKeyframe {
		for chunkIdx := 0; chunkIdx <= ix.MaxHeaderChunk(); chunkIdx++ {
			addHeaderChunk(chunkIdx)
		}
	} else {
		for _, chunkIdx := range dirtyHeaderChunks(headers, prevTick) {
			addHeaderChunk(chunkIdx)
		}
	}

	for _, cid := range repo.Registry().GetRecordableIDs() {
		col, ok := repo.ColumnByID(cid)
		if !ok {
			continue
		}
		var chunkIdxs []int
		if frameType == FrameKeyframe {
			chunkIdxs = col.CommittedChunkIndices()
		} else {
			chunkIdxs = col.DirtyChunkIndices(prevTick)
		}
		for _, chunkIdx := range chunkIdxs {
			liveness := chunkLiveness(repo, col.ChunkCap(), chunkIdx)
			payload, ok, err := col.EncodeChunk(chunkIdx, liveness)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			grouped[int32(chunkIdx)] = append(grouped[int32(chunkIdx)], TypeBlock{TypeID: int32(cid), Payload: payload})
		}
	}

	chunkIdxs := make([]int32, 0, len(grouped))
	for idx := range grouped {
		chunkIdxs = append(chunkIdxs, idx)
	}
	sort.Slice(chunkIdxs, func(i, j int) bool { return chunkIdxs[i] < chunkIdxs[j] })

	records := make([]ChunkRecord, 0, len(chunkIdxs))
	for _, idx := range chunkIdxs {
		records = append(records, ChunkRecord{ChunkIdx: idx, Types: grouped[idx]})
	}
	return records, nil
}

// dirtyHeaderChunks returns the header chunks whose version exceeds
// prevTick, mirroring Column.DirtyChunkIndices for the one table (entity
// headers) that isn't behind the Column interface.
func dirtyHeaderChunks(headers *chunktable.Table[entity.EntityHeader], prevTick uint32) []int {
	var out []int
	headers.IterCommittedChunks(func(cc chunktable.CommittedChunk) bool {
		if cc.Version > prevTick {
			out = append(out, cc.Index)
		}
		return true
	})
	return out
}

// chunkLiveness reports, for chunkIdx at chunkCap entities per chunk,
// whether each slot's entity is currently active. Computed directly from
// entity headers rather than reused from any single column's own notion of
// liveness, since chunkCap varies per column.
func chunkLiveness(repo *ecs.Repository, chunkCap, chunkIdx int) []bool {
	base := int32(chunkIdx * chunkCap)
	maxIdx := repo.MaxEntityIndex()
	out := make([]bool, chunkCap)
	for i := 0; i < chunkCap; i++ {
		idx := base + int32(i)
		if idx > maxIdx {
			break
		}
		out[i] = repo.GetHeader(idx).Active
	}
	return out
}
