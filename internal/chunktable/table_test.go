package chunktable

import "testing"

func TestCommitOnFirstWrite(t *testing.T) {
	tbl := New[int32](1024, 256)
	if tbl.Committed(0) {
		t.Fatal("chunk should start uncommitted")
	}
	if v, ok := tbl.GetRO(0); ok || v != 0 {
		t.Fatalf("expected zero value, uncommitted; got %v, %v", v, ok)
	}
	*tbl.GetRW(0, 7) = 42
	if !tbl.Committed(0) {
		t.Fatal("expected chunk committed after GetRW")
	}
	v, ok := tbl.GetRO(0)
	if !ok || v != 42 {
		t.Fatalf("expected 42, true; got %v, %v", v, ok)
	}
	if tbl.Version(0) != 7 {
		t.Fatalf("expected version 7, got %d", tbl.Version(0))
	}
}

func TestGetSetDefaultVersion(t *testing.T) {
	tbl := New[int32](1024, 256)
	tbl.Set(5, 99)
	if got := tbl.Get(5); got != 99 {
		t.Fatalf("expected 99, got %d", got)
	}
	if tbl.Version(0) != 1 {
		t.Fatalf("expected default out-of-tick version 1, got %d", tbl.Version(0))
	}
}

func TestHasChanges(t *testing.T) {
	tbl := New[int32](1024, 256)
	if tbl.HasChanges(0) {
		t.Fatal("no chunks committed, should report no changes")
	}
	*tbl.GetRW(0, 5) = 1
	if !tbl.HasChanges(4) {
		t.Fatal("expected change since version 4")
	}
	if tbl.HasChanges(5) {
		t.Fatal("expected no change since version 5 (not strictly greater)")
	}
}

func TestPopulationTracking(t *testing.T) {
	tbl := New[int32](1024, 256)
	chunkIdx := 0
	tbl.MarkPopulated(0)
	tbl.MarkPopulated(1)
	if tbl.Population(chunkIdx) != 2 {
		t.Fatalf("expected population 2, got %d", tbl.Population(chunkIdx))
	}
	tbl.MarkUnpopulated(0)
	if tbl.Population(chunkIdx) != 1 {
		t.Fatalf("expected population 1, got %d", tbl.Population(chunkIdx))
	}
}

func TestTryDecommitRequiresEmpty(t *testing.T) {
	tbl := New[int32](1024, 256)
	tbl.MarkPopulated(0)
	if tbl.TryDecommit(0) {
		t.Fatal("should not decommit a populated chunk")
	}
	tbl.MarkUnpopulated(0)
	if !tbl.TryDecommit(0) {
		t.Fatal("expected decommit of empty chunk to succeed")
	}
	if tbl.Committed(0) {
		t.Fatal("chunk should be uncommitted after decommit")
	}
}

func TestSanitizeChunk(t *testing.T) {
	tbl := New[int32](1024, 256)
	chunkCap := tbl.ChunkCap()
	for i := 0; i < chunkCap; i++ {
		*tbl.GetRW(int32(i), 1) = int32(i + 1)
	}
	liveness := make([]bool, chunkCap)
	liveness[2] = true
	tbl.SanitizeChunk(0, liveness)
	for i := 0; i < chunkCap; i++ {
		v := tbl.Get(int32(i))
		if i == 2 {
			if v != int32(i+1) {
				t.Fatalf("slot %d should survive sanitize, got %d", i, v)
			}
		} else if v != 0 {
			t.Fatalf("slot %d should be zeroed, got %d", i, v)
		}
	}
}

func TestCopyAndRestoreChunk(t *testing.T) {
	src := New[int32](1024, 256)
	*src.GetRW(0, 3) = 123
	buf := make([]byte, src.ChunkBytes())
	n := src.CopyChunkToBuffer(0, buf)
	if n != src.ChunkBytes() {
		t.Fatalf("expected full chunk copy, got %d bytes", n)
	}

	dst := New[int32](1024, 256)
	if n := dst.CopyChunkToBuffer(0, buf); n != 0 {
		t.Fatalf("expected 0 for uncommitted source chunk, got %d", n)
	}
	dst.RestoreChunkFromBuffer(0, buf)
	if got := dst.Get(0); got != 123 {
		t.Fatalf("expected restored value 123, got %d", got)
	}
}

func TestIterCommittedChunks(t *testing.T) {
	tbl := New[int32](4096, 256)
	chunkCap := tbl.ChunkCap()
	*tbl.GetRW(0, 1) = 1
	*tbl.GetRW(int32(chunkCap*2), 1) = 1

	var seen []int
	tbl.IterCommittedChunks(func(c CommittedChunk) bool {
		seen = append(seen, c.Index)
		return true
	})
	if len(seen) != 2 || seen[0] != 0 || seen[1] != 2 {
		t.Fatalf("expected committed chunks [0,2], got %v", seen)
	}
}

func TestOutOfRangePanics(t *testing.T) {
	tbl := New[int32](8, 256)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for out-of-range index")
		}
	}()
	tbl.Get(100)
}
