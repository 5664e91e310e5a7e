package playback

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"fdprec/internal/ecs"
	"fdprec/internal/entity"
	"fdprec/internal/recorder"
)

type Health struct {
	Value int
}

type Tag struct {
	Value int
}

func writeRecording(t *testing.T, path string, repo *ecs.Repository, frames func(rs *recorder.RecorderSystem, f *os.File)) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()
	if err := recorder.WriteRecordingHeader(f, repo); err != nil {
		t.Fatalf("write header: %v", err)
	}
	rs := recorder.NewRecorderSystem(nil)
	frames(rs, f)
}

func TestKeyframeThenDeltaRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.fdp")
	src := ecs.New(ecs.WithMaxEntities(16), ecs.WithChunkBytes(256))
	ecs.RegisterComponent[Health](src)
	e := src.CreateEntity()
	ecs.AddComponent(src, e, Health{Value: 42})

	writeRecording(t, path, src, func(rs *recorder.RecorderSystem, f *os.File) {
		if err := rs.CaptureKeyframe(f, src); err != nil {
			t.Fatalf("keyframe: %v", err)
		}
		prev := src.GlobalVersion()
		src.Tick()
		ecs.SetComponent(src, e, Health{Value: 100})
		if err := rs.CaptureFrame(f, src, prev); err != nil {
			t.Fatalf("delta: %v", err)
		}
	})

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	dst := ecs.New(ecs.WithMaxEntities(16), ecs.WithChunkBytes(256))
	ecs.RegisterComponent[Health](dst)

	rr, err := NewRecordingReader(f, nil)
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}

	ok, err := rr.ReadNextFrame(dst)
	if err != nil || !ok {
		t.Fatalf("frame 0: ok=%v err=%v", ok, err)
	}
	v, has := ecs.GetRO[Health](dst, e)
	if !has || v.Value != 42 {
		t.Fatalf("expected Health{42} after frame 0, got %+v has=%v", v, has)
	}

	ok, err = rr.ReadNextFrame(dst)
	if err != nil || !ok {
		t.Fatalf("frame 1: ok=%v err=%v", ok, err)
	}
	v, has = ecs.GetRO[Health](dst, e)
	if !has || v.Value != 100 {
		t.Fatalf("expected Health{100} after frame 1, got %+v has=%v", v, has)
	}

	ok, err = rr.ReadNextFrame(dst)
	if err != nil || ok {
		t.Fatalf("expected end of stream, got ok=%v err=%v", ok, err)
	}
}

func TestCreateDestroyRecreateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.fdp")
	src := ecs.New(ecs.WithMaxEntities(16), ecs.WithChunkBytes(256))
	ecs.RegisterComponent[Health](src)

	e1 := src.CreateEntity()
	ecs.AddComponent(src, e1, Health{Value: 10})

	writeRecording(t, path, src, func(rs *recorder.RecorderSystem, f *os.File) {
		if err := rs.CaptureKeyframe(f, src); err != nil {
			t.Fatalf("frame1: %v", err)
		}
		prev := src.GlobalVersion()
		src.Tick()
		if err := src.DestroyEntity(e1); err != nil {
			t.Fatalf("destroy: %v", err)
		}
		if err := rs.CaptureFrame(f, src, prev); err != nil {
			t.Fatalf("frame2: %v", err)
		}
		prev = src.GlobalVersion()
		src.Tick()
		e2 := src.CreateEntity()
		ecs.AddComponent(src, e2, Health{Value: 200})
		if e2.Index != e1.Index {
			t.Fatalf("expected slot reuse, got %d vs %d", e2.Index, e1.Index)
		}
		if err := rs.CaptureFrame(f, src, prev); err != nil {
			t.Fatalf("frame3: %v", err)
		}
	})

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	dst := ecs.New(ecs.WithMaxEntities(16), ecs.WithChunkBytes(256))
	ecs.RegisterComponent[Health](dst)

	rr, err := NewRecordingReader(f, nil)
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}

	if ok, err := rr.ReadNextFrame(dst); err != nil || !ok {
		t.Fatalf("frame1: ok=%v err=%v", ok, err)
	}
	if !dst.IsAlive(e1) {
		t.Fatalf("expected e1 alive after frame1")
	}

	if ok, err := rr.ReadNextFrame(dst); err != nil || !ok {
		t.Fatalf("frame2: ok=%v err=%v", ok, err)
	}
	if dst.IsAlive(e1) {
		t.Fatalf("expected e1 dead after frame2")
	}

	if ok, err := rr.ReadNextFrame(dst); err != nil || !ok {
		t.Fatalf("frame3: ok=%v err=%v", ok, err)
	}
	if dst.IsAlive(e1) {
		t.Fatalf("expected stale e1 handle still dead after frame3")
	}
	e2 := entity.Entity{Index: e1.Index, Generation: e1.Generation + 1}
	if !dst.IsAlive(e2) {
		t.Fatalf("expected recreated entity alive after frame3")
	}
	v, has := ecs.GetRO[Health](dst, e2)
	if !has || v.Value != 200 {
		t.Fatalf("expected Health{200}, got %+v has=%v", v, has)
	}
}

func TestSparseIndicesRebuildsFreeStackAscending(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.fdp")
	src := ecs.New(ecs.WithMaxEntities(64), ecs.WithChunkBytes(256))
	ecs.RegisterComponent[Health](src)

	entities := make([]entity.Entity, 10)
	for i := range entities {
		e := src.CreateEntity()
		ecs.AddComponent(src, e, Health{Value: i})
		entities[i] = e
	}
	for _, i := range []int{0, 2, 4, 6, 8} {
		if err := src.DestroyEntity(entities[i]); err != nil {
			t.Fatalf("destroy %d: %v", i, err)
		}
	}

	writeRecording(t, path, src, func(rs *recorder.RecorderSystem, f *os.File) {
		if err := rs.CaptureKeyframe(f, src); err != nil {
			t.Fatalf("keyframe: %v", err)
		}
	})

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	dst := ecs.New(ecs.WithMaxEntities(64), ecs.WithChunkBytes(256))
	ecs.RegisterComponent[Health](dst)

	rr, err := NewRecordingReader(f, nil)
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}
	if ok, err := rr.ReadNextFrame(dst); err != nil || !ok {
		t.Fatalf("frame: ok=%v err=%v", ok, err)
	}

	if got := dst.EntityCount(); got != 5 {
		t.Fatalf("expected 5 alive entities, got %d", got)
	}
	for i, e := range entities {
		alive := dst.IsAlive(e)
		wantAlive := i%2 != 0
		if alive != wantAlive {
			t.Fatalf("entity %d: alive=%v want=%v", i, alive, wantAlive)
		}
	}

	next := dst.CreateEntity()
	if next.Index != 0 {
		t.Fatalf("expected next created entity to reuse index 0, got %d", next.Index)
	}
}

func TestRandomSeekDeterminism(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.fdp")
	src := ecs.New(ecs.WithMaxEntities(64), ecs.WithChunkBytes(256))
	ecs.RegisterComponent[Health](src)

	entities := make([]entity.Entity, 0, 8)
	writeRecording(t, path, src, func(rs *recorder.RecorderSystem, f *os.File) {
		for i := 0; i < 8; i++ {
			e := src.CreateEntity()
			ecs.AddComponent(src, e, Health{Value: i * 10})
			entities = append(entities, e)
			if i == 0 {
				if err := rs.CaptureKeyframe(f, src); err != nil {
					t.Fatalf("keyframe: %v", err)
				}
			} else {
				prev := src.GlobalVersion()
				src.Tick()
				if err := rs.CaptureFrame(f, src, prev); err != nil {
					t.Fatalf("frame %d: %v", i, err)
				}
			}
		}
	})

	snapshot := func(repo *ecs.Repository) string {
		var sb strings.Builder
		for _, e := range entities {
			v, has := ecs.GetRO[Health](repo, e)
			fmt.Fprintf(&sb, "%v:%d,", has, v.Value)
		}
		return sb.String()
	}

	order1 := []int{5, 2, 7, 0, 6, 1, 3, 4}
	order2 := []int{0, 1, 2, 3, 4, 5, 6, 7}

	byFrame1 := map[int]string{}
	sink, err := NewPlaybackController(path, nil)
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	defer sink.Close()
	dst := ecs.New(ecs.WithMaxEntities(64), ecs.WithChunkBytes(256))
	ecs.RegisterComponent[Health](dst)
	for _, f := range order1 {
		if err := sink.SeekToFrame(dst, f); err != nil {
			t.Fatalf("seek to %d: %v", f, err)
		}
		byFrame1[f] = snapshot(dst)
	}

	sink2, err := NewPlaybackController(path, nil)
	if err != nil {
		t.Fatalf("new controller 2: %v", err)
	}
	defer sink2.Close()
	dst2 := ecs.New(ecs.WithMaxEntities(64), ecs.WithChunkBytes(256))
	ecs.RegisterComponent[Health](dst2)
	for _, f := range order2 {
		if err := sink2.SeekToFrame(dst2, f); err != nil {
			t.Fatalf("seek to %d: %v", f, err)
		}
		if got, want := snapshot(dst2), byFrame1[f]; got != want {
			t.Fatalf("frame %d: state mismatch across seek orders: %q vs %q", f, got, want)
		}
	}
}

func TestTolerantLoadRemapsByComponentName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.fdp")
	src := ecs.New(ecs.WithMaxEntities(16), ecs.WithChunkBytes(256))
	aCID, err := ecs.RegisterComponent[Health](src)
	if err != nil {
		t.Fatalf("register A: %v", err)
	}
	bCID, err := ecs.RegisterComponent[Tag](src)
	if err != nil {
		t.Fatalf("register B: %v", err)
	}
	if aCID == bCID {
		t.Fatalf("expected distinct CIDs")
	}

	e := src.CreateEntity()
	ecs.AddComponent(src, e, Health{Value: 77})

	writeRecording(t, path, src, func(rs *recorder.RecorderSystem, f *os.File) {
		if err := rs.CaptureKeyframe(f, src); err != nil {
			t.Fatalf("keyframe: %v", err)
		}
	})

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	dst := ecs.New(ecs.WithMaxEntities(16), ecs.WithChunkBytes(256))
	// Register in the opposite order from the recording.
	if _, err := ecs.RegisterComponent[Tag](dst); err != nil {
		t.Fatalf("register Tag: %v", err)
	}
	if _, err := ecs.RegisterComponent[Health](dst); err != nil {
		t.Fatalf("register Health: %v", err)
	}

	rr, err := NewRecordingReader(f, nil)
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}
	ok, err := rr.ReadNextFrame(dst)
	if err != nil || !ok {
		t.Fatalf("frame: ok=%v err=%v", ok, err)
	}

	v, has := ecs.GetRO[Health](dst, e)
	if !has || v.Value != 77 {
		t.Fatalf("expected Health{77} after tolerant remap, got %+v has=%v", v, has)
	}
}

func TestStepForwardBackwardAndFastForward(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.fdp")
	src := ecs.New(ecs.WithMaxEntities(16), ecs.WithChunkBytes(256))
	ecs.RegisterComponent[Health](src)
	e := src.CreateEntity()
	ecs.AddComponent(src, e, Health{Value: -1})

	writeRecording(t, path, src, func(rs *recorder.RecorderSystem, f *os.File) {
		if err := rs.CaptureKeyframe(f, src); err != nil {
			t.Fatalf("keyframe: %v", err)
		}
		for i := 0; i < 3; i++ {
			prev := src.GlobalVersion()
			src.Tick()
			ecs.SetComponent(src, e, Health{Value: i})
			if err := rs.CaptureFrame(f, src, prev); err != nil {
				t.Fatalf("frame %d: %v", i, err)
			}
		}
	})

	ctrl, err := NewPlaybackController(path, nil)
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	defer ctrl.Close()
	if got := ctrl.Total(); got != 4 {
		t.Fatalf("expected 4 frames, got %d", got)
	}

	dst := ecs.New(ecs.WithMaxEntities(16), ecs.WithChunkBytes(256))
	ecs.RegisterComponent[Health](dst)

	advanced, err := ctrl.FastForward(dst, 2)
	if err != nil || advanced != 2 {
		t.Fatalf("fast forward: advanced=%d err=%v", advanced, err)
	}
	if ctrl.CurrentFrame() != 1 {
		t.Fatalf("expected cursor at 1, got %d", ctrl.CurrentFrame())
	}

	ok, err := ctrl.StepForward(dst)
	if err != nil || !ok || ctrl.CurrentFrame() != 2 {
		t.Fatalf("step forward: ok=%v err=%v cursor=%d", ok, err, ctrl.CurrentFrame())
	}

	ok, err = ctrl.StepBackward(dst)
	if err != nil || !ok || ctrl.CurrentFrame() != 1 {
		t.Fatalf("step backward: ok=%v err=%v cursor=%d", ok, err, ctrl.CurrentFrame())
	}

	if err := ctrl.Rewind(dst); err != nil || ctrl.CurrentFrame() != 0 {
		t.Fatalf("rewind: err=%v cursor=%d", err, ctrl.CurrentFrame())
	}

	var progressCalls int
	if err := ctrl.PlayToEnd(dst, func(current, total int) { progressCalls++ }); err != nil {
		t.Fatalf("play to end: %v", err)
	}
	if progressCalls != 3 {
		t.Fatalf("expected 3 progress calls, got %d", progressCalls)
	}
	if ctrl.CurrentFrame() != 3 {
		t.Fatalf("expected cursor at last frame 3, got %d", ctrl.CurrentFrame())
	}
}

func TestSeekToTickFindsMatchingFrame(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.fdp")
	src := ecs.New(ecs.WithMaxEntities(16), ecs.WithChunkBytes(256))
	ecs.RegisterComponent[Health](src)

	var tickAtFrame2 uint32
	writeRecording(t, path, src, func(rs *recorder.RecorderSystem, f *os.File) {
		if err := rs.CaptureKeyframe(f, src); err != nil {
			t.Fatalf("keyframe: %v", err)
		}
		for i := 0; i < 3; i++ {
			prev := src.GlobalVersion()
			src.Tick()
			if i == 1 {
				tickAtFrame2 = src.GlobalVersion()
			}
			if err := rs.CaptureFrame(f, src, prev); err != nil {
				t.Fatalf("frame %d: %v", i, err)
			}
		}
	})

	ctrl, err := NewPlaybackController(path, nil)
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	defer ctrl.Close()

	dst := ecs.New(ecs.WithMaxEntities(16), ecs.WithChunkBytes(256))
	ecs.RegisterComponent[Health](dst)

	if err := ctrl.SeekToTick(dst, uint64(tickAtFrame2)); err != nil {
		t.Fatalf("seek to tick: %v", err)
	}
	if dst.GlobalVersion() != tickAtFrame2 {
		t.Fatalf("expected global version %d, got %d", tickAtFrame2, dst.GlobalVersion())
	}
}

func TestReadNextFrameEOFMatchesDecodeFrame(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.fdp")
	src := ecs.New(ecs.WithMaxEntities(16), ecs.WithChunkBytes(256))
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := recorder.WriteRecordingHeader(f, src); err != nil {
		t.Fatalf("header: %v", err)
	}
	f.Close()

	r, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer r.Close()
	rr, err := NewRecordingReader(r, nil)
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}
	ok, err := rr.ReadNextFrame(src)
	if ok || err != nil {
		t.Fatalf("expected ok=false err=nil at empty stream, got ok=%v err=%v", ok, err)
	}
	if _, err := io.ReadAll(r); err != nil {
		t.Fatalf("drain: %v", err)
	}
}

// TestWaveLifecycleReplaysExactly mirrors a wave spawn/destroy/respawn
// scenario: five entities spawned across frames 1-5 (one per frame, each
// carrying Health = frame*10), three destroyed at frame 6, then three more
// spawned at frames 7-9 reusing the freed slots. The entity count must
// replay identically on the target at every frame.
func TestWaveLifecycleReplaysExactly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.fdp")
	src := ecs.New(ecs.WithMaxEntities(16), ecs.WithChunkBytes(256))
	ecs.RegisterComponent[Health](src)

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := recorder.WriteRecordingHeader(f, src); err != nil {
		t.Fatalf("header: %v", err)
	}
	rs := recorder.NewRecorderSystem(nil)

	var wave []entity.Entity
	expectedCounts := make([]int32, 0, 9)
	var prevTick uint32

	for frame := 1; frame <= 9; frame++ {
		if frame > 1 {
			src.Tick()
		}
		switch {
		case frame <= 5:
			e := src.CreateEntity()
			ecs.AddComponent(src, e, Health{Value: frame * 10})
			wave = append(wave, e)
		case frame == 6:
			for i := 0; i < 3; i++ {
				if err := src.DestroyEntity(wave[i]); err != nil {
					t.Fatalf("destroy: %v", err)
				}
			}
			wave = wave[3:]
		case frame <= 9:
			e := src.CreateEntity()
			ecs.AddComponent(src, e, Health{Value: frame * 10})
			wave = append(wave, e)
		}

		var err error
		if frame == 1 {
			err = rs.CaptureKeyframe(f, src)
		} else {
			err = rs.CaptureFrame(f, src, prevTick)
		}
		if err != nil {
			t.Fatalf("capture frame %d: %v", frame, err)
		}
		prevTick = src.GlobalVersion()
		expectedCounts = append(expectedCounts, src.EntityCount())
	}
	f.Close()

	r, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer r.Close()

	dst := ecs.New(ecs.WithMaxEntities(16), ecs.WithChunkBytes(256))
	ecs.RegisterComponent[Health](dst)

	rr, err := NewRecordingReader(r, nil)
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}

	for frame := 1; frame <= 9; frame++ {
		ok, err := rr.ReadNextFrame(dst)
		if err != nil || !ok {
			t.Fatalf("frame %d: ok=%v err=%v", frame, ok, err)
		}
		if got := dst.EntityCount(); got != expectedCounts[frame-1] {
			t.Fatalf("frame %d: expected entity count %d, got %d", frame, expectedCounts[frame-1], got)
		}
	}
	if dst.EntityCount() != 5 {
		t.Fatalf("expected 5 entities after frame 9, got %d", dst.EntityCount())
	}
}
