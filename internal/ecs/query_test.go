package ecs

import (
	"sync"
	"testing"
)

func TestQueryWithFiltersByComponent(t *testing.T) {
	r := New(WithMaxEntities(256), WithChunkBytes(256))
	RegisterComponent[Position](r)
	RegisterComponent[Health](r)

	var withHealth int
	for i := 0; i < 20; i++ {
		e := r.CreateEntity()
		AddComponent(r, e, Position{X: float64(i)})
		if i%2 == 0 {
			AddComponent(r, e, Health{HP: i})
			withHealth++
		}
	}

	var seen int
	With[Health](r.Query()).ForEach(func(e Entity, h EntityHeader) {
		seen++
	})
	if seen != withHealth {
		t.Fatalf("expected %d entities with Health, saw %d", withHealth, seen)
	}

	var withoutHealth int
	Without[Health](r.Query()).ForEach(func(e Entity, h EntityHeader) {
		withoutHealth++
	})
	if withoutHealth != 20-withHealth {
		t.Fatalf("expected %d entities without Health, saw %d", 20-withHealth, withoutHealth)
	}
}

func TestQueryForEachChunkedMatchesForEach(t *testing.T) {
	r := New(WithMaxEntities(256), WithChunkBytes(256))
	RegisterComponent[Health](r)
	for i := 0; i < 30; i++ {
		e := r.CreateEntity()
		if i%3 == 0 {
			AddComponent(r, e, Health{HP: i})
		}
	}

	var sequential, chunked int
	With[Health](r.Query()).ForEach(func(e Entity, h EntityHeader) { sequential++ })
	With[Health](r.Query()).ForEachChunked(func(e Entity, h EntityHeader) { chunked++ })

	if sequential != chunked {
		t.Fatalf("expected equal counts, got sequential=%d chunked=%d", sequential, chunked)
	}
}

func TestQueryForEachParallelVisitsEveryMatch(t *testing.T) {
	r := New(WithMaxEntities(256), WithChunkBytes(256))
	RegisterComponent[Health](r)
	expected := 0
	for i := 0; i < 50; i++ {
		e := r.CreateEntity()
		if i%2 == 0 {
			AddComponent(r, e, Health{HP: i})
			expected++
		}
	}

	var mu sync.Mutex
	count := 0
	err := With[Health](r.Query()).ForEachParallel(func(e Entity, h EntityHeader) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != expected {
		t.Fatalf("expected %d matches, got %d", expected, count)
	}
}

func TestTimeSlicedEntityCountBudgetResumes(t *testing.T) {
	r := New(WithMaxEntities(256), WithChunkBytes(256))
	RegisterComponent[Health](r)
	for i := 0; i < 25; i++ {
		e := r.CreateEntity()
		AddComponent(r, e, Health{HP: i})
	}

	q := With[Health](r.Query())
	state := &TimeSliceState{}
	var total int
	for !state.IsComplete {
		before := total
		q.ForEachTimeSliced(state, MetricEntityCount, 10, func(e Entity, h EntityHeader) {
			total++
		})
		if total == before {
			t.Fatal("time-sliced iteration made no progress")
		}
	}
	if total != 25 {
		t.Fatalf("expected 25 entities visited across slices, got %d", total)
	}
}

func TestTimeSlicedNegativeBudgetStopsAtFirstCheckpoint(t *testing.T) {
	r := New(WithMaxEntities(256), WithChunkBytes(256))
	RegisterComponent[Health](r)
	for i := 0; i < 10; i++ {
		e := r.CreateEntity()
		AddComponent(r, e, Health{HP: i})
	}

	q := With[Health](r.Query())
	state := &TimeSliceState{}
	var total int
	q.ForEachTimeSliced(state, MetricEntityCount, -1, func(e Entity, h EntityHeader) {
		total++
	})
	if total != 1 {
		t.Fatalf("expected exactly one action before suspending, got %d", total)
	}
	if state.IsComplete {
		t.Fatal("should not be complete after a single action out of 10")
	}
}
