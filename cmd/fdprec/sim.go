package main

import (
	"fmt"

	"fdprec/internal/ecs"
	"fdprec/internal/entity"
	"fdprec/internal/managed"
)

// simParams bundles the --ticks/--entities/--keyframe-interval/--max-entities
// flags shared by the sim and record subcommands.
type simParams struct {
	Ticks            int
	Entities         int
	KeyframeInterval int
	MaxEntities      int
}

// Position is a plain component: two float64 fields, chunk-table-backed.
type Position struct {
	X, Y float64
}

// Health is a plain component. An entity is destroyed once HP reaches zero.
type Health struct {
	HP int32
}

// Label is a managed component: its payload goes through
// internal/managed.Serializer (msgpack, no compression) rather than a raw
// chunk-byte layout, exercising the managed-column path end to end.
type Label struct {
	Name  string
	Level int
}

// newSimRepository registers Position, Health, and Label against a fresh
// repository and returns the managed serializer backing Label so callers
// can close it on exit.
func newSimRepository(maxEntities int) (*ecs.Repository, *managed.Serializer, error) {
	var opts []ecs.Option
	if maxEntities > 0 {
		opts = append(opts, ecs.WithMaxEntities(maxEntities))
	}
	repo := ecs.New(opts...)

	if _, err := ecs.RegisterComponent[Position](repo); err != nil {
		return nil, nil, fmt.Errorf("register Position: %w", err)
	}
	if _, err := ecs.RegisterComponent[Health](repo); err != nil {
		return nil, nil, fmt.Errorf("register Health: %w", err)
	}

	ser, err := managed.NewSerializer(false)
	if err != nil {
		return nil, nil, fmt.Errorf("new serializer: %w", err)
	}
	if _, err := ecs.RegisterManagedComponent[Label](repo, ser, 256); err != nil {
		ser.Close()
		return nil, nil, fmt.Errorf("register Label: %w", err)
	}

	return repo, ser, nil
}

// world drives the scripted simulation: spawn a wave of entities at tick 1,
// then age them every tick until health runs out, at which point they are
// destroyed and their slot becomes eligible for reuse by a later spawn.
type world struct {
	repo     *ecs.Repository
	entities []entity.Entity
	wave     int
}

func newWorld(repo *ecs.Repository, spawnCount int) *world {
	return &world{repo: repo, entities: make([]entity.Entity, 0, spawnCount)}
}

// step advances the simulation by one tick. At tick 1, and again every time
// the previous wave has fully died out, it spawns a fresh wave of entities;
// otherwise it ages the existing wave and destroys anyone whose HP expired.
func (w *world) step(tick int) {
	if len(w.entities) == 0 {
		w.spawnWave()
		return
	}

	live := w.entities[:0]
	for _, e := range w.entities {
		if !w.repo.IsAlive(e) {
			continue
		}
		pos, _ := ecs.GetRO[Position](w.repo, e)
		pos.X += 1
		ecs.SetComponent(w.repo, e, pos)

		hp, _ := ecs.GetRO[Health](w.repo, e)
		hp.HP--
		if hp.HP <= 0 {
			_ = w.repo.DestroyEntity(e)
			continue
		}
		ecs.SetComponent(w.repo, e, hp)
		live = append(live, e)
	}
	w.entities = live
}

func (w *world) spawnWave() {
	w.wave++
	base := len(w.entities)
	for i := 0; i < cap(w.entities); i++ {
		e := w.repo.CreateEntity()
		_ = ecs.AddComponent(w.repo, e, Position{X: float64(base + i), Y: float64(w.wave)})
		_ = ecs.AddComponent(w.repo, e, Health{HP: int32(20 + i%5)})
		_ = ecs.AddManagedComponent(w.repo, e, Label{Name: fmt.Sprintf("unit-%d-%d", w.wave, i), Level: i % 5})
		w.entities = append(w.entities, e)
	}
}
