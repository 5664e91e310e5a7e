package ecs

import "errors"

var (
	// ErrInvalidHandle is returned by AddComponent, RemoveComponent,
	// AddManagedComponent and RemoveManagedComponent for a stale or null
	// entity in any mode, and by DestroyEntity only when WithParanoid(true)
	// is set (otherwise DestroyEntity ignores the handle and returns nil).
	// Read-side operations return false/zero instead, never this error.
	ErrInvalidHandle = errors.New("ecs: invalid or stale entity handle")
	// ErrNotRegistered is returned when a column is looked up for a
	// component type that was never passed to RegisterComponent /
	// RegisterManagedComponent.
	ErrNotRegistered = errors.New("ecs: component type not registered")
)
