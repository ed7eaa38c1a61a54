package tabflow

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
)

var (
	// registry maps event names to factories returning fresh instances.
	registry = map[string]func() Event{}

	// registryMu protects the registry for concurrent access.
	registryMu sync.RWMutex
)

// RegisterEvent registers an Event type under its own EventType() name.
// Serializing backends (disk, sqlite, redis) need the registration to
// rehydrate payloads; call it once per kind at process start. Panics on a
// nil factory or a duplicate name, so collisions surface at startup.
func RegisterEvent(fn func() Event) {
	if fn == nil {
		panic("tabflow: cannot register nil event factory")
	}
	RegisterEventAs(fn().EventType(), fn)
}

// RegisterEventAs registers an Event type under a custom name, independent of
// EventType(). Same panics as RegisterEvent.
func RegisterEventAs(name string, fn func() Event) {
	if fn == nil {
		panic("tabflow: cannot register nil event factory")
	}

	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("tabflow: event already registered: %s", name))
	}

	ev := fn()
	if ev == nil {
		panic(fmt.Sprintf("tabflow: factory returned nil for event: %s", name))
	}

	registry[name] = fn
}

// NewEventByName creates a fresh instance of a registered event kind.
func NewEventByName(name string) (Event, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("event not registered: %s", name)
	}
	ev := factory()
	if ev == nil {
		return nil, fmt.Errorf("factory returned nil for event: %s", name)
	}
	return ev, nil
}

// UnmarshalEventJSON decodes a stored payload into the concrete type
// registered under name. The reflection is bounded to the registered type;
// there is no open-ended decoding.
func UnmarshalEventJSON(name string, data []byte) (Event, error) {
	proto, err := NewEventByName(name)
	if err != nil {
		return nil, err
	}

	ptr := reflect.New(reflect.TypeOf(proto))
	if err := json.Unmarshal(data, ptr.Interface()); err != nil {
		return nil, fmt.Errorf("unmarshal event %q: %w", name, err)
	}

	ev, ok := ptr.Elem().Interface().(Event)
	if !ok {
		return nil, fmt.Errorf("registered type for %q is not an Event", name)
	}
	return ev, nil
}
