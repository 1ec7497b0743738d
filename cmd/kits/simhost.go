package main

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"uniquekits.dev/internal/app"
	"uniquekits.dev/internal/host"
	"uniquekits.dev/internal/kit"
)

// inventorySlots is the stack capacity of a simulated inventory.
const inventorySlots = 36

// simHost stands in for a game server: inventories are in-memory stack
// lists and every side effect is written to out as a JSON line.
type simHost struct {
	log *zap.Logger

	mu      sync.Mutex
	enc     *json.Encoder
	inv     map[uuid.UUID][]kit.Item
	dropped map[uuid.UUID][]kit.Item
}

func newSimHost(out io.Writer, log *zap.Logger) *simHost {
	return &simHost{
		log:     log.Named("host"),
		enc:     json.NewEncoder(out),
		inv:     map[uuid.UUID][]kit.Item{},
		dropped: map[uuid.UUID][]kit.Item{},
	}
}

func (h *simHost) ports() app.Host {
	return app.Host{Sink: h, Effects: h, Dispatcher: h, Cue: h, Greeter: h}
}

type hostEvent struct {
	Event    string       `json:"event"`
	User     string       `json:"user"`
	Items    []kit.Item   `json:"items,omitempty"`
	Effects  []kit.Effect `json:"effects,omitempty"`
	Command  string       `json:"command,omitempty"`
	Scope    string       `json:"scope,omitempty"`
	Sound    string       `json:"sound,omitempty"`
	Particle string       `json:"particle,omitempty"`
}

func (h *simHost) emitLocked(v any) {
	if err := h.enc.Encode(v); err != nil {
		h.log.Warn("write host event", zap.Error(err))
	}
}

func (h *simHost) emit(v any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.emitLocked(v)
}

func (h *simHost) Deliver(_ context.Context, a host.Actor, items []kit.Item) ([]kit.Item, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	inv := h.inv[a.ID()]
	free := max(inventorySlots-len(inv), 0)
	n := min(free, len(items))
	h.inv[a.ID()] = append(inv, kit.CloneItems(items[:n])...)
	h.emitLocked(hostEvent{Event: "deliver", User: a.Name(), Items: items[:n]})
	return kit.CloneItems(items[n:]), nil
}

func (h *simHost) Drop(_ context.Context, a host.Actor, items []kit.Item) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropped[a.ID()] = append(h.dropped[a.ID()], kit.CloneItems(items)...)
	h.emitLocked(hostEvent{Event: "drop", User: a.Name(), Items: items})
	return nil
}

// Clear empties a's simulated inventory.
func (h *simHost) Clear(a host.Actor) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.inv, a.ID())
}

func (h *simHost) Stacks(a host.Actor) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.inv[a.ID()])
}

func (h *simHost) Apply(_ context.Context, a host.Actor, effects []kit.Effect) error {
	h.emit(hostEvent{Event: "effects", User: a.Name(), Effects: effects})
	return nil
}

func (h *simHost) Dispatch(_ context.Context, a host.Actor, command string, scope kit.CommandScope) error {
	h.emit(hostEvent{Event: "command", User: a.Name(), Command: command, Scope: string(scope)})
	return nil
}

func (h *simHost) Play(_ context.Context, a host.Actor, sound, particle string) error {
	if sound == "" && particle == "" {
		return nil
	}
	h.emit(hostEvent{Event: "cue", User: a.Name(), Sound: sound, Particle: particle})
	return nil
}

func (h *simHost) Welcome(_ context.Context, a host.Actor) error {
	h.emit(hostEvent{Event: "welcome", User: a.Name()})
	return nil
}
