// Package events defines structured event types emitted during
// provisioning and deployment lifecycle operations.
package events

import (
	"encoding/json"
	"sync"
	"time"
)

// Type represents the kind of event.
type Type string

const (
	ProvisionStarted   Type = "provision.started"
	ProvisionCompleted Type = "provision.completed"
	LockAcquired       Type = "lock.acquired"
	LockReleased       Type = "lock.released"
	PlanComputed       Type = "plan.computed"
	ApplyStarted       Type = "apply.started"
	ApplyCompleted     Type = "apply.completed"
	BackupCreated      Type = "backup.created"
	DeployStarted      Type = "deploy.started"
	StageStarted       Type = "stage.started"
	StageCompleted     Type = "stage.completed"
	StageWarning       Type = "stage.warning"
	StageSkipped       Type = "stage.skipped"
	RolloutCompleted   Type = "rollout.completed"
	RollbackRequested  Type = "rollback.requested"
	DeployCompleted    Type = "deploy.completed"
)

// Event is a structured event emitted during lifecycle operations.
type Event struct {
	Type      Type                   `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	RunID     string                 `json:"run_id"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// New creates a new event with the given type and run ID.
func New(eventType Type, runID string) *Event {
	return &Event{
		Type:      eventType,
		Timestamp: time.Now(),
		RunID:     runID,
	}
}

// WithData adds data fields to the event and returns it for chaining.
func (e *Event) WithData(key string, value interface{}) *Event {
	if e.Data == nil {
		e.Data = make(map[string]interface{})
	}
	e.Data[key] = value
	return e
}

// JSON returns the event serialized as JSON.
func (e *Event) JSON() ([]byte, error) {
	return json.Marshal(e)
}

// Emitter is the interface for event consumers. Implementations must
// be safe for concurrent use: stages such as service rollouts emit
// from multiple goroutines.
type Emitter interface {
	Emit(event *Event)
}

// NoopEmitter discards all events.
type NoopEmitter struct{}

// Emit implements Emitter by discarding the event.
func (NoopEmitter) Emit(*Event) {}

// CollectorEmitter collects events in memory for testing.
type CollectorEmitter struct {
	mu     sync.Mutex
	events []*Event
}

// Emit appends the event to the collector.
func (c *CollectorEmitter) Emit(event *Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

// All returns a snapshot of every collected event.
func (c *CollectorEmitter) All() []*Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Event, len(c.events))
	copy(out, c.events)
	return out
}

// Find returns all collected events of the given type.
func (c *CollectorEmitter) Find(eventType Type) []*Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*Event
	for _, e := range c.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}
