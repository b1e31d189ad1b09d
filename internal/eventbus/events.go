package eventbus

import (
	"time"

	"context"
)

// EventType represents the type of an event
type EventType string

// Standard event types
const (
	// Plan generation events
	EventPlanGenerationStarted EventType = "plan_generation_started"
	EventPlanGenerationSuccess EventType = "plan_generation_success"
	EventPlanGenerationFailure EventType = "plan_generation_failure"

	// Step execution events
	EventStepExecutionStarted EventType = "step_execution_started"
	EventStepExecutionSuccess EventType = "step_execution_success"
	EventStepExecutionFailure EventType = "step_execution_failure"
	EventStepExecutionRetry   EventType = "step_execution_retry"
	EventStepExecutionSkipped EventType = "step_execution_skipped"

	// Plan execution events
	EventPlanExecutionStarted  EventType = "plan_execution_started"
	EventPlanExecutionProgress EventType = "plan_execution_progress"
	EventPlanExecutionSuccess  EventType = "plan_execution_success"
	EventPlanExecutionFailure  EventType = "plan_execution_failure"

	// Replanning events
	EventReplanningStarted   EventType = "replanning_started"
	EventReplanningExhausted EventType = "replanning_exhausted"

	// React loop events
	EventReactIterationStarted   EventType = "react_iteration_started"
	EventReactIterationCompleted EventType = "react_iteration_completed"
	EventReactLoopFinished       EventType = "react_loop_finished"

	// Answer synthesis events
	EventSynthesisStarted EventType = "synthesis_started"
	EventSynthesisSuccess EventType = "synthesis_success"
	EventSynthesisFailure EventType = "synthesis_failure"

	// Task run events
	EventRunStarted  EventType = "run_started"
	EventRunProgress EventType = "run_progress"
	EventRunSuccess  EventType = "run_success"
	EventRunFailure  EventType = "run_failure"

	// Async task run events
	EventRunAsyncStarted   EventType = "run_async_started"
	EventRunAsyncProgress  EventType = "run_async_progress"
	EventRunAsyncSuccess   EventType = "run_async_success"
	EventRunAsyncFailure   EventType = "run_async_failure"
	EventRunAsyncCancelled EventType = "run_async_cancelled"

	// System events
	EventSystemError   EventType = "system_error"
	EventSystemWarning EventType = "system_warning"
	EventSystemInfo    EventType = "system_info"
)

// EventHandler is a function that handles events
type EventHandler func(context.Context, Event) error

// Event represents something that has happened within the system
type Event interface {
	// Type returns the event type
	Type() EventType

	// Payload returns the event data
	Payload() interface{}

	// Metadata returns additional information about the event
	Metadata() map[string]interface{}

	// Timestamp returns when the event occurred
	Timestamp() int64

	// Source returns information about what generated the event
	Source() string
}

// EventBus is the central event dispatch system
type EventBus interface {
	// Publish sends an event to all subscribed handlers
	Publish(ctx context.Context, event Event) error

	// Subscribe registers a handler for specific event types
	// Returns a subscription ID that can be used to unsubscribe
	Subscribe(eventTypes []EventType, handler EventHandler) (string, error)

	// SubscribeAll registers a handler for all event types
	// Returns a subscription ID that can be used to unsubscribe
	SubscribeAll(handler EventHandler) (string, error)

	// Unsubscribe removes a subscription by ID
	Unsubscribe(subscriptionID string) error

	// Close shuts down the event bus, cleaning up resources
	Close() error
}

// BaseEvent is a simple implementation of the Event interface
type BaseEvent struct {
	eventType  EventType
	payload    interface{}
	metadata   map[string]interface{}
	timestamp  int64
	sourceInfo string
}

// NewEvent creates a new BaseEvent
func NewEvent(
	eventType EventType,
	payload interface{},
	source string,
	metadata map[string]interface{},
) *BaseEvent {
	if metadata == nil {
		metadata = make(map[string]interface{})
	}

	return &BaseEvent{
		eventType:  eventType,
		payload:    payload,
		metadata:   metadata,
		timestamp:  time.Now().UnixNano(),
		sourceInfo: source,
	}
}

// Type returns the event type
func (e *BaseEvent) Type() EventType {
	return e.eventType
}

// Payload returns the event data
func (e *BaseEvent) Payload() interface{} {
	return e.payload
}

// Metadata returns additional information about the event
func (e *BaseEvent) Metadata() map[string]interface{} {
	return e.metadata
}

// Timestamp returns when the event occurred
func (e *BaseEvent) Timestamp() int64 {
	return e.timestamp
}

// Source returns information about what generated the event
func (e *BaseEvent) Source() string {
	return e.sourceInfo
}

// WithMetadata adds or updates metadata and returns the same event
// This allows for fluent method chaining
func (e *BaseEvent) WithMetadata(key string, value interface{}) *BaseEvent {
	e.metadata[key] = value
	return e
}

// AddMetadata adds multiple metadata entries at once and returns the same event
func (e *BaseEvent) AddMetadata(data map[string]interface{}) *BaseEvent {
	for k, v := range data {
		e.metadata[k] = v
	}
	return e
}
