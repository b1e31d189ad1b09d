package stepflow

import "github.com/edujuan/stepflow/internal/eventbus"

// WithEventBus sets the event bus component.
func WithEventBus(bus eventbus.EventBus) Option {
	return func(s *Stepflow) {
		s.eventBus = bus
	}
}
