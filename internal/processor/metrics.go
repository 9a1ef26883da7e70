package processor

// Metrics defines the interface for recording processing metrics.
// Implementations must be safe for concurrent use.
type Metrics interface {
	RecordEventReceived()
	RecordEventProcessed()
	RecordRuleFired()
	RecordNotificationCreated()
	RecordNotificationDelivered()
	RecordDeliveryError()
}

// NoOpMetrics is a no-op implementation of Metrics, used when metrics
// collection is disabled.
type NoOpMetrics struct{}

func (NoOpMetrics) RecordEventReceived()         {}
func (NoOpMetrics) RecordEventProcessed()        {}
func (NoOpMetrics) RecordRuleFired()             {}
func (NoOpMetrics) RecordNotificationCreated()   {}
func (NoOpMetrics) RecordNotificationDelivered() {}
func (NoOpMetrics) RecordDeliveryError()         {}
