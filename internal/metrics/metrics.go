// Package metrics provides metrics collection and reporting for notifier
// processes. Each process writes its metrics to Redis for centralized
// access; keys are process scoped so instances never clobber each other.
package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// KeyPrefix is the Redis key prefix for notifier process metrics.
	KeyPrefix = "metrics:notifier:"
	// TTL is how long metrics stay in Redis if not refreshed.
	TTL = 2 * time.Minute
	// DefaultReportInterval is the default interval for writing metrics.
	DefaultReportInterval = 30 * time.Second
)

// ProcessMetrics holds metrics for a single notifier process.
type ProcessMetrics struct {
	ProcessID   string    `json:"process_id"`
	StartedAt   time.Time `json:"started_at"`
	LastUpdated time.Time `json:"last_updated"`
	Status      string    `json:"status"`

	EventsReceived         uint64 `json:"events_received"`
	EventsProcessed        uint64 `json:"events_processed"`
	RulesFired             uint64 `json:"rules_fired"`
	NotificationsCreated   uint64 `json:"notifications_created"`
	NotificationsDelivered uint64 `json:"notifications_delivered"`
	DeliveryErrors         uint64 `json:"delivery_errors"`
	LocalSessions          int    `json:"local_sessions"`

	EventsPerSecond float64 `json:"events_per_second"`

	CustomCounters map[string]uint64 `json:"custom_counters,omitempty"`
}

// Collector collects and reports metrics for one notifier process.
type Collector struct {
	processID      string
	redis          *redis.Client
	startedAt      time.Time
	reportInterval time.Duration

	eventsReceived         atomic.Uint64
	eventsProcessed        atomic.Uint64
	rulesFired             atomic.Uint64
	notificationsCreated   atomic.Uint64
	notificationsDelivered atomic.Uint64
	deliveryErrors         atomic.Uint64

	// sessionCount is polled at report time; the gateway owns the number.
	sessionCount func() int

	lastReportTime     time.Time
	lastProcessedCount uint64

	customMu       sync.RWMutex
	customCounters map[string]*atomic.Uint64

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewCollector creates a metrics collector for a notifier process.
func NewCollector(processID string, redisClient *redis.Client) *Collector {
	return &Collector{
		processID:      processID,
		redis:          redisClient,
		startedAt:      time.Now().UTC(),
		reportInterval: DefaultReportInterval,
		lastReportTime: time.Now().UTC(),
		customCounters: make(map[string]*atomic.Uint64),
		stopCh:         make(chan struct{}),
	}
}

// SetReportInterval sets the interval for writing metrics to Redis.
func (c *Collector) SetReportInterval(interval time.Duration) {
	c.reportInterval = interval
}

// SetSessionCounter installs the callback polled for the local session count.
func (c *Collector) SetSessionCounter(fn func() int) {
	c.sessionCount = fn
}

// Start begins the periodic metrics reporting to Redis.
func (c *Collector) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.reportInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				c.writeMetrics(context.Background())
				return
			case <-c.stopCh:
				c.writeMetrics(context.Background())
				return
			case <-ticker.C:
				c.writeMetrics(ctx)
			}
		}
	}()
}

// Stop stops the metrics reporting.
func (c *Collector) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

// RecordEventReceived increments the events received counter.
func (c *Collector) RecordEventReceived() {
	c.eventsReceived.Add(1)
}

// RecordEventProcessed increments the events processed counter.
func (c *Collector) RecordEventProcessed() {
	c.eventsProcessed.Add(1)
}

// RecordRuleFired increments the rules fired counter.
func (c *Collector) RecordRuleFired() {
	c.rulesFired.Add(1)
}

// RecordNotificationCreated increments the notifications created counter.
func (c *Collector) RecordNotificationCreated() {
	c.notificationsCreated.Add(1)
}

// RecordNotificationDelivered increments the delivered counter.
func (c *Collector) RecordNotificationDelivered() {
	c.notificationsDelivered.Add(1)
}

// RecordDeliveryError increments the delivery errors counter.
func (c *Collector) RecordDeliveryError() {
	c.deliveryErrors.Add(1)
}

// IncrementCustom increments a custom counter by name.
func (c *Collector) IncrementCustom(name string) {
	c.AddCustom(name, 1)
}

// AddCustom adds a value to a custom counter.
func (c *Collector) AddCustom(name string, value uint64) {
	c.customMu.RLock()
	counter, exists := c.customCounters[name]
	c.customMu.RUnlock()

	if !exists {
		c.customMu.Lock()
		if counter, exists = c.customCounters[name]; !exists {
			counter = &atomic.Uint64{}
			c.customCounters[name] = counter
		}
		c.customMu.Unlock()
	}
	counter.Add(value)
}

// GetSnapshot returns current metrics without writing to Redis.
func (c *Collector) GetSnapshot() *ProcessMetrics {
	now := time.Now().UTC()
	processed := c.eventsProcessed.Load()

	elapsed := now.Sub(c.lastReportTime).Seconds()
	var rate float64
	if elapsed > 0 {
		rate = float64(processed-c.lastProcessedCount) / elapsed
	}

	var sessions int
	if c.sessionCount != nil {
		sessions = c.sessionCount()
	}

	c.customMu.RLock()
	customCounters := make(map[string]uint64, len(c.customCounters))
	for name, counter := range c.customCounters {
		customCounters[name] = counter.Load()
	}
	c.customMu.RUnlock()

	return &ProcessMetrics{
		ProcessID:              c.processID,
		StartedAt:              c.startedAt,
		LastUpdated:            now,
		Status:                 "healthy",
		EventsReceived:         c.eventsReceived.Load(),
		EventsProcessed:        processed,
		RulesFired:             c.rulesFired.Load(),
		NotificationsCreated:   c.notificationsCreated.Load(),
		NotificationsDelivered: c.notificationsDelivered.Load(),
		DeliveryErrors:         c.deliveryErrors.Load(),
		LocalSessions:          sessions,
		EventsPerSecond:        rate,
		CustomCounters:         customCounters,
	}
}

// writeMetrics writes current metrics to Redis.
func (c *Collector) writeMetrics(ctx context.Context) {
	if c.redis == nil {
		return
	}

	snapshot := c.GetSnapshot()
	c.lastReportTime = snapshot.LastUpdated
	c.lastProcessedCount = snapshot.EventsProcessed

	data, err := json.Marshal(snapshot)
	if err != nil {
		slog.Error("Failed to marshal metrics", "process_id", c.processID, "error", err)
		return
	}

	key := KeyPrefix + c.processID
	if err := c.redis.Set(ctx, key, data, TTL).Err(); err != nil {
		slog.Error("Failed to write metrics to Redis", "process_id", c.processID, "error", err)
	}
}

// Reader reads notifier metrics from Redis.
type Reader struct {
	redis *redis.Client
}

// NewReader creates a new metrics reader.
func NewReader(redisClient *redis.Client) *Reader {
	return &Reader{redis: redisClient}
}

// GetProcessMetrics retrieves metrics for a specific process.
func (r *Reader) GetProcessMetrics(ctx context.Context, processID string) (*ProcessMetrics, error) {
	data, err := r.redis.Get(ctx, KeyPrefix+processID).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("no metrics found for process: %s", processID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read metrics: %w", err)
	}

	var m ProcessMetrics
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metrics: %w", err)
	}
	if time.Since(m.LastUpdated) > TTL {
		m.Status = "unhealthy"
	}
	return &m, nil
}

// GetAllProcessMetrics retrieves metrics for every live notifier process.
func (r *Reader) GetAllProcessMetrics(ctx context.Context) (map[string]*ProcessMetrics, error) {
	keys, err := r.redis.Keys(ctx, KeyPrefix+"*").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list metrics keys: %w", err)
	}

	result := make(map[string]*ProcessMetrics)
	for _, key := range keys {
		processID := key[len(KeyPrefix):]
		m, err := r.GetProcessMetrics(ctx, processID)
		if err != nil {
			slog.Warn("Failed to read metrics for process", "process_id", processID, "error", err)
			continue
		}
		result[processID] = m
	}
	return result, nil
}

// ConnectRedis creates and validates a Redis connection.
func ConnectRedis(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return client, nil
}
