package health

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/corvidrun/amqprpc/internal/rabbitmq"
)

// ConnectionChecker reports the health of a transport's façade
// connection: Open is healthy, Reconnecting is degraded, Opening and
// Closed are unhealthy.
type ConnectionChecker struct {
	facade *rabbitmq.Facade
}

// NewConnectionChecker creates a health checker over facade's lifecycle state.
func NewConnectionChecker(facade *rabbitmq.Facade) *ConnectionChecker {
	return &ConnectionChecker{facade: facade}
}

func (c *ConnectionChecker) Name() string { return "connection" }

func (c *ConnectionChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Name: c.Name(), Timestamp: start, Details: map[string]interface{}{}}

	state := c.facade.State()
	result.Details["state"] = state.String()

	switch state {
	case rabbitmq.StateOpen:
		result.Status = StatusHealthy
		result.Message = "connected"
	case rabbitmq.StateReconnecting:
		result.Status = StatusDegraded
		result.Message = "reconnecting to broker"
	default:
		result.Status = StatusUnhealthy
		result.Message = fmt.Sprintf("connection is %s", state)
	}

	result.Duration = time.Since(start)
	return result
}

// QueueChecker checks that a named queue exists and reports its depth.
type QueueChecker struct {
	queueName   string
	facade      *rabbitmq.Facade
	warnDepth   int
}

// NewQueueChecker creates a checker for queueName using facade, warning
// (degraded, not unhealthy) once its message count exceeds warnDepth.
func NewQueueChecker(queueName string, facade *rabbitmq.Facade, warnDepth int) *QueueChecker {
	return &QueueChecker{queueName: queueName, facade: facade, warnDepth: warnDepth}
}

func (c *QueueChecker) Name() string {
	return fmt.Sprintf("queue_%s", c.queueName)
}

func (c *QueueChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Name: c.Name(), Timestamp: start, Details: map[string]interface{}{}}

	queue, err := c.facade.InspectQueue(ctx, c.queueName)
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = fmt.Sprintf("queue %s not accessible", c.queueName)
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result
	}

	result.Details["message_count"] = queue.Messages
	result.Details["consumer_count"] = queue.Consumers

	if c.warnDepth > 0 && queue.Messages > c.warnDepth {
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("queue %s has %d messages, above warning threshold %d", c.queueName, queue.Messages, c.warnDepth)
	} else {
		result.Status = StatusHealthy
		result.Message = fmt.Sprintf("queue %s is accessible", c.queueName)
	}

	result.Duration = time.Since(start)
	return result
}

// ChannelPoolChecker reports how full a façade's channel pool is,
// degrading once every channel up to the configured maximum is checked
// out, the point at which Get starts waiting for one to be returned.
type ChannelPoolChecker struct {
	facade *rabbitmq.Facade
}

// NewChannelPoolChecker creates a health checker over facade's channel pool.
func NewChannelPoolChecker(facade *rabbitmq.Facade) *ChannelPoolChecker {
	return &ChannelPoolChecker{facade: facade}
}

func (c *ChannelPoolChecker) Name() string { return "channel_pool" }

func (c *ChannelPoolChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Name: c.Name(), Timestamp: start, Details: map[string]interface{}{}}

	stats, ok := c.facade.PoolStats()
	if !ok {
		result.Status = StatusUnhealthy
		result.Message = "channel pool not connected"
		result.Error = rabbitmq.ErrNotConnected.Error()
		result.Duration = time.Since(start)
		return result
	}

	result.Details["active"] = stats.Active
	result.Details["idle"] = stats.Idle
	result.Details["max"] = stats.Max

	switch {
	case stats.Max > 0 && stats.Active >= stats.Max:
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("channel pool exhausted: %d/%d in use", stats.Active, stats.Max)
	default:
		result.Status = StatusHealthy
		result.Message = fmt.Sprintf("channel pool has %d/%d channels in use", stats.Active, stats.Max)
	}

	result.Duration = time.Since(start)
	return result
}

// GoroutineChecker guards against goroutine leaks in long-running
// consumers by watching runtime.NumGoroutine.
type GoroutineChecker struct {
	warnCount, critCount int
}

// NewGoroutineChecker creates a checker that warns above warnCount and
// reports unhealthy above critCount.
func NewGoroutineChecker(warnCount, critCount int) *GoroutineChecker {
	return &GoroutineChecker{warnCount: warnCount, critCount: critCount}
}

func (c *GoroutineChecker) Name() string { return "goroutines" }

func (c *GoroutineChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	n := runtime.NumGoroutine()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   map[string]interface{}{"count": n},
	}

	switch {
	case n > c.critCount:
		result.Status = StatusUnhealthy
		result.Message = fmt.Sprintf("goroutine count %d exceeds critical threshold %d", n, c.critCount)
	case n > c.warnCount:
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("goroutine count %d exceeds warning threshold %d", n, c.warnCount)
	default:
		result.Status = StatusHealthy
		result.Message = "goroutine count normal"
	}

	result.Duration = time.Since(start)
	return result
}

// ComponentChecker adapts an arbitrary probe function into a Checker,
// for callers wiring their own domain-specific checks into a Registry.
type ComponentChecker struct {
	name    string
	checker func(ctx context.Context) (Status, string, map[string]interface{}, error)
}

// NewComponentChecker creates a checker for custom components
func NewComponentChecker(name string, checker func(ctx context.Context) (Status, string, map[string]interface{}, error)) *ComponentChecker {
	return &ComponentChecker{
		name:    name,
		checker: checker,
	}
}

func (c *ComponentChecker) Name() string {
	return c.name
}

func (c *ComponentChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]interface{}),
	}

	status, message, details, err := c.checker(ctx)

	result.Status = status
	result.Message = message
	if details != nil {
		result.Details = details
	}
	if err != nil {
		result.Error = err.Error()
	}
	result.Duration = time.Since(start)

	return result
}
