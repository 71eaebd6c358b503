package health

import (
	"context"
	"fmt"
	"time"

	"github.com/glimte/fleck-go/consumer"
	"github.com/glimte/fleck-go/messaging"
)

// CheckerFunc adapts a function to Checker
type CheckerFunc struct {
	name string
	fn   func(ctx context.Context) CheckResult
}

// NewCheckerFunc creates a checker named name running fn
func NewCheckerFunc(name string, fn func(ctx context.Context) CheckResult) *CheckerFunc {
	return &CheckerFunc{name: name, fn: fn}
}

func (c *CheckerFunc) Name() string {
	return c.name
}

func (c *CheckerFunc) Check(ctx context.Context) CheckResult {
	return c.fn(ctx)
}

// BrokerChecker opens and closes a channel to prove the broker connection works
type BrokerChecker struct {
	broker messaging.Broker
}

// NewBrokerChecker creates a broker checker
func NewBrokerChecker(broker messaging.Broker) *BrokerChecker {
	return &BrokerChecker{broker: broker}
}

func (c *BrokerChecker) Name() string {
	return "broker"
}

func (c *BrokerChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   map[string]interface{}{"local_addr": c.broker.LocalAddr()},
	}

	if conn, ok := c.broker.(interface{ IsConnected() bool }); ok && !conn.IsConnected() {
		result.Status = StatusUnhealthy
		result.Message = "Connection is down"
		result.Duration = time.Since(start)
		return result
	}

	ch, err := c.broker.Channel(ctx)
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = "Failed to open channel"
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result
	}
	_ = ch.Close()

	result.Status = StatusHealthy
	result.Message = "Connection is healthy"
	result.Duration = time.Since(start)
	result.Details["response_time_ms"] = result.Duration.Milliseconds()
	return result
}

// GroupChecker reports how many instances of a consumer group are running.
// A group with some instances paused is degraded; one with none running is
// unhealthy.
type GroupChecker struct {
	group *consumer.Group
}

// NewGroupChecker creates a checker for group
func NewGroupChecker(group *consumer.Group) *GroupChecker {
	return &GroupChecker{group: group}
}

func (c *GroupChecker) Name() string {
	return "consumer:" + c.group.Definition().Name()
}

func (c *GroupChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()

	consumers := c.group.Consumers()
	running := 0
	for _, cons := range consumers {
		if cons.Running() {
			running++
		}
	}

	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details: map[string]interface{}{
			"queue":     c.group.Definition().Config().Queue,
			"instances": len(consumers),
			"running":   running,
		},
	}

	switch {
	case running == 0:
		result.Status = StatusUnhealthy
		result.Message = "No consumer running"
	case running < len(consumers):
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("%d of %d consumers running", running, len(consumers))
	default:
		result.Status = StatusHealthy
		result.Message = "All consumers running"
	}

	result.Duration = time.Since(start)
	return result
}

// ClientChecker reports whether a client can still send requests
type ClientChecker struct {
	client *messaging.Client
}

// NewClientChecker creates a checker for client
func NewClientChecker(client *messaging.Client) *ClientChecker {
	return &ClientChecker{client: client}
}

func (c *ClientChecker) Name() string {
	return "client:" + c.client.Queue()
}

func (c *ClientChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details: map[string]interface{}{
			"reply_queue": c.client.ReplyQueue(),
			"pending":     c.client.Pending(),
		},
		Status:  StatusHealthy,
		Message: "Client is active",
	}

	if c.client.Terminated() {
		result.Status = StatusUnhealthy
		result.Message = "Client terminated"
	}

	result.Duration = time.Since(start)
	return result
}
