package messaging

import (
	"log/slog"
	"sync"
	"time"

	"github.com/glimte/fleck-go/contracts"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// RequestState is the lifecycle state of a client request
type RequestState int

const (
	RequestCreated RequestState = iota
	RequestSent
	RequestCompleted
)

func (s RequestState) String() string {
	switch s {
	case RequestCreated:
		return "created"
	case RequestSent:
		return "sent"
	case RequestCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Callback is invoked with each response of a request. In single response
// mode it runs exactly once.
type Callback func(request *Request, response *Response)

// Request is an in-flight request issued by a Client
type Request struct {
	id       string
	queue    string
	replyTo  string
	action   string
	version  string
	envelope *contracts.RequestEnvelope
	timeout  time.Duration
	multiple bool
	priority uint8
	callback Callback

	client *Client
	logger *slog.Logger
	span   trace.Span

	// cbMu serializes deliveries of one request
	cbMu sync.Mutex

	mu         sync.Mutex
	state      RequestState
	inCallback bool
	expired    bool
	responses  int
	response   *Response
	timer      *time.Timer
	stopCtx    func() bool
	startedAt  time.Time
	endedAt    time.Time

	done     chan struct{}
	doneOnce sync.Once
}

// ID returns the correlation id of the request
func (r *Request) ID() string {
	return r.id
}

// Action returns the requested action
func (r *Request) Action() string {
	return r.action
}

// Version returns the requested action version, empty when none was given
func (r *Request) Version() string {
	return r.version
}

// Queue returns the routing key the request was published with
func (r *Request) Queue() string {
	return r.queue
}

// Envelope returns the published payload
func (r *Request) Envelope() *contracts.RequestEnvelope {
	return r.envelope
}

// Done is closed when the request completes
func (r *Request) Done() <-chan struct{} {
	return r.done
}

// State returns the current lifecycle state
func (r *Request) State() RequestState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Expired reports whether the request completed because its deadline passed
func (r *Request) Expired() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.expired
}

// Response returns the last response received, nil while none arrived
func (r *Request) Response() *Response {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.response
}

// Responses returns how many replies were delivered
func (r *Request) Responses() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.responses
}

// Duration returns the time between publish and completion
func (r *Request) Duration() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startedAt.IsZero() {
		return 0
	}
	if r.endedAt.IsZero() {
		return time.Since(r.startedAt)
	}
	return r.endedAt.Sub(r.startedAt)
}

// Wait blocks until the request completes and returns its response
func (r *Request) Wait() *Response {
	<-r.done
	return r.Response()
}

// Complete finalizes a request explicitly. It is meant for multiple response
// requests and may be called from inside the callback. A request completed
// before any reply gets a 503 response and its callback runs with it.
func (r *Request) Complete() {
	if r.client != nil {
		r.client.registry.Remove(r.id)
	}

	r.mu.Lock()
	if r.state == RequestCompleted {
		r.mu.Unlock()
		return
	}
	var response *Response
	if r.responses == 0 {
		response = ServiceUnavailable(r.id)
		r.response = response
	}
	r.markCompleted()
	deferred := r.inCallback
	r.mu.Unlock()

	if response != nil {
		r.invoke(response)
	}
	if !deferred {
		r.finish()
	}
}

// markSent records the publish time and arms the expiry timer. Caller holds r.mu.
func (r *Request) markSent(expire func()) {
	r.state = RequestSent
	r.startedAt = time.Now()
	if r.timeout > 0 {
		r.timer = time.AfterFunc(r.timeout, expire)
	}
}

// markCompleted enters the terminal state. Caller holds r.mu.
func (r *Request) markCompleted() {
	r.state = RequestCompleted
	r.endedAt = time.Now()
	if r.timer != nil {
		r.timer.Stop()
	}
}

// deliver applies a reply. It returns false when the request already
// completed. Replies of one request reach the callback one at a time.
func (r *Request) deliver(response *Response) bool {
	r.cbMu.Lock()
	defer r.cbMu.Unlock()

	r.mu.Lock()
	if r.state == RequestCompleted {
		r.mu.Unlock()
		return false
	}
	r.responses++
	r.response = response
	if !r.multiple {
		r.markCompleted()
	}
	r.inCallback = true
	r.mu.Unlock()

	if response.Deprecated {
		r.logger.Warn("Deprecated action",
			"action", r.action,
			"version", versionOrDefault(r.version),
			"queue", r.queue)
	}

	r.invoke(response)

	r.mu.Lock()
	r.inCallback = false
	completed := r.state == RequestCompleted
	r.mu.Unlock()

	if completed {
		r.finish()
	}
	return true
}

// cancel completes the request with a synthesized response. A multiple
// response request that already received replies is finalized without it.
// When a callback is running the request is finished once it returns.
func (r *Request) cancel(response *Response, expired bool) bool {
	r.mu.Lock()
	if r.state == RequestCompleted {
		r.mu.Unlock()
		return false
	}
	if r.multiple && r.responses > 0 {
		r.markCompleted()
		deferred := r.inCallback
		r.mu.Unlock()
		if !deferred {
			r.finish()
		}
		return true
	}
	r.expired = expired
	r.response = response
	r.markCompleted()
	r.mu.Unlock()

	r.invoke(response)
	r.finish()
	return true
}

func (r *Request) invoke(response *Response) {
	if r.callback == nil {
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Request callback panicked", "panic", rec)
		}
	}()

	r.callback(r, response)
}

func (r *Request) finish() {
	r.doneOnce.Do(func() {
		r.mu.Lock()
		stop := r.stopCtx
		r.mu.Unlock()
		if stop != nil {
			stop()
		}

		response := r.Response()
		status := 0
		if response != nil {
			status = response.Status
		}

		if r.span != nil {
			r.span.SetAttributes(attribute.Int("fleck.status", status))
			if status >= 500 {
				r.span.SetStatus(codes.Error, contracts.StatusText(status))
			}
			r.span.End()
		}
		if r.client != nil {
			r.client.metrics.RequestCompleted(r.queue, r.action, status, r.Duration())
		}

		r.logger.Debug("Request completed", "status", status, "duration", r.Duration())
		close(r.done)
	})
}

func versionOrDefault(version string) string {
	if version == "" {
		return contracts.DefaultVersion
	}
	return version
}
