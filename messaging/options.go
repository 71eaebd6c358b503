package messaging

import "time"

// RequestOption configures a single request
type RequestOption func(*requestConfig)

type requestConfig struct {
	version    string
	headers    map[string]interface{}
	params     map[string]interface{}
	async      bool
	timeout    time.Duration
	expiration time.Duration
	queue      string
	priority   uint8
	callback   Callback
}

// WithVersion requests a specific action version
func WithVersion(version string) RequestOption {
	return func(c *requestConfig) {
		c.version = version
	}
}

// WithHeaders adds user headers to the request envelope
func WithHeaders(headers map[string]interface{}) RequestOption {
	return func(c *requestConfig) {
		c.headers = headers
	}
}

// WithParams sets the action parameters
func WithParams(params map[string]interface{}) RequestOption {
	return func(c *requestConfig) {
		c.params = params
	}
}

// WithParam sets a single action parameter
func WithParam(name string, value interface{}) RequestOption {
	return func(c *requestConfig) {
		if c.params == nil {
			c.params = make(map[string]interface{})
		}
		c.params[name] = value
	}
}

// Async returns from Request immediately; the response goes to the callback
func Async() RequestOption {
	return func(c *requestConfig) {
		c.async = true
	}
}

// Sync blocks Request until the response arrives, also for clients
// collecting multiple responses
func Sync() RequestOption {
	return func(c *requestConfig) {
		c.async = false
	}
}

// WithTimeout completes the request with 503 when no reply arrives in time.
// Zero disables the timeout.
func WithTimeout(timeout time.Duration) RequestOption {
	return func(c *requestConfig) {
		c.timeout = timeout
	}
}

// WithExpiration sets the broker message TTL. It defaults to the timeout.
func WithExpiration(ttl time.Duration) RequestOption {
	return func(c *requestConfig) {
		c.expiration = ttl
	}
}

// WithQueue overrides the routing key of the request
func WithQueue(queue string) RequestOption {
	return func(c *requestConfig) {
		c.queue = queue
	}
}

// WithPriority sets the message priority
func WithPriority(priority uint8) RequestOption {
	return func(c *requestConfig) {
		c.priority = priority
	}
}

// WithCallback registers fn to receive the response
func WithCallback(fn Callback) RequestOption {
	return func(c *requestConfig) {
		c.callback = fn
	}
}
