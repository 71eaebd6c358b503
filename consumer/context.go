package consumer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/glimte/fleck-go/contracts"
)

// Context gives a handler access to the request being processed and the
// response being prepared
type Context struct {
	ctx      context.Context
	consumer *Consumer
	request  *Request
	logger   *slog.Logger
}

func newContext(ctx context.Context, consumer *Consumer, request *Request) *Context {
	return &Context{
		ctx:      ctx,
		consumer: consumer,
		request:  request,
		logger:   consumer.logger.With("id", request.id),
	}
}

// Context returns the context of the delivery; it carries the trace span
func (c *Context) Context() context.Context {
	return c.ctx
}

// Consumer returns the consumer instance running the handler
func (c *Context) Consumer() *Consumer {
	return c.consumer
}

// Logger returns a logger scoped to the request
func (c *Context) Logger() *slog.Logger {
	return c.logger
}

// Request returns the inbound request
func (c *Context) Request() *Request {
	return c.request
}

// Response returns the response being prepared
func (c *Context) Response() *Response {
	return c.request.response
}

// Action returns the requested action name
func (c *Context) Action() string {
	return c.request.action
}

// Headers returns the request headers
func (c *Context) Headers() map[string]interface{} {
	return c.request.headers
}

// Header returns a request header
func (c *Context) Header(key string) (interface{}, bool) {
	v, ok := c.request.headers[key]
	return v, ok
}

// Params returns the request params after validation
func (c *Context) Params() map[string]interface{} {
	return c.request.params
}

// Param returns a request param
func (c *Context) Param(name string) (interface{}, bool) {
	v, ok := c.request.params[name]
	return v, ok
}

// String returns a string param, or "" when absent or not a string
func (c *Context) String(name string) string {
	s, _ := c.request.params[name].(string)
	return s
}

// Number returns a numeric param, or 0 when absent or not a number
func (c *Context) Number(name string) float64 {
	n, _ := toFloat(c.request.params[name])
	return n
}

// Int returns a numeric param truncated to int
func (c *Context) Int(name string) int {
	return int(c.Number(name))
}

// Bool returns a boolean param, or false when absent or not a boolean
func (c *Context) Bool(name string) bool {
	b, _ := c.request.params[name].(bool)
	return b
}

// Bind decodes the params into v using the consumer codec
func (c *Context) Bind(v interface{}) error {
	codec := c.consumer.def.codec
	data, err := codec.Encode(c.request.params)
	if err != nil {
		return fmt.Errorf("failed to encode params: %w", err)
	}
	return codec.Decode(data, v)
}

// Deprecated flags the response as deprecated and logs a deprecation warning
func (c *Context) Deprecated() {
	c.logger.Warn(fmt.Sprintf("DEPRECATION: the action %q (%s) is going to be deprecated. Please, consider using a newer version of this action.",
		c.request.action, c.request.versionOrDefault()))
	c.request.response.Deprecate()
}

// Reject rejects the request instead of replying, optionally requeueing it
func (c *Context) Reject(requeue bool) {
	c.request.Reject(requeue)
}

// Render sets status and body. The returned *Halt stops the handler when
// returned; ignoring it lets the handler continue.
func (c *Context) Render(status int, body interface{}) *Halt {
	r := c.request.response
	r.Status = status
	r.Body = body
	return &Halt{Status: status}
}

// RenderError sets an error status, the reason phrase and details as errors.
// A status outside 400-599 is a handler bug and becomes a 500.
func (c *Context) RenderError(status int, details ...string) *Halt {
	messages := append([]string{contracts.StatusText(status)}, details...)
	if err := c.request.response.RenderError(status, messages...); err != nil {
		c.logger.Error("Invalid error status", "status", status, "error", err)
		_ = c.request.response.RenderError(contracts.StatusInternalServerError,
			contracts.StatusText(contracts.StatusInternalServerError), err.Error())
		return &Halt{Status: contracts.StatusInternalServerError}
	}
	return &Halt{Status: status}
}
