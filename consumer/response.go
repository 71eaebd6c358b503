package consumer

import (
	"fmt"
	"log/slog"

	"github.com/glimte/fleck-go/codec"
	"github.com/glimte/fleck-go/contracts"
)

// Response is the reply prepared for a consumer request
type Response struct {
	ID      string
	Status  int
	Headers map[string]interface{}
	Body    interface{}
	Errors  []string

	deprecated bool
	rejected   bool
	requeue    bool
}

func newResponse(id string) *Response {
	return &Response{
		ID:      id,
		Status:  contracts.StatusOK,
		Headers: make(map[string]interface{}),
		Errors:  []string{},
	}
}

// RenderError sets an error status and appends messages to Errors. Only
// 4xx and 5xx statuses are accepted.
func (r *Response) RenderError(status int, messages ...string) error {
	if !contracts.IsErrorStatus(status) {
		return fmt.Errorf("invalid error status code: %d", status)
	}

	r.Status = status
	for _, m := range messages {
		if m != "" {
			r.Errors = append(r.Errors, m)
		}
	}
	return nil
}

// HasErrors reports whether any error message was recorded
func (r *Response) HasErrors() bool {
	return len(r.Errors) > 0
}

// Reject marks the response to be replaced by a broker reject
func (r *Response) Reject(requeue bool) {
	r.rejected = true
	r.requeue = requeue
}

// Rejected reports whether the request is rejected instead of answered
func (r *Response) Rejected() bool { return r.rejected }

// Requeue reports whether a rejected request is requeued
func (r *Response) Requeue() bool { return r.requeue }

// Deprecate flags the response as produced by a deprecated action
func (r *Response) Deprecate() { r.deprecated = true }

// Deprecated reports whether the response is flagged as deprecated
func (r *Response) Deprecated() bool { return r.deprecated }

// Envelope returns the wire form of the response
func (r *Response) Envelope() contracts.ResponseEnvelope {
	return contracts.ResponseEnvelope{
		Status:     r.Status,
		Headers:    r.Headers,
		Body:       r.Body,
		Errors:     r.Errors,
		Deprecated: r.deprecated,
	}
}

// encode serializes the envelope. A body that cannot be encoded is replaced
// by a 500 response.
func (r *Response) encode(c codec.Codec, logger *slog.Logger) []byte {
	payload, err := c.Encode(r.Envelope())
	if err == nil {
		return payload
	}

	logger.Error("Failed to encode response", "id", r.ID, "error", err)
	r.Status = contracts.StatusInternalServerError
	r.Body = nil
	r.Errors = []string{contracts.StatusText(contracts.StatusInternalServerError), "Failed to encode the response"}

	payload, err = c.Encode(contracts.ResponseEnvelope{
		Status:  r.Status,
		Headers: map[string]interface{}{},
		Errors:  r.Errors,
	})
	if err != nil {
		return []byte(`{"status":500,"errors":["Internal Server Error"]}`)
	}
	return payload
}

func (r *Response) String() string {
	return fmt.Sprintf("#<Response %s status=%d errors=%v deprecated=%t>", r.ID, r.Status, r.Errors, r.deprecated)
}
