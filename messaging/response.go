package messaging

import (
	"fmt"

	"github.com/glimte/fleck-go/codec"
	"github.com/glimte/fleck-go/contracts"
)

// Response is a reply received by a client
type Response struct {
	// ID is the correlation id of the request this response answers
	ID         string
	Status     int
	Headers    map[string]interface{}
	Body       interface{}
	Errors     []string
	Deprecated bool

	codec codec.Codec
}

// ParseResponse decodes a reply payload. A payload that cannot be decoded is
// turned into a 500 response carrying the decode error, so a garbled reply
// still completes the pending request.
func ParseResponse(id string, payload []byte, c codec.Codec) *Response {
	if c == nil {
		c = codec.Default
	}

	var envelope struct {
		Status     *int                   `json:"status"`
		Headers    map[string]interface{} `json:"headers"`
		Body       interface{}            `json:"body"`
		Errors     []interface{}          `json:"errors"`
		Deprecated bool                   `json:"deprecated"`
	}

	if err := c.Decode(payload, &envelope); err != nil {
		response := newResponse(id, contracts.StatusInternalServerError, c)
		response.Errors = []string{contracts.StatusText(contracts.StatusInternalServerError), err.Error()}
		return response
	}

	status := contracts.StatusOK
	if envelope.Status != nil {
		status = *envelope.Status
	}

	response := newResponse(id, status, c)
	response.Body = envelope.Body
	response.Deprecated = envelope.Deprecated
	if envelope.Headers != nil {
		response.Headers = envelope.Headers
	}
	for _, e := range envelope.Errors {
		if s, ok := e.(string); ok {
			response.Errors = append(response.Errors, s)
		} else {
			response.Errors = append(response.Errors, fmt.Sprint(e))
		}
	}

	return response
}

// ServiceUnavailable builds the response synthesized on timeouts, returned
// messages and terminated clients
func ServiceUnavailable(id string) *Response {
	response := newResponse(id, contracts.StatusServiceUnavailable, nil)
	response.Errors = []string{contracts.StatusText(contracts.StatusServiceUnavailable)}
	return response
}

func newResponse(id string, status int, c codec.Codec) *Response {
	return &Response{
		ID:      id,
		Status:  status,
		Headers: make(map[string]interface{}),
		Errors:  []string{},
		codec:   c,
	}
}

// OK reports whether the status is below 400
func (r *Response) OK() bool {
	return r.Status < 400
}

// DecodeBody re-decodes the body into v
func (r *Response) DecodeBody(v interface{}) error {
	c := r.codec
	if c == nil {
		c = codec.Default
	}

	data, err := c.Encode(r.Body)
	if err != nil {
		return fmt.Errorf("failed to encode response body: %w", err)
	}

	return c.Decode(data, v)
}

// Envelope returns the wire representation of the response
func (r *Response) Envelope() *contracts.ResponseEnvelope {
	return &contracts.ResponseEnvelope{
		Status:     r.Status,
		Headers:    r.Headers,
		Body:       r.Body,
		Errors:     r.Errors,
		Deprecated: r.Deprecated,
	}
}

func (r *Response) String() string {
	return fmt.Sprintf("%d %s", r.Status, contracts.StatusText(r.Status))
}
