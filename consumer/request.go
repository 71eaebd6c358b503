package consumer

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/glimte/fleck-go/codec"
	"github.com/glimte/fleck-go/contracts"
	"github.com/glimte/fleck-go/messaging"
)

// Request is an inbound request parsed from a broker delivery
type Request struct {
	id          string
	action      string
	version     string
	ip          string
	appID       string
	replyTo     string
	exchange    string
	queue       string
	deliveryTag uint64
	redelivered bool

	headers map[string]interface{}
	params  map[string]interface{}

	response *Response

	createdAt   time.Time
	processedAt time.Time
	failed      bool
	rejected    bool
	requeue     bool
}

// newRequest parses delivery. A payload that cannot be decoded fails the
// request with 400; a payload of the wrong shape fails it with 500.
func newRequest(delivery messaging.Delivery, c codec.Codec, logger *slog.Logger) *Request {
	r := &Request{
		id:          delivery.CorrelationID,
		action:      delivery.Type,
		appID:       delivery.AppID,
		replyTo:     delivery.ReplyTo,
		exchange:    delivery.Exchange,
		queue:       delivery.RoutingKey,
		deliveryTag: delivery.Tag,
		redelivered: delivery.Redelivered,
		headers:     make(map[string]interface{}, len(delivery.Headers)),
		params:      make(map[string]interface{}),
		response:    newResponse(delivery.CorrelationID),
		createdAt:   time.Now(),
	}

	for k, v := range delivery.Headers {
		r.headers[k] = v
	}

	if err := r.parse(delivery.Body, c); err != nil {
		r.failed = true
		if codec.IsDecodeError(err) {
			logger.Error("Failed to decode request", "id", r.id, "error", err)
			_ = r.response.RenderError(contracts.StatusBadRequest, contracts.StatusText(contracts.StatusBadRequest), err.Error())
		} else {
			logger.Error("Failed to parse request", "id", r.id, "error", err)
			_ = r.response.RenderError(contracts.StatusInternalServerError, contracts.StatusText(contracts.StatusInternalServerError), err.Error())
		}
	}

	return r
}

func (r *Request) parse(body []byte, c codec.Codec) error {
	var data interface{}
	if err := c.Decode(body, &data); err != nil {
		return err
	}

	payload, ok := data.(map[string]interface{})
	if !ok {
		return fmt.Errorf("request payload must be an object, got %T", data)
	}

	if raw, ok := payload["headers"]; ok && raw != nil {
		headers, ok := raw.(map[string]interface{})
		if !ok {
			return fmt.Errorf("request headers must be an object, got %T", raw)
		}
		for k, v := range headers {
			if v != nil {
				r.headers[k] = v
			}
		}
	}

	if raw, ok := payload["params"]; ok && raw != nil {
		params, ok := raw.(map[string]interface{})
		if !ok {
			return fmt.Errorf("request params must be an object, got %T", raw)
		}
		r.params = params
	}

	if r.action == "" {
		r.action = stringHeader(r.headers, contracts.HeaderAction)
	}
	if _, ok := r.headers[contracts.HeaderAction]; !ok && r.action != "" {
		r.headers[contracts.HeaderAction] = r.action
	}
	r.version = stringHeader(r.headers, contracts.HeaderVersion)
	r.ip = stringHeader(r.headers, contracts.HeaderIP)

	return nil
}

func stringHeader(headers map[string]interface{}, key string) string {
	switch v := headers[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// ID returns the correlation id
func (r *Request) ID() string { return r.id }

// Action returns the requested action name
func (r *Request) Action() string { return r.action }

// Version returns the requested version, empty when none was sent
func (r *Request) Version() string { return r.version }

// IP returns the address of the requesting client
func (r *Request) IP() string { return r.ip }

// AppID returns the application id of the requesting client
func (r *Request) AppID() string { return r.appID }

// ReplyTo returns the reply routing key
func (r *Request) ReplyTo() string { return r.replyTo }

// Exchange returns the exchange the request was published to
func (r *Request) Exchange() string { return r.exchange }

// Queue returns the routing key the request was published with
func (r *Request) Queue() string { return r.queue }

// DeliveryTag returns the broker delivery tag
func (r *Request) DeliveryTag() uint64 { return r.deliveryTag }

// Redelivered reports whether the broker delivered the request before
func (r *Request) Redelivered() bool { return r.redelivered }

// Headers returns the request headers
func (r *Request) Headers() map[string]interface{} { return r.headers }

// Params returns the request params
func (r *Request) Params() map[string]interface{} { return r.params }

// Response returns the response being prepared for this request
func (r *Request) Response() *Response { return r.response }

// CreatedAt returns when the delivery was received
func (r *Request) CreatedAt() time.Time { return r.createdAt }

// ProcessedAt returns when processing finished, zero while running
func (r *Request) ProcessedAt() time.Time { return r.processedAt }

// Failed reports whether the request could not be parsed
func (r *Request) Failed() bool { return r.failed }

// Rejected reports whether the request will be rejected instead of answered
func (r *Request) Rejected() bool { return r.rejected }

// Requeue reports whether a rejected request goes back to its queue
func (r *Request) Requeue() bool { return r.requeue }

// Reject marks the request to be rejected without a reply
func (r *Request) Reject(requeue bool) {
	r.rejected = true
	r.requeue = requeue
	r.response.Reject(requeue)
	r.processed()
}

func (r *Request) processed() {
	if r.processedAt.IsZero() {
		r.processedAt = time.Now()
	}
}

// ExecutionTime returns processing time in milliseconds rounded to two decimals
func (r *Request) ExecutionTime() float64 {
	end := r.processedAt
	if end.IsZero() {
		end = time.Now()
	}
	ms := float64(end.Sub(r.createdAt)) / float64(time.Millisecond)
	return math.Round(ms*100) / 100
}

// versionOrDefault returns the version reported in logs
func (r *Request) versionOrDefault() string {
	if r.version == "" {
		return contracts.DefaultVersion
	}
	return r.version
}

// logHeadersAndParams dumps the request at debug level
func (r *Request) logHeadersAndParams(logger *slog.Logger) {
	source := r.queue
	if r.exchange != "" {
		source = r.queue + "@" + r.exchange
	}
	logger.Debug("Request received",
		"ip", r.ip,
		"source", source,
		"action", r.action,
		"version", r.versionOrDefault(),
		"id", r.id,
		"headers", r.headers,
		"params", r.params,
	)
}
