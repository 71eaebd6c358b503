package contracts

// Header keys carried inside RequestEnvelope.Headers.
const (
	HeaderAction  = "action"
	HeaderVersion = "version"
	HeaderIP      = "ip"
)

// DefaultVersion is reported for requests that carry no version header.
const DefaultVersion = "v1"

// RequestEnvelope is the payload a client publishes for every request
type RequestEnvelope struct {
	Headers map[string]interface{} `json:"headers"`
	Params  map[string]interface{} `json:"params"`
}

// NewRequestEnvelope builds an envelope with the action/version/ip headers merged
// over a copy of the user supplied headers.
func NewRequestEnvelope(action, version, ip string, headers, params map[string]interface{}) *RequestEnvelope {
	h := make(map[string]interface{}, len(headers)+3)
	for k, v := range headers {
		h[k] = v
	}
	h[HeaderAction] = action
	if version != "" {
		h[HeaderVersion] = version
	}
	if ip != "" {
		h[HeaderIP] = ip
	}

	if params == nil {
		params = make(map[string]interface{})
	}

	return &RequestEnvelope{
		Headers: h,
		Params:  params,
	}
}

// ResponseEnvelope is the payload a consumer publishes as reply
type ResponseEnvelope struct {
	Status     int                    `json:"status"`
	Headers    map[string]interface{} `json:"headers"`
	Body       interface{}            `json:"body"`
	Errors     []string               `json:"errors"`
	Deprecated bool                   `json:"deprecated"`
}

// MessageMetadata contains the broker level routing information of a request
type MessageMetadata struct {
	CorrelationID string
	ReplyTo       string
	Type          string
	AppID         string
	Priority      uint8
	Expiration    string
	Mandatory     bool
}
