package consumer

import "github.com/glimte/fleck-go/contracts"

// Status helpers set the response status and return a *Halt. Returning the
// halt from the handler stops it with the prepared response:
//
//	if user == nil {
//		return c.NotFound("user " + id)
//	}
//	return c.OK(user)
//
// Calling a helper without returning its result only sets the response.

// 1xx

// Continue renders 100 Continue with body
func (c *Context) Continue(body interface{}) *Halt {
	return c.Render(contracts.StatusContinue, body)
}

// SwitchingProtocols renders 101 Switching Protocols with body
func (c *Context) SwitchingProtocols(body interface{}) *Halt {
	return c.Render(contracts.StatusSwitchingProtocols, body)
}

// Processing renders 102 Processing with body
func (c *Context) Processing(body interface{}) *Halt {
	return c.Render(contracts.StatusProcessing, body)
}

// EarlyHints renders 103 Early Hints with body
func (c *Context) EarlyHints(body interface{}) *Halt {
	return c.Render(contracts.StatusEarlyHints, body)
}

// 2xx

// OK renders 200 OK with body
func (c *Context) OK(body interface{}) *Halt {
	return c.Render(contracts.StatusOK, body)
}

// Created renders 201 Created with body
func (c *Context) Created(body interface{}) *Halt {
	return c.Render(contracts.StatusCreated, body)
}

// Accepted renders 202 Accepted with body
func (c *Context) Accepted(body interface{}) *Halt {
	return c.Render(contracts.StatusAccepted, body)
}

// NonAuthoritativeInformation renders 203 Non-Authoritative Information with body
func (c *Context) NonAuthoritativeInformation(body interface{}) *Halt {
	return c.Render(contracts.StatusNonAuthoritativeInformation, body)
}

// NoContent renders 204 No Content with body
func (c *Context) NoContent(body interface{}) *Halt {
	return c.Render(contracts.StatusNoContent, body)
}

// ResetContent renders 205 Reset Content with body
func (c *Context) ResetContent(body interface{}) *Halt {
	return c.Render(contracts.StatusResetContent, body)
}

// PartialContent renders 206 Partial Content with body
func (c *Context) PartialContent(body interface{}) *Halt {
	return c.Render(contracts.StatusPartialContent, body)
}

// MultiStatus renders 207 Multi-Status with body
func (c *Context) MultiStatus(body interface{}) *Halt {
	return c.Render(contracts.StatusMultiStatus, body)
}

// AlreadyReported renders 208 Already Reported with body
func (c *Context) AlreadyReported(body interface{}) *Halt {
	return c.Render(contracts.StatusAlreadyReported, body)
}

// IMUsed renders 226 IM Used with body
func (c *Context) IMUsed(body interface{}) *Halt {
	return c.Render(contracts.StatusIMUsed, body)
}

// 3xx

// MultipleChoice renders 300 Multiple Choice with body
func (c *Context) MultipleChoice(body interface{}) *Halt {
	return c.Render(contracts.StatusMultipleChoice, body)
}

// MovedPermanently renders 301 Moved Permanently with body
func (c *Context) MovedPermanently(body interface{}) *Halt {
	return c.Render(contracts.StatusMovedPermanently, body)
}

// Found renders 302 Found with body
func (c *Context) Found(body interface{}) *Halt {
	return c.Render(contracts.StatusFound, body)
}

// SeeOther renders 303 See Other with body
func (c *Context) SeeOther(body interface{}) *Halt {
	return c.Render(contracts.StatusSeeOther, body)
}

// NotModified renders 304 Not Modified with body
func (c *Context) NotModified(body interface{}) *Halt {
	return c.Render(contracts.StatusNotModified, body)
}

// UseProxy renders 305 Use Proxy with body
func (c *Context) UseProxy(body interface{}) *Halt {
	return c.Render(contracts.StatusUseProxy, body)
}

// Unused renders 306 Unused with body
func (c *Context) Unused(body interface{}) *Halt {
	return c.Render(contracts.StatusUnused, body)
}

// TemporaryRedirect renders 307 Temporary Redirect with body
func (c *Context) TemporaryRedirect(body interface{}) *Halt {
	return c.Render(contracts.StatusTemporaryRedirect, body)
}

// PermanentRedirect renders 308 Permanent Redirect with body
func (c *Context) PermanentRedirect(body interface{}) *Halt {
	return c.Render(contracts.StatusPermanentRedirect, body)
}

// 4xx

// BadRequest renders 400 Bad Request, listing details after the reason phrase
func (c *Context) BadRequest(details ...string) *Halt {
	return c.RenderError(contracts.StatusBadRequest, details...)
}

// Unauthorized renders 401 Unauthorized, listing details after the reason phrase
func (c *Context) Unauthorized(details ...string) *Halt {
	return c.RenderError(contracts.StatusUnauthorized, details...)
}

// PaymentRequired renders 402 Payment Required, listing details after the reason phrase
func (c *Context) PaymentRequired(details ...string) *Halt {
	return c.RenderError(contracts.StatusPaymentRequired, details...)
}

// Forbidden renders 403 Forbidden, listing details after the reason phrase
func (c *Context) Forbidden(details ...string) *Halt {
	return c.RenderError(contracts.StatusForbidden, details...)
}

// NotFound renders 404 Not Found, listing details after the reason phrase
func (c *Context) NotFound(details ...string) *Halt {
	return c.RenderError(contracts.StatusNotFound, details...)
}

// MethodNotAllowed renders 405 Method Not Allowed, listing details after the reason phrase
func (c *Context) MethodNotAllowed(details ...string) *Halt {
	return c.RenderError(contracts.StatusMethodNotAllowed, details...)
}

// NotAcceptable renders 406 Not Acceptable, listing details after the reason phrase
func (c *Context) NotAcceptable(details ...string) *Halt {
	return c.RenderError(contracts.StatusNotAcceptable, details...)
}

// ProxyAuthenticationRequired renders 407 Proxy Authentication Required, listing details after the reason phrase
func (c *Context) ProxyAuthenticationRequired(details ...string) *Halt {
	return c.RenderError(contracts.StatusProxyAuthRequired, details...)
}

// RequestTimeout renders 408 Request Timeout, listing details after the reason phrase
func (c *Context) RequestTimeout(details ...string) *Halt {
	return c.RenderError(contracts.StatusRequestTimeout, details...)
}

// Conflict renders 409 Conflict, listing details after the reason phrase
func (c *Context) Conflict(details ...string) *Halt {
	return c.RenderError(contracts.StatusConflict, details...)
}

// Gone renders 410 Gone, listing details after the reason phrase
func (c *Context) Gone(details ...string) *Halt {
	return c.RenderError(contracts.StatusGone, details...)
}

// LengthRequired renders 411 Length Required, listing details after the reason phrase
func (c *Context) LengthRequired(details ...string) *Halt {
	return c.RenderError(contracts.StatusLengthRequired, details...)
}

// PreconditionFailed renders 412 Precondition Failed, listing details after the reason phrase
func (c *Context) PreconditionFailed(details ...string) *Halt {
	return c.RenderError(contracts.StatusPreconditionFailed, details...)
}

// PayloadTooLarge renders 413 Payload Too Large, listing details after the reason phrase
func (c *Context) PayloadTooLarge(details ...string) *Halt {
	return c.RenderError(contracts.StatusPayloadTooLarge, details...)
}

// URITooLong renders 414 URI Too Long, listing details after the reason phrase
func (c *Context) URITooLong(details ...string) *Halt {
	return c.RenderError(contracts.StatusURITooLong, details...)
}

// UnsupportedMediaType renders 415 Unsupported Media Type, listing details after the reason phrase
func (c *Context) UnsupportedMediaType(details ...string) *Halt {
	return c.RenderError(contracts.StatusUnsupportedMediaType, details...)
}

// RangeNotSatisfiable renders 416 Range Not Satisfiable, listing details after the reason phrase
func (c *Context) RangeNotSatisfiable(details ...string) *Halt {
	return c.RenderError(contracts.StatusRangeNotSatisfiable, details...)
}

// ExpectationFailed renders 417 Expectation Failed, listing details after the reason phrase
func (c *Context) ExpectationFailed(details ...string) *Halt {
	return c.RenderError(contracts.StatusExpectationFailed, details...)
}

// ImATeapot renders 418 I'm a teapot, listing details after the reason phrase
func (c *Context) ImATeapot(details ...string) *Halt {
	return c.RenderError(contracts.StatusTeapot, details...)
}

// MisdirectedRequest renders 421 Misdirected Request, listing details after the reason phrase
func (c *Context) MisdirectedRequest(details ...string) *Halt {
	return c.RenderError(contracts.StatusMisdirectedRequest, details...)
}

// UnprocessableEntity renders 422 Unprocessable Entity, listing details after the reason phrase
func (c *Context) UnprocessableEntity(details ...string) *Halt {
	return c.RenderError(contracts.StatusUnprocessableEntity, details...)
}

// Locked renders 423 Locked, listing details after the reason phrase
func (c *Context) Locked(details ...string) *Halt {
	return c.RenderError(contracts.StatusLocked, details...)
}

// FailedDependency renders 424 Failed Dependency, listing details after the reason phrase
func (c *Context) FailedDependency(details ...string) *Halt {
	return c.RenderError(contracts.StatusFailedDependency, details...)
}

// TooEarly renders 425 Too Early, listing details after the reason phrase
func (c *Context) TooEarly(details ...string) *Halt {
	return c.RenderError(contracts.StatusTooEarly, details...)
}

// UpgradeRequired renders 426 Upgrade Required, listing details after the reason phrase
func (c *Context) UpgradeRequired(details ...string) *Halt {
	return c.RenderError(contracts.StatusUpgradeRequired, details...)
}

// PreconditionRequired renders 428 Precondition Required, listing details after the reason phrase
func (c *Context) PreconditionRequired(details ...string) *Halt {
	return c.RenderError(contracts.StatusPreconditionRequired, details...)
}

// TooManyRequests renders 429 Too Many Requests, listing details after the reason phrase
func (c *Context) TooManyRequests(details ...string) *Halt {
	return c.RenderError(contracts.StatusTooManyRequests, details...)
}

// RequestHeaderFieldsTooLarge renders 431 Request Header Fields Too Large, listing details after the reason phrase
func (c *Context) RequestHeaderFieldsTooLarge(details ...string) *Halt {
	return c.RenderError(contracts.StatusRequestHeaderFieldsTooLarge, details...)
}

// UnavailableForLegalReasons renders 451 Unavailable For Legal Reasons, listing details after the reason phrase
func (c *Context) UnavailableForLegalReasons(details ...string) *Halt {
	return c.RenderError(contracts.StatusUnavailableForLegalReasons, details...)
}

// 5xx

// InternalServerError renders 500 Internal Server Error, listing details after the reason phrase
func (c *Context) InternalServerError(details ...string) *Halt {
	return c.RenderError(contracts.StatusInternalServerError, details...)
}

// NotImplemented renders 501 Not Implemented, listing details after the reason phrase
func (c *Context) NotImplemented(details ...string) *Halt {
	return c.RenderError(contracts.StatusNotImplemented, details...)
}

// BadGateway renders 502 Bad Gateway, listing details after the reason phrase
func (c *Context) BadGateway(details ...string) *Halt {
	return c.RenderError(contracts.StatusBadGateway, details...)
}

// ServiceUnavailable renders 503 Service Unavailable, listing details after the reason phrase
func (c *Context) ServiceUnavailable(details ...string) *Halt {
	return c.RenderError(contracts.StatusServiceUnavailable, details...)
}

// GatewayTimeout renders 504 Gateway Timeout, listing details after the reason phrase
func (c *Context) GatewayTimeout(details ...string) *Halt {
	return c.RenderError(contracts.StatusGatewayTimeout, details...)
}

// HTTPVersionNotSupported renders 505 HTTP Version Not Supported, listing details after the reason phrase
func (c *Context) HTTPVersionNotSupported(details ...string) *Halt {
	return c.RenderError(contracts.StatusHTTPVersionNotSupported, details...)
}

// VariantAlsoNegotiates renders 506 Variant Also Negotiates, listing details after the reason phrase
func (c *Context) VariantAlsoNegotiates(details ...string) *Halt {
	return c.RenderError(contracts.StatusVariantAlsoNegotiates, details...)
}

// InsufficientStorage renders 507 Insufficient Storage, listing details after the reason phrase
func (c *Context) InsufficientStorage(details ...string) *Halt {
	return c.RenderError(contracts.StatusInsufficientStorage, details...)
}

// LoopDetected renders 508 Loop Detected, listing details after the reason phrase
func (c *Context) LoopDetected(details ...string) *Halt {
	return c.RenderError(contracts.StatusLoopDetected, details...)
}

// NotExtended renders 510 Not Extended, listing details after the reason phrase
func (c *Context) NotExtended(details ...string) *Halt {
	return c.RenderError(contracts.StatusNotExtended, details...)
}

// NetworkAuthenticationRequired renders 511 Network Authentication Required, listing details after the reason phrase
func (c *Context) NetworkAuthenticationRequired(details ...string) *Halt {
	return c.RenderError(contracts.StatusNetworkAuthenticationRequired, details...)
}
