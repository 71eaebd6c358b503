// Package messaging provides the client side of fleck request/response over a
// message broker.
//
// A Client owns an exclusive reply queue bound to the "fleck" exchange and
// correlates replies to in-flight requests through a Registry:
//   - Request publishes and blocks until the response, the timeout or ctx
//   - Go publishes and returns the pending *Request
//   - Callbacks run exactly once, or once per reply with multiple responses
//   - Unroutable (returned) and expired requests complete with a 503
//
// Example usage:
//
//	client, err := messaging.NewClient(ctx, broker, "calc",
//		messaging.WithLogger(logger),
//		messaging.WithDefaultTimeout(5*time.Second))
//	if err != nil {
//		return err
//	}
//	defer client.Terminate()
//
//	resp := client.Request(ctx, "incr", messaging.WithParam("num", 5))
//	if resp.OK() {
//		var n float64
//		_ = resp.DecodeBody(&n)
//	}
//
// The Broker and Channel interfaces are implemented by transports/rabbitmq and
// transports/memory.
package messaging
