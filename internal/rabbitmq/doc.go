// Package rabbitmq provides the RabbitMQ plumbing behind the rabbitmq transport.
//
// This package includes:
//   - ConnectionManager: owns the AMQP connection and reconnects with exponential backoff
//   - Channel: a messaging.Channel over a single AMQP channel
//
// Connection state changes are reported to ConnectionStateListener
// implementations. Channel operations that fail because the channel closed
// match messaging.ErrChannelClosed.
package rabbitmq
