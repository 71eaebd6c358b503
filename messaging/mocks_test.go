package messaging

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"
)

type mockBroker struct {
	mock.Mock
}

func (m *mockBroker) Channel(ctx context.Context) (Channel, error) {
	args := m.Called(ctx)
	if ch := args.Get(0); ch != nil {
		return ch.(Channel), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockBroker) LocalAddr() string {
	return m.Called().String(0)
}

func (m *mockBroker) Close() error {
	return m.Called().Error(0)
}

type mockSubscription struct {
	mock.Mock
}

func (m *mockSubscription) Tag() string {
	return m.Called().String(0)
}

func (m *mockSubscription) Cancel() error {
	return m.Called().Error(0)
}

type mockChannel struct {
	mock.Mock

	mu        sync.Mutex
	handlers  []DeliveryHandler
	returns   []ReturnHandler
	published []Publishing
	closed    bool
}

func (m *mockChannel) DeclareExchange(ctx context.Context, name, kind string) error {
	return m.Called(ctx, name, kind).Error(0)
}

func (m *mockChannel) DeclareQueue(ctx context.Context, name string, options QueueOptions) (string, error) {
	args := m.Called(ctx, name, options)
	return args.String(0), args.Error(1)
}

func (m *mockChannel) BindQueue(ctx context.Context, queue, exchange, routingKey string) error {
	return m.Called(ctx, queue, exchange, routingKey).Error(0)
}

func (m *mockChannel) Publish(ctx context.Context, exchange string, msg Publishing) error {
	m.mu.Lock()
	m.published = append(m.published, msg)
	m.mu.Unlock()
	return m.Called(ctx, exchange, msg).Error(0)
}

func (m *mockChannel) Consume(ctx context.Context, queue string, options ConsumeOptions, handler DeliveryHandler) (Subscription, error) {
	m.mu.Lock()
	m.handlers = append(m.handlers, handler)
	m.mu.Unlock()

	args := m.Called(ctx, queue, options, handler)
	if sub := args.Get(0); sub != nil {
		return sub.(Subscription), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockChannel) Ack(tag uint64) error {
	return m.Called(tag).Error(0)
}

func (m *mockChannel) Reject(tag uint64, requeue bool) error {
	return m.Called(tag, requeue).Error(0)
}

func (m *mockChannel) NotifyReturn(handler ReturnHandler) {
	m.mu.Lock()
	m.returns = append(m.returns, handler)
	m.mu.Unlock()
	m.Called(handler)
}

func (m *mockChannel) NotifyClose(handler CloseHandler) {}

func (m *mockChannel) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mockChannel) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return m.Called().Error(0)
}

func (m *mockChannel) reply(d Delivery) {
	m.mu.Lock()
	handler := m.handlers[0]
	m.mu.Unlock()
	handler(d)
}

func (m *mockChannel) returned(r Return) {
	m.mu.Lock()
	handlers := append([]ReturnHandler(nil), m.returns...)
	m.mu.Unlock()
	for _, h := range handlers {
		h(r)
	}
}

func (m *mockChannel) lastPublished() Publishing {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.published[len(m.published)-1]
}

func (m *mockChannel) publishCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.published)
}

// clientFixture wires a client to mock reply and publish channels
type clientFixture struct {
	broker  *mockBroker
	reply   *mockChannel
	publish *mockChannel
	sub     *mockSubscription
}

const testReplyQueue = "amq.gen-reply"

func newClientFixture(concurrency int) *clientFixture {
	f := &clientFixture{
		broker:  &mockBroker{},
		reply:   &mockChannel{},
		publish: &mockChannel{},
		sub:     &mockSubscription{},
	}

	f.broker.On("LocalAddr").Return("10.0.0.1")
	f.broker.On("Channel", mock.Anything).Return(f.reply, nil).Once()
	f.broker.On("Channel", mock.Anything).Return(f.publish, nil).Once()

	f.reply.On("DeclareExchange", mock.Anything, ReplyExchange, ExchangeDirect).Return(nil)
	f.reply.On("DeclareQueue", mock.Anything, "", QueueOptions{Exclusive: true, AutoDelete: true}).Return(testReplyQueue, nil)
	f.reply.On("BindQueue", mock.Anything, testReplyQueue, ReplyExchange, testReplyQueue).Return(nil)
	f.reply.On("Consume", mock.Anything, testReplyQueue, ConsumeOptions{AutoAck: true}, mock.Anything).Return(f.sub, nil).Times(concurrency)
	f.reply.On("Close").Return(nil)

	f.publish.On("NotifyReturn", mock.Anything).Return()
	f.publish.On("Close").Return(nil)

	f.sub.On("Cancel").Return(nil)

	return f
}
