package messaging

import (
	"context"
	"bytes"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glimte/fleck-go/codec"
	"github.com/glimte/fleck-go/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func replyWith(f *clientFixture, payload string) func(mock.Arguments) {
	return func(args mock.Arguments) {
		msg := args.Get(2).(Publishing)
		go f.reply.reply(Delivery{CorrelationID: msg.CorrelationID, Body: []byte(payload)})
	}
}

func TestNewClient(t *testing.T) {
	t.Run("Declares and binds the reply queue", func(t *testing.T) {
		f := newClientFixture(3)

		client, err := NewClient(context.Background(), f.broker, "calc", WithConcurrency(3))
		require.NoError(t, err)

		assert.Equal(t, testReplyQueue, client.ReplyQueue())
		assert.Equal(t, "calc", client.Queue())
		assert.Equal(t, "10.0.0.1", client.LocalIP())
		f.reply.AssertExpectations(t)
		f.reply.AssertNumberOfCalls(t, "Consume", 3)
	})

	t.Run("Declares a custom exchange", func(t *testing.T) {
		f := newClientFixture(1)
		f.publish.On("DeclareExchange", mock.Anything, "broadcast", ExchangeFanout).Return(nil)

		_, err := NewClient(context.Background(), f.broker, "", WithExchange(ExchangeFanout, "broadcast"))
		require.NoError(t, err)
		f.publish.AssertCalled(t, "DeclareExchange", mock.Anything, "broadcast", ExchangeFanout)
	})

	t.Run("Nil broker", func(t *testing.T) {
		_, err := NewClient(context.Background(), nil, "calc")
		assert.Error(t, err)
	})

	t.Run("Setup failure closes channels", func(t *testing.T) {
		broker := &mockBroker{}
		reply := &mockChannel{}
		publish := &mockChannel{}
		broker.On("LocalAddr").Return("10.0.0.1")
		broker.On("Channel", mock.Anything).Return(reply, nil).Once()
		broker.On("Channel", mock.Anything).Return(publish, nil).Once()
		reply.On("DeclareExchange", mock.Anything, ReplyExchange, ExchangeDirect).Return(errors.New("access refused"))
		reply.On("Close").Return(nil)
		publish.On("Close").Return(nil)

		_, err := NewClient(context.Background(), broker, "calc")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "reply exchange")
		assert.True(t, reply.IsClosed())
		assert.True(t, publish.IsClosed())
	})
}

func TestClientRequest(t *testing.T) {
	t.Run("Sync request receives the reply", func(t *testing.T) {
		f := newClientFixture(1)
		client, err := NewClient(context.Background(), f.broker, "calc", WithAppID("tests"))
		require.NoError(t, err)

		f.publish.On("Publish", mock.Anything, "", mock.Anything).
			Run(replyWith(f, `{"status":200,"body":"6"}`)).Return(nil)

		response := client.Request(context.Background(), "incr",
			WithVersion("v2"),
			WithHeaders(map[string]interface{}{"trace": "abc"}),
			WithParam("num", 5),
			WithTimeout(time.Second))

		require.NotNil(t, response)
		assert.Equal(t, 200, response.Status)
		assert.Equal(t, "6", response.Body)
		assert.Equal(t, 0, client.Pending())

		msg := f.publish.lastPublished()
		assert.Equal(t, "calc", msg.RoutingKey)
		assert.Equal(t, testReplyQueue, msg.ReplyTo)
		assert.Equal(t, "incr", msg.Type)
		assert.Equal(t, "tests", msg.AppID)
		assert.True(t, msg.Mandatory)
		assert.Equal(t, time.Second, msg.Expiration)
		assert.NotEmpty(t, msg.CorrelationID)

		var envelope contracts.RequestEnvelope
		require.NoError(t, codec.Default.Decode(msg.Body, &envelope))
		assert.Equal(t, "incr", envelope.Headers["action"])
		assert.Equal(t, "v2", envelope.Headers["version"])
		assert.Equal(t, "10.0.0.1", envelope.Headers["ip"])
		assert.Equal(t, "abc", envelope.Headers["trace"])
		assert.Equal(t, float64(5), envelope.Params["num"])
	})

	t.Run("Correlation ids are unique", func(t *testing.T) {
		f := newClientFixture(1)
		client, err := NewClient(context.Background(), f.broker, "calc")
		require.NoError(t, err)
		f.publish.On("Publish", mock.Anything, "", mock.Anything).Return(nil)

		for i := 0; i < 50; i++ {
			client.Go(context.Background(), "noop")
		}

		seen := make(map[string]struct{})
		for _, msg := range f.publish.published {
			seen[msg.CorrelationID] = struct{}{}
		}
		assert.Len(t, seen, 50)
		assert.Equal(t, 50, client.Pending())
	})

	t.Run("Timeout synthesizes 503", func(t *testing.T) {
		f := newClientFixture(1)
		client, err := NewClient(context.Background(), f.broker, "calc")
		require.NoError(t, err)
		f.publish.On("Publish", mock.Anything, "", mock.Anything).Return(nil)

		start := time.Now()
		response := client.Request(context.Background(), "slow", WithTimeout(30*time.Millisecond))

		require.NotNil(t, response)
		assert.Equal(t, 503, response.Status)
		assert.Equal(t, []string{"Service Unavailable"}, response.Errors)
		assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
		assert.Equal(t, 0, client.Pending())
	})

	t.Run("Late reply after timeout is dropped", func(t *testing.T) {
		f := newClientFixture(1)
		client, err := NewClient(context.Background(), f.broker, "calc")
		require.NoError(t, err)
		f.publish.On("Publish", mock.Anything, "", mock.Anything).Return(nil)

		var calls int32
		req := client.Go(context.Background(), "slow",
			WithTimeout(10*time.Millisecond),
			WithCallback(func(_ *Request, _ *Response) { atomic.AddInt32(&calls, 1) }))
		<-req.Done()

		f.reply.reply(Delivery{CorrelationID: req.ID(), Body: []byte(`{"status":200}`)})

		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
		assert.True(t, req.Expired())
		assert.Equal(t, 503, req.Response().Status)
	})

	t.Run("Async request returns nil and calls back", func(t *testing.T) {
		f := newClientFixture(1)
		client, err := NewClient(context.Background(), f.broker, "calc")
		require.NoError(t, err)
		f.publish.On("Publish", mock.Anything, "", mock.Anything).
			Run(replyWith(f, `{"status":201}`)).Return(nil)

		got := make(chan *Response, 1)
		response := client.Request(context.Background(), "create", Async(),
			WithCallback(func(_ *Request, r *Response) { got <- r }))
		assert.Nil(t, response)

		select {
		case r := <-got:
			assert.Equal(t, 201, r.Status)
		case <-time.After(time.Second):
			t.Fatal("callback not invoked")
		}
	})

	t.Run("Returned request completes with 503", func(t *testing.T) {
		f := newClientFixture(1)
		client, err := NewClient(context.Background(), f.broker, "nowhere")
		require.NoError(t, err)
		f.publish.On("Publish", mock.Anything, "", mock.Anything).Run(func(args mock.Arguments) {
			msg := args.Get(2).(Publishing)
			go f.publish.returned(Return{ReplyCode: 312, ReplyText: "NO_ROUTE", CorrelationID: msg.CorrelationID})
		}).Return(nil)

		response := client.Request(context.Background(), "anything")

		require.NotNil(t, response)
		assert.Equal(t, 503, response.Status)
		assert.Equal(t, 0, client.Pending())
	})

	t.Run("Publish failure completes with 503", func(t *testing.T) {
		f := newClientFixture(1)
		client, err := NewClient(context.Background(), f.broker, "calc")
		require.NoError(t, err)
		f.publish.On("Publish", mock.Anything, "", mock.Anything).Return(ErrChannelClosed)

		response := client.Request(context.Background(), "incr")

		require.NotNil(t, response)
		assert.Equal(t, 503, response.Status)
		assert.Equal(t, 0, client.Pending())
	})

	t.Run("Context cancellation completes with 503", func(t *testing.T) {
		f := newClientFixture(1)
		client, err := NewClient(context.Background(), f.broker, "calc")
		require.NoError(t, err)
		f.publish.On("Publish", mock.Anything, "", mock.Anything).Return(nil)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		response := client.Request(ctx, "slow")

		require.NotNil(t, response)
		assert.Equal(t, 503, response.Status)
		assert.Equal(t, 0, client.Pending())
	})

	t.Run("Unknown correlation id is dropped", func(t *testing.T) {
		f := newClientFixture(1)
		client, err := NewClient(context.Background(), f.broker, "calc")
		require.NoError(t, err)

		assert.NotPanics(t, func() {
			f.reply.reply(Delivery{CorrelationID: "unknown", Body: []byte(`{"status":200}`)})
		})
		assert.Equal(t, 0, client.Pending())
	})

	t.Run("Garbled reply still completes", func(t *testing.T) {
		f := newClientFixture(1)
		client, err := NewClient(context.Background(), f.broker, "calc")
		require.NoError(t, err)
		f.publish.On("Publish", mock.Anything, "", mock.Anything).
			Run(replyWith(f, `garbage`)).Return(nil)

		response := client.Request(context.Background(), "incr", WithTimeout(time.Second))

		require.NotNil(t, response)
		assert.Equal(t, 500, response.Status)
	})

	t.Run("Circuit breaker stops publishing", func(t *testing.T) {
		f := newClientFixture(1)
		client, err := NewClient(context.Background(), f.broker, "calc",
			WithCircuitBreaker("calc", 2, time.Minute))
		require.NoError(t, err)
		f.publish.On("Publish", mock.Anything, "", mock.Anything).Return(errors.New("connection reset"))

		for i := 0; i < 4; i++ {
			response := client.Request(context.Background(), "incr")
			assert.Equal(t, 503, response.Status)
		}

		assert.Equal(t, 2, f.publish.publishCount())
	})
}

func TestClientMultipleResponses(t *testing.T) {
	t.Run("Collects replies until expiry", func(t *testing.T) {
		f := newClientFixture(1)
		f.publish.On("DeclareExchange", mock.Anything, "broadcast", ExchangeFanout).Return(nil)
		client, err := NewClient(context.Background(), f.broker, "",
			WithExchange(ExchangeFanout, "broadcast"),
			WithMultipleResponses(true),
			WithDefaultTimeout(50*time.Millisecond))
		require.NoError(t, err)
		f.publish.On("Publish", mock.Anything, "broadcast", mock.Anything).Run(func(args mock.Arguments) {
			msg := args.Get(2).(Publishing)
			go func() {
				for i := 0; i < 3; i++ {
					f.reply.reply(Delivery{CorrelationID: msg.CorrelationID, Body: []byte(`{"status":200}`)})
				}
			}()
		}).Return(nil)

		var mu sync.Mutex
		var statuses []int
		response := client.Request(context.Background(), "ping", WithCallback(func(_ *Request, r *Response) {
			mu.Lock()
			statuses = append(statuses, r.Status)
			mu.Unlock()
		}))
		assert.Nil(t, response)

		assert.Eventually(t, func() bool { return client.Pending() == 0 }, time.Second, 5*time.Millisecond)

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, []int{200, 200, 200}, statuses)
	})

	t.Run("Callback may terminate the client", func(t *testing.T) {
		f := newClientFixture(1)
		f.publish.On("DeclareExchange", mock.Anything, "broadcast", ExchangeFanout).Return(nil)
		client, err := NewClient(context.Background(), f.broker, "",
			WithExchange(ExchangeFanout, "broadcast"),
			WithMultipleResponses(true),
			WithDefaultTimeout(time.Second))
		require.NoError(t, err)
		f.publish.On("Publish", mock.Anything, "broadcast", mock.Anything).
			Run(replyWith(f, `{"status":200}`)).Return(nil)

		terminated := make(chan struct{})
		var calls int32
		req := client.Go(context.Background(), "ping", WithCallback(func(_ *Request, r *Response) {
			if atomic.AddInt32(&calls, 1) == 1 && r.Status == 200 {
				client.Terminate()
				close(terminated)
			}
		}))

		select {
		case <-terminated:
		case <-time.After(time.Second):
			t.Fatal("Terminate did not return")
		}

		select {
		case <-req.Done():
		case <-time.After(time.Second):
			t.Fatal("request not finished")
		}
		assert.True(t, client.Terminated())
		assert.Equal(t, RequestCompleted, req.State())
		assert.Equal(t, 200, req.Response().Status)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
		assert.Equal(t, 0, client.Pending())
	})
}

func TestClientDeprecatedAction(t *testing.T) {
	t.Run("Warns and completes normally", func(t *testing.T) {
		f := newClientFixture(1)
		out := &syncBuffer{}
		logger := slog.New(slog.NewTextHandler(out, nil))
		client, err := NewClient(context.Background(), f.broker, "calc", WithLogger(logger))
		require.NoError(t, err)
		f.publish.On("Publish", mock.Anything, "", mock.Anything).
			Run(replyWith(f, `{"status":200,"body":"x","deprecated":true}`)).Return(nil)

		response := client.Request(context.Background(), "ping", WithTimeout(time.Second))

		require.NotNil(t, response)
		assert.Equal(t, 200, response.Status)
		assert.Equal(t, "x", response.Body)
		assert.True(t, response.Deprecated)

		logs := out.String()
		assert.Contains(t, logs, "Deprecated action")
		assert.Contains(t, logs, "action=ping")
		assert.Contains(t, logs, "version=v1")
		assert.Contains(t, logs, "queue=calc")
		assert.Contains(t, logs, "level=WARN")
	})
}

func TestClientComplete(t *testing.T) {
	t.Run("Before any reply answers 503", func(t *testing.T) {
		f := newClientFixture(1)
		client, err := NewClient(context.Background(), f.broker, "calc")
		require.NoError(t, err)
		f.publish.On("Publish", mock.Anything, "", mock.Anything).Return(nil)

		var calls int32
		var got *Response
		req := client.Go(context.Background(), "ping", WithCallback(func(_ *Request, r *Response) {
			atomic.AddInt32(&calls, 1)
			got = r
		}))
		req.Complete()

		response := req.Wait()
		require.NotNil(t, response)
		assert.Equal(t, 503, response.Status)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
		assert.Same(t, response, got)
		assert.Equal(t, 0, client.Pending())

		req.Complete()
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})
}

func TestClientTerminate(t *testing.T) {
	t.Run("Cancels pending requests and refuses new ones", func(t *testing.T) {
		f := newClientFixture(1)
		client, err := NewClient(context.Background(), f.broker, "calc")
		require.NoError(t, err)
		f.publish.On("Publish", mock.Anything, "", mock.Anything).Return(nil)

		got := make(chan *Response, 2)
		callback := WithCallback(func(_ *Request, r *Response) { got <- r })
		client.Go(context.Background(), "a", callback)
		client.Go(context.Background(), "b", callback)

		var hooks int32
		client.OnTerminate(func() { atomic.AddInt32(&hooks, 1) })

		client.Terminate()
		client.Terminate()

		for i := 0; i < 2; i++ {
			r := <-got
			assert.Equal(t, 503, r.Status)
		}
		assert.True(t, client.Terminated())
		assert.Equal(t, int32(1), atomic.LoadInt32(&hooks))
		f.sub.AssertNumberOfCalls(t, "Cancel", 1)
		assert.True(t, f.reply.IsClosed())
		assert.True(t, f.publish.IsClosed())

		published := f.publish.publishCount()
		response := client.Request(context.Background(), "c")
		require.NotNil(t, response)
		assert.Equal(t, 503, response.Status)
		assert.Equal(t, published, f.publish.publishCount())
	})

	t.Run("Callbacks of a terminated client run with 503", func(t *testing.T) {
		f := newClientFixture(1)
		client, err := NewClient(context.Background(), f.broker, "calc")
		require.NoError(t, err)
		client.Terminate()

		got := make(chan *Response, 2)
		callback := WithCallback(func(_ *Request, r *Response) { got <- r })

		req := client.Go(context.Background(), "a", callback)
		<-req.Done()
		assert.Equal(t, RequestCompleted, req.State())
		assert.Equal(t, 503, req.Response().Status)

		assert.Nil(t, client.Request(context.Background(), "b", callback, Async()))

		for i := 0; i < 2; i++ {
			select {
			case r := <-got:
				assert.Equal(t, 503, r.Status)
			case <-time.After(time.Second):
				t.Fatal("callback not invoked")
			}
		}
		assert.Empty(t, got)
		assert.Equal(t, 0, f.publish.publishCount())
	})
}
