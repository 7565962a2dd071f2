// Package broker delivers confirmed messages to per-user private topics.
// It is a thin layer over watermill: an in-process gochannel pub/sub by
// default, Redis Streams when several server processes share delivery.
package broker

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/z-chat/internal/logging"
	"github.com/zhouzirui/z-chat/internal/model/chat"
)

// Topic is the watermill topic of a user's private delivery queue.
func Topic(userID chat.ID) string {
	return "user." + userID.String() + ".messages"
}

// Broker publishes to and subscribes from user topics.
type Broker struct {
	driver    string
	pub       message.Publisher
	subscribe func(ctx context.Context, topic string) (<-chan *message.Message, error)
	log       zerolog.Logger

	mu      sync.Mutex
	closers []func() error
	closed  bool
}

// NewMemory creates an in-process broker. Subscribers only see messages
// published after they subscribed.
func NewMemory() *Broker {
	logger := logging.Component("broker")
	gc := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 64,
	}, logging.NewWatermill(logger))

	b := &Broker{
		driver:    "memory",
		pub:       gc,
		subscribe: gc.Subscribe,
		log:       logger,
	}
	b.closers = append(b.closers, gc.Close)
	return b
}

// RedisOptions configure the Redis Streams driver.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedis creates a broker backed by Redis Streams. Every subscription
// reads in fan-out mode (no consumer group), so each push connection sees
// every message on its user's stream from the moment it subscribed.
func NewRedis(ctx context.Context, opts RedisOptions) (*Broker, error) {
	logger := logging.Component("broker").With().Str("driver", "redis").Logger()
	client := redis.NewClient(&redis.Options{Addr: opts.Addr, Password: opts.Password, DB: opts.DB})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "connect redis at %s", opts.Addr)
	}

	wlog := logging.NewWatermill(logger)
	marshaller := rstream.DefaultMarshallerUnmarshaller{}
	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: marshaller,
	}, wlog)
	if err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "create redis publisher")
	}

	b := &Broker{driver: "redis", pub: pub, log: logger}
	b.subscribe = func(ctx context.Context, topic string) (<-chan *message.Message, error) {
		sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
			Client:       client,
			Unmarshaller: marshaller,
			Consumer:     watermill.NewShortUUID(),
		}, wlog)
		if err != nil {
			return nil, errors.Wrap(err, "create redis subscriber")
		}
		ch, err := sub.Subscribe(ctx, topic)
		if err != nil {
			_ = sub.Close()
			return nil, err
		}
		go func() {
			<-ctx.Done()
			_ = sub.Close()
		}()
		return ch, nil
	}
	b.closers = append(b.closers, pub.Close, client.Close)
	return b, nil
}

// Driver names the backing transport.
func (b *Broker) Driver() string { return b.driver }

// Publish sends msg to one user's topic.
func (b *Broker) Publish(_ context.Context, userID chat.ID, msg chat.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "encode message")
	}
	wm := message.NewMessage(watermill.NewUUID(), payload)
	wm.Metadata.Set("channel_id", msg.ChannelID.String())
	wm.Metadata.Set("message_id", msg.ID.String())
	if err := b.pub.Publish(Topic(userID), wm); err != nil {
		return errors.Wrapf(err, "publish to %s", Topic(userID))
	}
	return nil
}

// Subscribe streams messages for userID until ctx is cancelled, then closes
// the returned channel.
func (b *Broker) Subscribe(ctx context.Context, userID chat.ID) (<-chan chat.Message, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, errors.New("broker is closed")
	}

	topic := Topic(userID)
	in, err := b.subscribe(ctx, topic)
	if err != nil {
		return nil, errors.Wrapf(err, "subscribe to %s", topic)
	}

	out := make(chan chat.Message, 16)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case wm, ok := <-in:
				if !ok {
					return
				}
				var msg chat.Message
				if err := json.Unmarshal(wm.Payload, &msg); err != nil {
					b.log.Warn().Err(err).Str("topic", topic).Msg("dropping undecodable message")
					wm.Ack()
					continue
				}
				wm.Ack()
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close releases the transport.
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	closers := b.closers
	b.mu.Unlock()

	var first error
	for _, c := range closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
