package bus

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/chongkelv123/prism-sub004/internal/pkg/errors"
	"github.com/chongkelv123/prism-sub004/internal/pkg/logger"
)

// State is the broker connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateReady
	StateConsuming
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateConsuming:
		return "consuming"
	default:
		return "disconnected"
	}
}

// RabbitConfig holds RabbitMQ connection settings.
type RabbitConfig struct {
	URL      string   // Broker URL (amqp://...)
	Exchange string   // Durable topic exchange shared by all services
	Queue    string   // Durable queue owned by this service
	Bindings []string // Routing-key patterns the queue is bound to
	Source   string   // Service name stamped on published events
}

// RabbitBus is a RabbitMQ-backed event bus speaking the topic-exchange wire
// contract: durable exchange, one durable queue per service, pattern
// bindings, persistent publishes and explicit ack/nack on consume.
//
// The connection and channel are process-wide, created once and reused for
// all operations; topology is never mutated after startup.
type RabbitBus struct {
	cfg  RabbitConfig
	conn *amqp.Connection
	ch   *amqp.Channel

	mu            sync.RWMutex
	subscriptions []subscription
	closed        bool
	consuming     bool

	state      atomic.Int32
	log        *logger.Logger
	deadLetter *DeadLetterLog

	stop       chan struct{}
	consumerWg sync.WaitGroup
	handlerWg  sync.WaitGroup
}

// NewRabbitBus connects to the broker and asserts the exchange, queue and
// bindings. A connect failure leaves nothing to clean up; the caller decides
// whether to run degraded without a broker.
func NewRabbitBus(cfg RabbitConfig, log *logger.Logger, deadLetter *DeadLetterLog) (*RabbitBus, error) {
	if cfg.URL == "" {
		return nil, errors.New(errors.CodeValidation, "rabbitmq url cannot be empty")
	}
	if cfg.Exchange == "" {
		return nil, errors.New(errors.CodeValidation, "rabbitmq exchange cannot be empty")
	}
	if cfg.Queue == "" {
		return nil, errors.New(errors.CodeValidation, "rabbitmq queue cannot be empty")
	}
	if log == nil {
		log = logger.Default()
	}

	b := &RabbitBus{
		cfg:        cfg,
		log:        log,
		deadLetter: deadLetter,
		stop:       make(chan struct{}),
	}

	if err := b.connect(); err != nil {
		return nil, err
	}

	return b, nil
}

// connect dials the broker and asserts topology.
func (b *RabbitBus) connect() error {
	b.state.Store(int32(StateConnecting))

	conn, err := amqp.Dial(b.cfg.URL)
	if err != nil {
		b.state.Store(int32(StateDisconnected))
		return errors.Wrap(errors.CodeUnavailable, "failed to connect to rabbitmq", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		b.state.Store(int32(StateDisconnected))
		return errors.Wrap(errors.CodeUnavailable, "failed to open channel", err)
	}

	if err := ch.ExchangeDeclare(
		b.cfg.Exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		b.state.Store(int32(StateDisconnected))
		return errors.Wrap(errors.CodeUnavailable, "failed to declare exchange", err)
	}

	if _, err := ch.QueueDeclare(
		b.cfg.Queue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		b.state.Store(int32(StateDisconnected))
		return errors.Wrap(errors.CodeUnavailable, "failed to declare queue", err)
	}

	for _, pattern := range b.cfg.Bindings {
		if err := ch.QueueBind(b.cfg.Queue, pattern, b.cfg.Exchange, false, nil); err != nil {
			ch.Close()
			conn.Close()
			b.state.Store(int32(StateDisconnected))
			return errors.Wrap(errors.CodeUnavailable, "failed to bind queue", err)
		}
	}

	b.mu.Lock()
	b.conn = conn
	b.ch = ch
	b.mu.Unlock()

	b.state.Store(int32(StateReady))
	b.log.Info("connected to rabbitmq",
		"exchange", b.cfg.Exchange,
		"queue", b.cfg.Queue,
		"bindings", len(b.cfg.Bindings),
	)

	return nil
}

// State returns the current lifecycle state.
func (b *RabbitBus) State() State {
	return State(b.state.Load())
}

// Publish sends a persistent message to the shared exchange. It never waits
// for delivery confirmation; a broker failure is logged and the event is
// dropped (at-most-once for publishes).
func (b *RabbitBus) Publish(ctx context.Context, routingKey string, event Event) error {
	b.mu.RLock()
	ch := b.ch
	closed := b.closed
	b.mu.RUnlock()

	if closed || ch == nil {
		return errors.New(errors.CodeUnavailable, "bus is closed")
	}

	event = b.stampSource(event)
	data, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(errors.CodeInternal, "failed to marshal event", err)
	}

	err = ch.PublishWithContext(ctx,
		b.cfg.Exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    event.ID,
			Timestamp:    time.Unix(event.Timestamp, 0),
			Body:         data,
		},
	)
	if err != nil {
		b.log.Warn("publish dropped, broker unreachable",
			"routing_key", routingKey,
			"error", err.Error(),
		)
		return errors.Wrap(errors.CodeUnavailable, "failed to publish event", err)
	}

	return nil
}

// stampSource fills in the configured service name on events published
// without an explicit source.
func (b *RabbitBus) stampSource(event Event) Event {
	if event.Source == "" && b.cfg.Source != "" {
		event.Source = b.cfg.Source
	}
	return event
}

// Subscribe registers a handler and starts the consume loop on first use.
func (b *RabbitBus) Subscribe(ctx context.Context, pattern string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errors.New(errors.CodeUnavailable, "bus is closed")
	}

	b.subscriptions = append(b.subscriptions, subscription{pattern: pattern, handler: handler})

	if !b.consuming {
		b.consuming = true
		b.consumerWg.Add(1)
		go b.consumeLoop()
	}

	return nil
}

// consumeLoop consumes the service queue until the bus is closed,
// re-establishing the broker connection after failures.
func (b *RabbitBus) consumeLoop() {
	defer b.consumerWg.Done()

	for {
		select {
		case <-b.stop:
			return
		default:
		}

		if err := b.consumeOnce(); err != nil {
			b.log.Warn("consume interrupted", "error", err.Error())
		}

		select {
		case <-b.stop:
			return
		case <-time.After(5 * time.Second):
			// Reconnect before resuming
			if err := b.connect(); err != nil {
				b.log.Warn("reconnect failed", "error", err.Error())
			}
		}
	}
}

func (b *RabbitBus) consumeOnce() error {
	b.mu.RLock()
	ch := b.ch
	b.mu.RUnlock()

	if ch == nil {
		return errors.New(errors.CodeUnavailable, "no channel")
	}

	deliveries, err := ch.Consume(
		b.cfg.Queue,
		"",    // consumer tag (server-generated)
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return errors.Wrap(errors.CodeUnavailable, "failed to start consuming", err)
	}

	b.state.Store(int32(StateConsuming))

	for {
		select {
		case <-b.stop:
			return nil
		case d, ok := <-deliveries:
			if !ok {
				b.state.Store(int32(StateDisconnected))
				return errors.New(errors.CodeUnavailable, "delivery channel closed")
			}

			// Each delivery dispatches on its own goroutine; handlers for
			// distinct messages may run concurrently.
			b.handlerWg.Add(1)
			go func(d amqp.Delivery) {
				defer b.handlerWg.Done()
				b.dispatch(d)
			}(d)
		}
	}
}

// dispatch parses and routes one delivery. Parse failures and dispatch-table
// misses are negatively acknowledged without requeue and recorded in the
// dead-letter log so poison messages cannot loop. Handler errors are logged
// and the message is acknowledged; retrying is the producer's decision.
func (b *RabbitBus) dispatch(d amqp.Delivery) {
	var event Event
	if err := json.Unmarshal(d.Body, &event); err != nil {
		b.log.Warn("discarding unparseable message",
			"routing_key", d.RoutingKey,
			"error", err.Error(),
		)
		b.recordDeadLetter(d.RoutingKey, ReasonParseFailure, d.Body)
		_ = d.Nack(false, false)
		return
	}

	b.mu.RLock()
	var handlers []Handler
	for _, sub := range b.subscriptions {
		if MatchPattern(sub.pattern, d.RoutingKey) {
			handlers = append(handlers, sub.handler)
		}
	}
	b.mu.RUnlock()

	if len(handlers) == 0 {
		b.log.Warn("no handler for routing key", "routing_key", d.RoutingKey)
		b.recordDeadLetter(d.RoutingKey, ReasonDispatchMiss, d.Body)
		_ = d.Nack(false, false)
		return
	}

	ctx := context.Background()
	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			b.log.Warn("handler error",
				"routing_key", d.RoutingKey,
				"event_id", event.ID,
				"error", err.Error(),
			)
		}
	}

	_ = d.Ack(false)
}

func (b *RabbitBus) recordDeadLetter(routingKey, reason string, body []byte) {
	if b.deadLetter == nil {
		return
	}
	if err := b.deadLetter.Record(routingKey, reason, body); err != nil {
		b.log.Warn("failed to record dead letter", "error", err.Error())
	}
}

// Close closes the bus and releases broker resources.
func (b *RabbitBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	close(b.stop)
	b.consumerWg.Wait()
	b.handlerWg.Wait()

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ch != nil {
		_ = b.ch.Close()
		b.ch = nil
	}
	if b.conn != nil {
		_ = b.conn.Close()
		b.conn = nil
	}

	b.subscriptions = nil
	b.state.Store(int32(StateDisconnected))

	return nil
}
