package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/sessionguard/internal/model"
)

const (
	// DefaultDialTimeout bounds the TCP connect and AMQP handshake.
	DefaultDialTimeout = 2 * time.Second
	// DefaultRedialCooldown is how long Append fails fast after a failed dial.
	DefaultRedialCooldown = 10 * time.Second
)

// ErrBrokerUnavailable is returned while the publisher is cooling down after
// a failed dial or while another call is dialing.
var ErrBrokerUnavailable = errors.New("rabbitmq: broker unavailable")

// Publisher publishes security events to a durable queue. It keeps one
// connection and channel open, redialing after a failure. It satisfies
// audit.Sink. Callers never wait on a dial made by another call.
type Publisher struct {
	url         string
	queue       string
	dialTimeout time.Duration
	cooldown    time.Duration
	now         func() time.Time

	mu      sync.Mutex
	conn    *amqp.Connection
	ch      *amqp.Channel
	dialing bool
	retryAt time.Time
	closed  bool
}

// NewPublisher does not dial; the first Append does.
func NewPublisher(url, queue string) *Publisher {
	if queue == "" {
		queue = DefaultQueue
	}
	return &Publisher{
		url:         url,
		queue:       queue,
		dialTimeout: DefaultDialTimeout,
		cooldown:    DefaultRedialCooldown,
		now:         time.Now,
	}
}

// WithDialTimeout overrides DefaultDialTimeout and returns p.
func (p *Publisher) WithDialTimeout(d time.Duration) *Publisher {
	if d > 0 {
		p.dialTimeout = d
	}
	return p
}

// WithRedialCooldown overrides DefaultRedialCooldown and returns p.
func (p *Publisher) WithRedialCooldown(d time.Duration) *Publisher {
	if d >= 0 {
		p.cooldown = d
	}
	return p
}

// Append publishes ev as a persistent JSON message on the default exchange.
func (p *Publisher) Append(ctx context.Context, ev model.SecurityEvent) error {
	pub, err := encodePublishing(ev)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	ch, err := p.channel()
	if err != nil {
		return err
	}
	if err := ch.PublishWithContext(ctx,
		"",      // default exchange
		p.queue, // routing key = queue name
		false,   // mandatory
		false,   // immediate
		pub,
	); err != nil {
		p.mu.Lock()
		if p.ch == ch {
			p.reset()
		}
		p.mu.Unlock()
		return fmt.Errorf("rabbitmq: publish: %w", err)
	}
	return nil
}

// Close releases the connection. Append fails after Close.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn, p.ch = nil, nil
	return err
}

// channel returns the open channel, dialing and declaring the queue first
// when needed. The dial runs without p.mu held; concurrent callers get
// ErrBrokerUnavailable instead of waiting for it.
func (p *Publisher) channel() (*amqp.Channel, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errors.New("rabbitmq: publisher closed")
	}
	if p.ch != nil && !p.ch.IsClosed() {
		ch := p.ch
		p.mu.Unlock()
		return ch, nil
	}
	if p.dialing || p.now().Before(p.retryAt) {
		p.mu.Unlock()
		return nil, ErrBrokerUnavailable
	}
	p.reset()
	p.dialing = true
	p.mu.Unlock()

	conn, ch, err := p.connect()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.dialing = false
	if err != nil {
		p.retryAt = p.now().Add(p.cooldown)
		return nil, err
	}
	if p.closed {
		_ = conn.Close()
		return nil, errors.New("rabbitmq: publisher closed")
	}
	p.conn, p.ch = conn, ch
	return ch, nil
}

func (p *Publisher) connect() (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.DialConfig(p.url, amqp.Config{
		Locale: "en_US",
		Dial:   amqp.DefaultDial(p.dialTimeout),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("rabbitmq: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("rabbitmq: channel open: %w", err)
	}
	// Durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("rabbitmq: queue declare: %w", err)
	}
	return conn, ch, nil
}

// reset drops the current connection. p.mu must be held.
func (p *Publisher) reset() {
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.conn, p.ch = nil, nil
}

func encodePublishing(ev model.SecurityEvent) (amqp.Publishing, error) {
	body, err := json.Marshal(MessageFromEvent(ev))
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("rabbitmq: marshal event: %w", err)
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.ID,
		Type:         string(ev.Action),
		Timestamp:    ts.UTC(),
		Body:         body,
	}, nil
}
