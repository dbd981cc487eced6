package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultPoolSize is the number of publishing channels when none is configured
const DefaultPoolSize = 10

// publishChannels is a fixed set of AMQP channels on one connection, each
// with the topic exchange declared. A channel serves one publisher at a time.
type publishChannels struct {
	conn     *amqp.Connection
	exchange string
	idle     chan *amqp.Channel

	mu     sync.RWMutex // guards closed and sends on idle
	closed bool
}

func dialPublishChannels(url, exchange string, size int) (*publishChannels, error) {
	if size <= 0 {
		size = DefaultPoolSize
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	p := &publishChannels{
		conn:     conn,
		exchange: exchange,
		idle:     make(chan *amqp.Channel, size),
	}
	for len(p.idle) < size {
		ch, err := p.open()
		if err != nil {
			p.close()
			return nil, err
		}
		p.idle <- ch
	}
	return p, nil
}

func (p *publishChannels) open() (*amqp.Channel, error) {
	ch, err := p.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", p.exchange, err)
	}
	return ch, nil
}

// acquire takes an idle channel, replacing one the broker has closed
func (p *publishChannels) acquire(ctx context.Context) (*amqp.Channel, error) {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var ch *amqp.Channel
	select {
	case c, ok := <-p.idle:
		if !ok {
			return nil, ErrClosed
		}
		ch = c
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if !ch.IsClosed() {
		return ch, nil
	}
	fresh, err := p.open()
	if err != nil {
		p.release(ch)
		return nil, err
	}
	return fresh, nil
}

// release puts ch back. A dead channel still holds its slot and is
// reopened by the next acquire.
func (p *publishChannels) release(ch *amqp.Channel) {
	if ch == nil {
		return
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		ch.Close()
		return
	}
	select {
	case p.idle <- ch:
	default:
		ch.Close()
	}
}

func (p *publishChannels) available() int {
	return len(p.idle)
}

func (p *publishChannels) close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.idle)
	p.mu.Unlock()

	for ch := range p.idle {
		if !ch.IsClosed() {
			ch.Close()
		}
	}
	if p.conn.IsClosed() {
		return nil
	}
	return p.conn.Close()
}

// consumerInfo holds a persistent consumer channel and its deliveries
type consumerInfo struct {
	channel    *amqp.Channel
	deliveries <-chan amqp.Delivery
}

// RabbitMQClientPooled publishes plan events to a topic exchange over a set
// of pooled channels and consumes with one persistent consumer per queue
type RabbitMQClientPooled struct {
	channels    *publishChannels
	consumers   map[string]*consumerInfo
	consumersMu sync.Mutex
}

var _ Client = (*RabbitMQClientPooled)(nil)

// NewRabbitMQClientPooled connects to RabbitMQ with poolSize publishing channels
func NewRabbitMQClientPooled(url, exchange string, poolSize int) (*RabbitMQClientPooled, error) {
	channels, err := dialPublishChannels(url, exchange, poolSize)
	if err != nil {
		return nil, err
	}

	return &RabbitMQClientPooled{
		channels:  channels,
		consumers: make(map[string]*consumerInfo),
	}, nil
}

// Publish sends a persistent JSON message to the exchange under routingKey
func (c *RabbitMQClientPooled) Publish(ctx context.Context, routingKey string, body []byte) error {
	if routingKey == "" {
		return errors.New("routing key is required")
	}

	ch, err := c.channels.acquire(ctx)
	if err != nil {
		return fmt.Errorf("no publishing channel: %w", err)
	}
	defer c.channels.release(ch)

	err = ch.PublishWithContext(ctx,
		c.channels.exchange, // exchange
		routingKey,          // routing key
		false,               // mandatory
		false,               // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         body,
		})
	if err != nil {
		return fmt.Errorf("failed to publish to RabbitMQ: %w", err)
	}

	return nil
}

// rabbitMQMessage keeps the consumer channel with the delivery, since an
// ack must go out on the channel that received it
type rabbitMQMessage struct {
	delivery amqp.Delivery
	channel  *amqp.Channel
}

func (m *rabbitMQMessage) Body() []byte {
	return m.delivery.Body
}

func (m *rabbitMQMessage) RoutingKey() string {
	return m.delivery.RoutingKey
}

func (c *RabbitMQClientPooled) consumer(ctx context.Context, queueName string) (*consumerInfo, error) {
	c.consumersMu.Lock()
	defer c.consumersMu.Unlock()

	if consumer, exists := c.consumers[queueName]; exists {
		return consumer, nil
	}

	ch, err := c.channels.acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("no consumer channel: %w", err)
	}

	deliveries, err := declareAndConsume(ch, queueName, c.channels.exchange)
	if err != nil {
		c.channels.release(ch)
		return nil, err
	}

	consumer := &consumerInfo{channel: ch, deliveries: deliveries}
	c.consumers[queueName] = consumer
	return consumer, nil
}

func declareAndConsume(ch *amqp.Channel, queueName, exchange string) (<-chan amqp.Delivery, error) {
	_, err := ch.QueueDeclare(
		queueName, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		return nil, fmt.Errorf("failed to declare queue %s: %w", queueName, err)
	}

	if err := ch.QueueBind(queueName, queueName, exchange, false, nil); err != nil {
		return nil, fmt.Errorf("failed to bind queue %s: %w", queueName, err)
	}

	// one unacked request at a time per consumer
	if err := ch.Qos(1, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	deliveries, err := ch.Consume(
		queueName, // queue
		"",        // consumer tag (auto-generated)
		false,     // auto-ack
		false,     // exclusive
		false,     // no-local
		false,     // no-wait
		nil,       // args
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start consume on %s: %w", queueName, err)
	}
	return deliveries, nil
}

// Receive waits for the next message on queueName. The queue is declared and
// bound under its own name on first use.
func (c *RabbitMQClientPooled) Receive(ctx context.Context, queueName string) (Message, error) {
	consumer, err := c.consumer(ctx, queueName)
	if err != nil {
		return nil, err
	}

	select {
	case delivery, ok := <-consumer.deliveries:
		if !ok {
			c.consumersMu.Lock()
			delete(c.consumers, queueName)
			c.consumersMu.Unlock()
			return nil, fmt.Errorf("delivery channel for %s closed", queueName)
		}
		return &rabbitMQMessage{delivery: delivery, channel: consumer.channel}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Ack acknowledges a message received by this client
func (c *RabbitMQClientPooled) Ack(ctx context.Context, msg Message) error {
	rmq, ok := msg.(*rabbitMQMessage)
	if !ok {
		return fmt.Errorf("invalid message type %T", msg)
	}

	if err := rmq.channel.Ack(rmq.delivery.DeliveryTag, false); err != nil {
		return fmt.Errorf("failed to ack message: %w", err)
	}
	return nil
}

// Close cancels the consumers and closes every channel and the connection
func (c *RabbitMQClientPooled) Close() error {
	c.consumersMu.Lock()
	defer c.consumersMu.Unlock()

	for queueName, consumer := range c.consumers {
		if consumer.channel != nil {
			_ = consumer.channel.Cancel("", false)
			c.channels.release(consumer.channel)
		}
		delete(c.consumers, queueName)
	}

	return c.channels.close()
}
