package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// routingKeyAttribute carries the routing key on SQS messages
const routingKeyAttribute = "routing_key"

// sqsAPI is the subset of the SQS client used here
type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
}

// SQSClient publishes every event to a single queue, tagging it with the
// routing key, and long-polls request queues
type SQSClient struct {
	api         sqsAPI
	eventsQueue string
	waitSeconds int32

	mu        sync.Mutex
	queueURLs map[string]string
	closed    bool
}

var _ Client = (*SQSClient)(nil)

// NewSQSClient loads the default AWS configuration for region
func NewSQSClient(ctx context.Context, region, eventsQueueURL string) (*SQSClient, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return newSQSClient(sqs.NewFromConfig(cfg), eventsQueueURL), nil
}

func newSQSClient(api sqsAPI, eventsQueueURL string) *SQSClient {
	return &SQSClient{
		api:         api,
		eventsQueue: eventsQueueURL,
		waitSeconds: 20,
		queueURLs:   make(map[string]string),
	}
}

func (c *SQSClient) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return nil
}

// Publish sends body to the events queue
func (c *SQSClient) Publish(ctx context.Context, routingKey string, body []byte) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if c.eventsQueue == "" {
		return errors.New("no SQS events queue configured")
	}

	_, err := c.api.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(c.eventsQueue),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			routingKeyAttribute: {
				DataType:    aws.String("String"),
				StringValue: aws.String(routingKey),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to send SQS message: %w", err)
	}
	return nil
}

// queueURL resolves a queue name, or passes a full URL through
func (c *SQSClient) queueURL(ctx context.Context, queue string) (string, error) {
	if strings.HasPrefix(queue, "https://") || strings.HasPrefix(queue, "http://") {
		return queue, nil
	}

	c.mu.Lock()
	url, ok := c.queueURLs[queue]
	c.mu.Unlock()
	if ok {
		return url, nil
	}

	out, err := c.api.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(queue)})
	if err != nil {
		return "", fmt.Errorf("failed to resolve SQS queue %s: %w", queue, err)
	}
	url = aws.ToString(out.QueueUrl)

	c.mu.Lock()
	c.queueURLs[queue] = url
	c.mu.Unlock()
	return url, nil
}

type sqsMessage struct {
	queueURL      string
	body          []byte
	routingKey    string
	receiptHandle string
}

func (m *sqsMessage) Body() []byte {
	return m.body
}

func (m *sqsMessage) RoutingKey() string {
	return m.routingKey
}

// Receive long-polls queue until a message arrives or ctx ends
func (c *SQSClient) Receive(ctx context.Context, queue string) (Message, error) {
	url, err := c.queueURL(ctx, queue)
	if err != nil {
		return nil, err
	}

	for {
		if err := c.checkOpen(); err != nil {
			return nil, err
		}

		out, err := c.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:              aws.String(url),
			MaxNumberOfMessages:   1,
			WaitTimeSeconds:       c.waitSeconds,
			MessageAttributeNames: []string{"All"},
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("failed to receive from SQS: %w", err)
		}
		if len(out.Messages) == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			continue
		}

		msg := out.Messages[0]
		received := &sqsMessage{
			queueURL:      url,
			body:          []byte(aws.ToString(msg.Body)),
			receiptHandle: aws.ToString(msg.ReceiptHandle),
		}
		if attr, ok := msg.MessageAttributes[routingKeyAttribute]; ok {
			received.routingKey = aws.ToString(attr.StringValue)
		}
		return received, nil
	}
}

// Ack deletes the message from its queue
func (c *SQSClient) Ack(ctx context.Context, msg Message) error {
	m, ok := msg.(*sqsMessage)
	if !ok {
		return fmt.Errorf("invalid message type %T", msg)
	}

	_, err := c.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(m.queueURL),
		ReceiptHandle: aws.String(m.receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("failed to delete SQS message: %w", err)
	}
	return nil
}

// Close stops further use of the client
func (c *SQSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
