// Package sqs receives event payloads from an SQS queue fed by EventBridge
// rules and the deployment notification topic.
package sqs

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

const (
	maxMessages     = 10
	longPollSeconds = 20
)

// Message is one received queue message
type Message struct {
	ID            string
	Body          string
	ReceiptHandle string
	ReceiveCount  int
	SentAt        time.Time
}

// API is the subset of the SQS client the queue consumer uses
type API interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Client polls one queue
type Client struct {
	api               API
	queueURL          string
	visibilityTimeout time.Duration
}

// NewClient creates a queue consumer. visibilityTimeout must exceed the time
// a message may take to handle, or it is redelivered while still in flight.
func NewClient(api API, queueURL string, visibilityTimeout time.Duration) *Client {
	return &Client{
		api:               api,
		queueURL:          queueURL,
		visibilityTimeout: visibilityTimeout,
	}
}

// NewClientFromConfig creates a queue consumer backed by a real SQS client
func NewClientFromConfig(cfg aws.Config, queueURL string, visibilityTimeout time.Duration) *Client {
	return NewClient(sqs.NewFromConfig(cfg), queueURL, visibilityTimeout)
}

// QueueURL returns the queue being consumed
func (c *Client) QueueURL() string {
	return c.queueURL
}

// Receive long-polls for up to ten messages
func (c *Client) Receive(ctx context.Context) ([]Message, error) {
	input := &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: maxMessages,
		WaitTimeSeconds:     longPollSeconds,
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
			types.MessageSystemAttributeNameSentTimestamp,
		},
	}
	if c.visibilityTimeout > 0 {
		input.VisibilityTimeout = int32(c.visibilityTimeout / time.Second)
	}

	result, err := c.api.ReceiveMessage(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to receive messages from SQS: %w", err)
	}

	messages := make([]Message, 0, len(result.Messages))
	for _, m := range result.Messages {
		msg := Message{
			ID:            aws.ToString(m.MessageId),
			Body:          aws.ToString(m.Body),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
		}
		if v, ok := m.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)]; ok {
			msg.ReceiveCount, _ = strconv.Atoi(v)
		}
		if v, ok := m.Attributes[string(types.MessageSystemAttributeNameSentTimestamp)]; ok {
			if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
				msg.SentAt = time.UnixMilli(ms)
			}
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// Delete acknowledges a handled message
func (c *Client) Delete(ctx context.Context, msg Message) error {
	_, err := c.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: aws.String(msg.ReceiptHandle),
	})
	if err != nil {
		return fmt.Errorf("failed to delete message %s: %w", msg.ID, err)
	}
	return nil
}
