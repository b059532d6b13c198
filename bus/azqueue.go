package bus

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"
)

// queueAPI is the subset of *azqueue.QueueClient used by the transport.
type queueAPI interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
	DequeueMessages(ctx context.Context, o *azqueue.DequeueMessagesOptions) (azqueue.DequeueMessagesResponse, error)
	DeleteMessage(ctx context.Context, messageID string, popReceipt string, o *azqueue.DeleteMessageOptions) (azqueue.DeleteMessageResponse, error)
	UpdateMessage(ctx context.Context, messageID string, popReceipt string, content string, o *azqueue.UpdateMessageOptions) (azqueue.UpdateMessageResponse, error)
}

// AzureQueueConfig configures the Azure Storage Queue transport.
type AzureQueueConfig struct {
	ConnectionString string
	Queue            string
	// PoisonQueue receives dead-lettered messages. Defaults to "{Queue}-poison".
	PoisonQueue string
	// VisibilityTimeout is how long a received message stays hidden before
	// the queue redelivers it.
	VisibilityTimeout time.Duration
	PollInterval      time.Duration
}

// AzureQueue is a Transport backed by Azure Storage Queues. Unsettled
// messages reappear after the visibility timeout.
type AzureQueue struct {
	queue      queueAPI
	poison     queueAPI
	visibility time.Duration
	poll       time.Duration
	logger     log.FieldLogger
}

func NewAzureQueue(cfg AzureQueueConfig, logger log.FieldLogger) (*AzureQueue, error) {
	if cfg.Queue == "" {
		return nil, errors.New("azure queue name is required")
	}
	if cfg.PoisonQueue == "" {
		cfg.PoisonQueue = cfg.Queue + "-poison"
	}
	opts := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Second * 30,
				RetryDelay:    time.Millisecond * 200,
				MaxRetryDelay: time.Second * 5,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	q, err := azqueue.NewQueueClientFromConnectionString(cfg.ConnectionString, cfg.Queue, &opts)
	if err != nil {
		return nil, err
	}
	pq, err := azqueue.NewQueueClientFromConnectionString(cfg.ConnectionString, cfg.PoisonQueue, &opts)
	if err != nil {
		return nil, err
	}
	return newAzureQueue(q, pq, cfg, logger), nil
}

type queueCreator interface {
	Create(ctx context.Context, o *azqueue.CreateOptions) (azqueue.CreateResponse, error)
}

// EnsureAzureQueues creates the named queues. Existing queues are left as is.
func EnsureAzureQueues(ctx context.Context, connStr string, names ...string) error {
	for _, name := range names {
		if name == "" {
			continue
		}
		q, err := azqueue.NewQueueClientFromConnectionString(connStr, name, nil)
		if err != nil {
			return err
		}
		if err := createQueue(ctx, q); err != nil {
			return fmt.Errorf("create queue %s: %w", name, err)
		}
	}
	return nil
}

func createQueue(ctx context.Context, q queueCreator) error {
	_, err := q.Create(ctx, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if !(errors.As(err, &respErr) && respErr.ErrorCode == "QueueAlreadyExists") {
			return err
		}
	}
	return nil
}

func newAzureQueue(q, poison queueAPI, cfg AzureQueueConfig, logger log.FieldLogger) *AzureQueue {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &AzureQueue{queue: q, poison: poison, visibility: cfg.VisibilityTimeout, poll: cfg.PollInterval, logger: logger}
}

func (a *AzureQueue) Send(ctx context.Context, body []byte) error {
	_, err := a.queue.EnqueueMessage(ctx, string(body), nil)
	return err
}

func (a *AzureQueue) Receive(ctx context.Context, limit int) ([]Delivery, error) {
	// Azure caps a dequeue batch at 32 messages.
	n := int32(min(max(limit, 1), 32))
	resp, err := a.queue.DequeueMessages(ctx, &azqueue.DequeueMessagesOptions{
		NumberOfMessages:  &n,
		VisibilityTimeout: to.Ptr(seconds(a.visibility)),
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Messages) == 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(a.poll):
			return nil, nil
		}
	}
	out := make([]Delivery, 0, len(resp.Messages))
	for _, msg := range resp.Messages {
		if msg == nil || msg.MessageID == nil || msg.PopReceipt == nil {
			continue
		}
		d := &azureDelivery{t: a, id: *msg.MessageID, receipt: *msg.PopReceipt, attempt: 1}
		if msg.MessageText != nil {
			d.body = []byte(*msg.MessageText)
		}
		if msg.DequeueCount != nil {
			d.attempt = int(*msg.DequeueCount)
		}
		out = append(out, d)
	}
	return out, nil
}

func (a *AzureQueue) Close() error { return nil }

// seconds rounds up to whole seconds, the visibility timeout granularity.
func seconds(d time.Duration) int32 {
	s := math.Ceil(d.Seconds())
	if s < 0 {
		return 0
	}
	if s > 7*24*3600 {
		s = 7 * 24 * 3600
	}
	return int32(s)
}

type azureDelivery struct {
	t       *AzureQueue
	id      string
	receipt string
	body    []byte
	attempt int
}

func (d *azureDelivery) Body() []byte { return d.body }
func (d *azureDelivery) Attempt() int { return d.attempt }

func (d *azureDelivery) Ack(ctx context.Context) error {
	_, err := d.t.queue.DeleteMessage(ctx, d.id, d.receipt, nil)
	return err
}

// Retry keeps the message hidden for delay. The dequeue count grows on the
// next receive, which drives the consumer's attempt limit.
func (d *azureDelivery) Retry(ctx context.Context, delay time.Duration) error {
	_, err := d.t.queue.UpdateMessage(ctx, d.id, d.receipt, string(d.body), &azqueue.UpdateMessageOptions{
		VisibilityTimeout: to.Ptr(seconds(delay)),
	})
	return err
}

func (d *azureDelivery) DeadLetter(ctx context.Context, reason error) error {
	if _, err := d.t.poison.EnqueueMessage(ctx, string(d.body), nil); err != nil {
		return fmt.Errorf("move message %s to poison queue: %w", d.id, err)
	}
	d.t.logger.WithError(reason).WithFields(log.Fields{
		"message_id": d.id,
		"attempt":    d.attempt,
	}).Warn("message moved to poison queue")
	return d.Ack(ctx)
}
