// Package sns delivers customer notifications through AWS SNS.
//
// Notifier implements orderstream.NotificationPort. Wrap it with
// orderstream.NewNotificationListener to notify customers after every
// committed order event:
//
//	notifier := sns.New(sns.WithSNSClient(client), sns.WithTopicARN(arn))
//	service := orderstream.NewOrderService(store, projection,
//	    orderstream.WithListeners(orderstream.NewNotificationListener(notifier)))
package sns

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/AshkanYarmoradi/orderstream"
	"github.com/AshkanYarmoradi/orderstream/order"
)

// Message attribute names set on every notification.
const (
	AttributeCustomerID = "customer_id"
	AttributeEventType  = "event_type"
	AttributeOrderID    = "order_id"
)

var (
	// ErrNoClient is returned when no SNS client is configured.
	ErrNoClient = errors.New("sns: client not configured")

	// ErrNoTopic is returned when no topic ARN is configured.
	ErrNoTopic = errors.New("sns: topic ARN not configured")
)

// SNSClient defines the subset of the SNS API used by the notifier.
type SNSClient interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Notification is the JSON body of a published message.
type Notification struct {
	CustomerID string            `json:"customer_id"`
	EventType  string            `json:"event_type"`
	Subject    string            `json:"subject"`
	Details    map[string]string `json:"details"`
}

// Notifier publishes customer notifications to an SNS topic.
type Notifier struct {
	client   SNSClient
	topicARN string
	fifo     bool
}

var _ orderstream.NotificationPort = (*Notifier)(nil)

// Option configures an SNS Notifier.
type Option func(*Notifier)

// WithSNSClient sets the SNS client.
func WithSNSClient(client SNSClient) Option {
	return func(n *Notifier) {
		n.client = client
	}
}

// WithTopicARN sets the destination topic.
func WithTopicARN(arn string) Option {
	return func(n *Notifier) {
		n.topicARN = arn
	}
}

// WithFIFO marks the topic as FIFO. Messages are grouped by order ID and
// deduplicated by order ID and version.
func WithFIFO() Option {
	return func(n *Notifier) {
		n.fifo = true
	}
}

// New creates a new SNS Notifier.
func New(opts ...Option) *Notifier {
	n := &Notifier{}

	for _, opt := range opts {
		opt(n)
	}

	return n
}

// NewClient creates an SNS client for region. A non-empty endpoint overrides
// the AWS endpoint, e.g. for LocalStack.
func NewClient(region, endpoint string, credentials aws.CredentialsProvider) *sns.Client {
	cfg := aws.Config{
		Region:      region,
		Credentials: credentials,
	}
	return sns.NewFromConfig(cfg, func(o *sns.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
}

// StaticCredentials returns a provider for a fixed key pair.
func StaticCredentials(accessKeyID, secretAccessKey string) aws.CredentialsProvider {
	return aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
		return aws.Credentials{
			AccessKeyID:     accessKeyID,
			SecretAccessKey: secretAccessKey,
			Source:          "orderstream",
		}, nil
	})
}

// Send publishes one notification for the customer.
func (n *Notifier) Send(ctx context.Context, customerID string, eventType order.EventType, details map[string]string) error {
	if n.client == nil {
		return ErrNoClient
	}
	if n.topicARN == "" {
		return ErrNoTopic
	}

	body, err := json.Marshal(Notification{
		CustomerID: customerID,
		EventType:  eventType.String(),
		Subject:    Subject(eventType),
		Details:    details,
	})
	if err != nil {
		return fmt.Errorf("sns: encode notification: %w", err)
	}

	input := &sns.PublishInput{
		TopicArn: aws.String(n.topicARN),
		Message:  aws.String(string(body)),
		Subject:  aws.String(Subject(eventType)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			AttributeCustomerID: stringAttribute(customerID),
			AttributeEventType:  stringAttribute(eventType.String()),
		},
	}

	orderID := details["order_id"]
	if orderID != "" {
		input.MessageAttributes[AttributeOrderID] = stringAttribute(orderID)
	}
	if n.fifo {
		input.MessageGroupId = aws.String(orderID)
		input.MessageDeduplicationId = aws.String(orderID + "-" + details["version"])
	}

	if _, err := n.client.Publish(ctx, input); err != nil {
		return fmt.Errorf("sns: failed to publish to %s: %w", n.topicARN, err)
	}
	return nil
}

// Subject returns the notification subject line for an event type.
func Subject(eventType order.EventType) string {
	switch eventType {
	case order.TypeOrderCreated:
		return "Your order has been placed"
	case order.TypeOrderPaid:
		return "Payment received"
	case order.TypeOrderShipped:
		return "Your order is on its way"
	case order.TypeOrderDelivered:
		return "Your order has been delivered"
	case order.TypeOrderCancelled:
		return "Your order has been cancelled"
	case order.TypeOrderRefunded:
		return "Your refund has been issued"
	default:
		return "Order update"
	}
}

func stringAttribute(v string) types.MessageAttributeValue {
	return types.MessageAttributeValue{
		DataType:    aws.String("String"),
		StringValue: aws.String(v),
	}
}
