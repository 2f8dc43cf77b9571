package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	SubjectStatusChanged  = "verification.status_changed"
	SubjectProcessRequest = "verification.process"
	ProcessQueueGroup     = "verification-workers"
)

type NATSClient interface {
	PublishStatusChanged(ctx context.Context, msg StatusChangedMessage) error
	PublishProcessRequest(ctx context.Context, verificationID int64, requestedBy string) error
	SubscribeToProcessRequests(ctx context.Context, handler func(context.Context, ProcessRequestMessage)) error
	Close()
}

// natsConnection - используемая часть *nats.Conn
type natsConnection interface {
	Publish(subj string, data []byte) error
	QueueSubscribe(subj, queue string, cb nats.MsgHandler) (*nats.Subscription, error)
	Drain() error
	Close()
}

type natsClient struct {
	conn   natsConnection
	logger *zap.Logger
}

func NewNATSClient(url string, logger *zap.Logger) (NATSClient, error) {
	conn, err := nats.Connect(url,
		nats.Name("credential-verifier"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	logger.Info("connected to NATS", zap.String("url", url))
	return newNATSClient(conn, logger), nil
}

func newNATSClient(conn natsConnection, logger *zap.Logger) *natsClient {
	return &natsClient{
		conn:   conn,
		logger: logger,
	}
}

// StatusChangedMessage публикуется после каждого сохраненного перехода
type StatusChangedMessage struct {
	VerificationID   int64     `json:"verification_id"`
	ProfessionalUUID string    `json:"professional_uuid"`
	From             string    `json:"from"`
	To               string    `json:"to"`
	Decision         string    `json:"decision"`
	ConfidenceScore  *int      `json:"confidence_score,omitempty"`
	ReviewedBy       string    `json:"reviewed_by,omitempty"`
	ChangedAt        time.Time `json:"changed_at"`
}

type ProcessRequestMessage struct {
	VerificationID int64  `json:"verification_id"`
	RequestedBy    string `json:"requested_by"`
}

func (c *natsClient) PublishStatusChanged(ctx context.Context, msg StatusChangedMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("failed to marshal status change", zap.Error(err))
		return fmt.Errorf("failed to marshal status change: %w", err)
	}

	err = c.conn.Publish(SubjectStatusChanged, data)
	if err != nil {
		c.logger.Error("failed to publish status change", zap.Error(err), zap.Int64("verification_id", msg.VerificationID))
		return fmt.Errorf("failed to publish status change: %w", err)
	}

	c.logger.Info("status change published",
		zap.Int64("verification_id", msg.VerificationID),
		zap.String("from", msg.From),
		zap.String("to", msg.To))
	return nil
}

func (c *natsClient) PublishProcessRequest(ctx context.Context, verificationID int64, requestedBy string) error {
	data, err := json.Marshal(ProcessRequestMessage{
		VerificationID: verificationID,
		RequestedBy:    requestedBy,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal process request: %w", err)
	}

	err = c.conn.Publish(SubjectProcessRequest, data)
	if err != nil {
		c.logger.Error("failed to publish process request", zap.Error(err), zap.Int64("verification_id", verificationID))
		return fmt.Errorf("failed to publish process request: %w", err)
	}

	c.logger.Info("process request published", zap.Int64("verification_id", verificationID))
	return nil
}

// SubscribeToProcessRequests подписывает воркер на очередь обработки.
// Каждое сообщение получает ровно один участник группы verification-workers.
func (c *natsClient) SubscribeToProcessRequests(ctx context.Context, handler func(context.Context, ProcessRequestMessage)) error {
	_, err := c.conn.QueueSubscribe(SubjectProcessRequest, ProcessQueueGroup, func(msg *nats.Msg) {
		var request ProcessRequestMessage
		if err := json.Unmarshal(msg.Data, &request); err != nil {
			c.logger.Error("failed to unmarshal process request", zap.Error(err))
			return
		}
		if request.VerificationID <= 0 {
			c.logger.Warn("ignoring process request without verification id")
			return
		}

		handler(ctx, request)
		c.logger.Info("process request handled", zap.Int64("verification_id", request.VerificationID))
	})

	if err != nil {
		c.logger.Error("failed to subscribe to process requests", zap.Error(err))
		return fmt.Errorf("failed to subscribe to process requests: %w", err)
	}

	c.logger.Info("subscribed to process requests", zap.String("queue", ProcessQueueGroup))
	return nil
}

func (c *natsClient) Close() {
	if c.conn != nil {
		if err := c.conn.Drain(); err != nil {
			c.logger.Warn("failed to drain NATS connection", zap.Error(err))
			c.conn.Close()
		}
		c.logger.Info("NATS connection closed")
	}
}
