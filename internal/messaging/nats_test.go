package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap/zaptest"
)

// Mock для nats.Conn
type mockNATSConn struct {
	publishFunc        func(subj string, data []byte) error
	queueSubscribeFunc func(subj, queue string, cb nats.MsgHandler) (*nats.Subscription, error)
	drainFunc          func() error
	closeFunc          func()
}

func (m *mockNATSConn) Publish(subj string, data []byte) error {
	if m.publishFunc != nil {
		return m.publishFunc(subj, data)
	}
	return nil
}

func (m *mockNATSConn) QueueSubscribe(subj, queue string, cb nats.MsgHandler) (*nats.Subscription, error) {
	if m.queueSubscribeFunc != nil {
		return m.queueSubscribeFunc(subj, queue, cb)
	}
	return &nats.Subscription{}, nil
}

func (m *mockNATSConn) Drain() error {
	if m.drainFunc != nil {
		return m.drainFunc()
	}
	return nil
}

func (m *mockNATSConn) Close() {
	if m.closeFunc != nil {
		m.closeFunc()
	}
}

func TestPublishStatusChanged(t *testing.T) {
	score := 92
	tests := []struct {
		name          string
		message       StatusChangedMessage
		publishError  error
		expectedError string
	}{
		{
			name: "successful_publish",
			message: StatusChangedMessage{
				VerificationID:   10,
				ProfessionalUUID: "uuid-1",
				From:             "processing",
				To:               "verified",
				Decision:         "automatic",
				ConfidenceScore:  &score,
				ChangedAt:        time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
			},
		},
		{
			name:          "publish_error",
			message:       StatusChangedMessage{VerificationID: 10, From: "pending", To: "processing"},
			publishError:  errors.New("nats connection failed"),
			expectedError: "failed to publish status change",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var publishedData []byte
			var publishedSubject string

			mockConn := &mockNATSConn{
				publishFunc: func(subj string, data []byte) error {
					publishedSubject = subj
					publishedData = data
					return tt.publishError
				},
			}

			client := newNATSClient(mockConn, zaptest.NewLogger(t))

			err := client.PublishStatusChanged(context.Background(), tt.message)

			if tt.expectedError != "" {
				if err == nil {
					t.Errorf("expected error containing '%s', but got nil", tt.expectedError)
					return
				}
				if !containsError(err.Error(), tt.expectedError) {
					t.Errorf("expected error containing '%s', but got '%s'", tt.expectedError, err.Error())
				}
				return
			}

			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}

			// Проверяем, что сообщение опубликовано в правильный subject
			if publishedSubject != SubjectStatusChanged {
				t.Errorf("expected subject '%s', but got '%s'", SubjectStatusChanged, publishedSubject)
			}

			var msg StatusChangedMessage
			if err := json.Unmarshal(publishedData, &msg); err != nil {
				t.Fatalf("failed to unmarshal published message: %v", err)
			}
			if msg.VerificationID != tt.message.VerificationID || msg.To != tt.message.To {
				t.Errorf("expected %+v, but got %+v", tt.message, msg)
			}
			if msg.ConfidenceScore == nil || *msg.ConfidenceScore != score {
				t.Errorf("expected confidence score %d, but got %v", score, msg.ConfidenceScore)
			}
		})
	}
}

func TestPublishProcessRequest(t *testing.T) {
	var publishedSubject string
	var published ProcessRequestMessage

	mockConn := &mockNATSConn{
		publishFunc: func(subj string, data []byte) error {
			publishedSubject = subj
			return json.Unmarshal(data, &published)
		},
	}

	client := newNATSClient(mockConn, zaptest.NewLogger(t))
	if err := client.PublishProcessRequest(context.Background(), 5, "admin@example.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if publishedSubject != SubjectProcessRequest {
		t.Errorf("expected subject '%s', but got '%s'", SubjectProcessRequest, publishedSubject)
	}
	if published.VerificationID != 5 || published.RequestedBy != "admin@example.com" {
		t.Errorf("unexpected message: %+v", published)
	}
}

func TestSubscribeToProcessRequests(t *testing.T) {
	tests := []struct {
		name           string
		subscribeError error
		expectedError  string
		payload        []byte
		expectHandled  bool
	}{
		{
			name:          "valid_request",
			payload:       []byte(`{"verification_id": 17, "requested_by": "upload"}`),
			expectHandled: true,
		},
		{
			name:    "invalid_json",
			payload: []byte("invalid json"),
		},
		{
			name:    "missing_id",
			payload: []byte(`{"requested_by": "upload"}`),
		},
		{
			name:           "subscribe_error",
			subscribeError: errors.New("failed to subscribe"),
			expectedError:  "failed to subscribe to process requests",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var subscribedSubject, subscribedQueue string
			var messageHandler nats.MsgHandler

			mockConn := &mockNATSConn{
				queueSubscribeFunc: func(subj, queue string, cb nats.MsgHandler) (*nats.Subscription, error) {
					subscribedSubject = subj
					subscribedQueue = queue
					messageHandler = cb
					return &nats.Subscription{}, tt.subscribeError
				},
			}

			client := newNATSClient(mockConn, zaptest.NewLogger(t))

			var received *ProcessRequestMessage
			err := client.SubscribeToProcessRequests(context.Background(), func(ctx context.Context, msg ProcessRequestMessage) {
				received = &msg
			})

			if tt.expectedError != "" {
				if err == nil || !containsError(err.Error(), tt.expectedError) {
					t.Errorf("expected error containing '%s', but got %v", tt.expectedError, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if subscribedSubject != SubjectProcessRequest || subscribedQueue != ProcessQueueGroup {
				t.Errorf("expected %s/%s, but got %s/%s", SubjectProcessRequest, ProcessQueueGroup, subscribedSubject, subscribedQueue)
			}

			messageHandler(&nats.Msg{Data: tt.payload})

			if tt.expectHandled {
				if received == nil {
					t.Fatal("expected handler to be called, but it wasn't")
				}
				if received.VerificationID != 17 {
					t.Errorf("expected verification id 17, but got %d", received.VerificationID)
				}
				return
			}
			if received != nil {
				t.Errorf("handler should not be called, but got %+v", received)
			}
		})
	}
}

func TestClose(t *testing.T) {
	var drainCalled, closeCalled bool

	mockConn := &mockNATSConn{
		drainFunc: func() error {
			drainCalled = true
			return nil
		},
		closeFunc: func() {
			closeCalled = true
		},
	}

	client := newNATSClient(mockConn, zaptest.NewLogger(t))
	client.Close()

	if !drainCalled {
		t.Error("expected Drain to be called on connection, but it wasn't")
	}
	if closeCalled {
		t.Error("expected Close to be skipped after successful drain")
	}
}

func TestCloseFallsBackWhenDrainFails(t *testing.T) {
	var closeCalled bool

	mockConn := &mockNATSConn{
		drainFunc: func() error { return nats.ErrConnectionClosed },
		closeFunc: func() { closeCalled = true },
	}

	client := newNATSClient(mockConn, zaptest.NewLogger(t))
	client.Close()

	if !closeCalled {
		t.Error("expected Close to be called after failed drain, but it wasn't")
	}
}

func TestCloseWithNilConnection(t *testing.T) {
	client := &natsClient{
		conn:   nil,
		logger: zaptest.NewLogger(t),
	}

	// Не должно паниковать при nil connection
	client.Close()
}

// Вспомогательная функция для проверки содержания ошибки
func containsError(got, want string) bool {
	return len(got) > 0 && len(want) > 0 && (got == want ||
		(len(got) >= len(want) && got[:len(want)] == want))
}
