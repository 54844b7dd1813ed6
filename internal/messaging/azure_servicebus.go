package messaging

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"example.com/sitewatch/services/monitoring/config"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
)

// MessageHandler processes one raw message body. A non-nil error
// abandons the message for redelivery.
type MessageHandler func(ctx context.Context, body []byte) error

// ServiceBusClient is an interface for Azure Service Bus operations.
// Readings arrive on one queue; alert pushes leave on another, keyed
// by session so the UI gateway can route them.
type ServiceBusClient interface {
	SendMessage(ctx context.Context, body interface{}, sessionID string) error
	ProcessMessages(ctx context.Context, handler MessageHandler) error
	Close() error
}

// serviceBusClient implements the ServiceBusClient interface
type serviceBusClient struct {
	client     *azservicebus.Client
	sender     *azservicebus.Sender
	receiver   *azservicebus.Receiver
	clientType string
}

// mockServiceBusClient is a mock implementation for local development
type mockServiceBusClient struct {
	clientType string
}

// NewServiceBusClient creates a new Azure Service Bus client
func NewServiceBusClient(cfg config.ServiceBusConfig, clientType string) (ServiceBusClient, error) {
	if cfg.ConnectionString == "" {
		return &mockServiceBusClient{clientType: clientType}, nil
	}

	// Create the Service Bus client
	client, err := azservicebus.NewClientFromConnectionString(cfg.ConnectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Service Bus client: %w", err)
	}

	// Create a sender for the alerts queue
	sender, err := client.NewSender(cfg.AlertsQueue, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Service Bus sender: %w", err)
	}

	// Create a receiver for the readings queue
	receiver, err := client.NewReceiverForQueue(cfg.ReadingsQueue, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Service Bus receiver: %w", err)
	}

	return &serviceBusClient{
		client:     client,
		sender:     sender,
		receiver:   receiver,
		clientType: clientType,
	}, nil
}

// generateSessionID generates a random session ID if none is provided
func generateSessionID() string {
	bytes := make([]byte, 8)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

// SendMessage sends a message to the alerts queue
func (s *serviceBusClient) SendMessage(ctx context.Context, body interface{}, sessionID string) error {
	// Convert the body to JSON
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal message body: %w", err)
	}

	// Make sure we have a session ID
	if sessionID == "" {
		sessionID = generateSessionID()
	}

	// Create the message with a SessionId
	msg := &azservicebus.Message{
		Body: data,
		ApplicationProperties: map[string]interface{}{
			"source": s.clientType,
			"time":   time.Now().UTC().Format(time.RFC3339),
		},
		SessionID: &sessionID,
	}

	// Send the message
	return s.sender.SendMessage(ctx, msg, nil)
}

// ProcessMessages pulls readings from the queue until the context is
// cancelled, completing handled messages and abandoning failed ones
func (s *serviceBusClient) ProcessMessages(ctx context.Context, handler MessageHandler) error {
	for {
		messages, err := s.receiver.ReceiveMessages(ctx, 10, nil)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("failed to receive messages: %w", err)
		}

		for _, message := range messages {
			if err := handler(ctx, message.Body); err != nil {
				// Redeliver; poison handling is left to the queue's
				// max delivery count
				_ = s.receiver.AbandonMessage(ctx, message, nil)
				continue
			}
			if err := s.receiver.CompleteMessage(ctx, message, nil); err != nil {
				return fmt.Errorf("failed to complete message: %w", err)
			}
		}
	}
}

// Close closes the Service Bus client
func (s *serviceBusClient) Close() error {
	// Close the receiver
	if s.receiver != nil {
		if err := s.receiver.Close(context.Background()); err != nil {
			return err
		}
	}

	// Close the sender
	if s.sender != nil {
		if err := s.sender.Close(context.Background()); err != nil {
			return err
		}
	}

	// Close the client
	if s.client != nil {
		return s.client.Close(context.Background())
	}

	return nil
}

// SendMessage implementation for mock client
func (m *mockServiceBusClient) SendMessage(ctx context.Context, body interface{}, sessionID string) error {
	// Just log the message for local development
	fmt.Printf("[MOCK ServiceBus] Message sent from %s with sessionID %s: %+v\n",
		m.clientType, sessionID, body)
	return nil
}

// ProcessMessages implementation for mock client
func (m *mockServiceBusClient) ProcessMessages(ctx context.Context, handler MessageHandler) error {
	// No queue to read from locally; block until shutdown
	<-ctx.Done()
	return ctx.Err()
}

// Close implementation for mock client
func (m *mockServiceBusClient) Close() error {
	return nil
}
