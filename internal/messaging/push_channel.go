package messaging

import (
	"context"
)

// PushChannel adapts the Service Bus sender to the notifier's
// session-addressed push contract. The UI gateway consumes the alerts
// queue and routes each message by its session id.
type PushChannel struct {
	client ServiceBusClient
}

// NewPushChannel creates a push channel over a Service Bus client
func NewPushChannel(client ServiceBusClient) *PushChannel {
	return &PushChannel{client: client}
}

// Send delivers a payload addressed to one session
func (p *PushChannel) Send(ctx context.Context, sessionHandle string, payload interface{}) error {
	return p.client.SendMessage(ctx, payload, sessionHandle)
}
