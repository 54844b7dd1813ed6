package notifier

import (
	"context"
	"fmt"
	"time"

	"example.com/sitewatch/services/monitoring/internal/models"
	"example.com/sitewatch/services/monitoring/internal/sessions"

	"github.com/sirupsen/logrus"
)

// EventStore persists alert events
type EventStore interface {
	AppendAlertEvent(ctx context.Context, event *models.AlertEvent) error
}

// AccessDirectory resolves which operators may receive alerts for a
// site
type AccessDirectory interface {
	ListOperatorIDsWithSiteAccess(ctx context.Context, siteID uint) ([]uint, error)
}

// PushChannel delivers a payload to one session. Fire-and-forget: the
// only contract is "attempted".
type PushChannel interface {
	Send(ctx context.Context, sessionHandle string, payload interface{}) error
}

// Alert payload types
const (
	AlertTypeCondition  = "condition"
	AlertTypeDisconnect = "disconnect"
)

// AlertPayload is the structured alert pushed to operator sessions
type AlertPayload struct {
	Type        string             `json:"type"`
	EventID     string             `json:"event_id,omitempty"`
	DeviceID    string             `json:"device_id"`
	SiteID      uint               `json:"site_id"`
	SensorClass models.SensorClass `json:"sensor_class"`
	FieldKey    string             `json:"field_key,omitempty"`
	Value       float64            `json:"value,omitempty"`
	Severity    models.Severity    `json:"severity"`
	OccurredAt  time.Time          `json:"occurred_at"`
	Message     string             `json:"message"`
}

// Notifier records alert events and pushes them to every active
// session of each operator with access to the affected site
type Notifier struct {
	events   EventStore
	access   AccessDirectory
	sessions sessions.Directory
	push     PushChannel
	log      *logrus.Logger
}

// NewNotifier creates a notifier
func NewNotifier(
	events EventStore,
	access AccessDirectory,
	sessionDir sessions.Directory,
	push PushChannel,
	log *logrus.Logger,
) *Notifier {
	return &Notifier{
		events:   events,
		access:   access,
		sessions: sessionDir,
		push:     push,
		log:      log,
	}
}

// RecordAndNotify persists the event and, when notify is set, fans the
// alert out to authorized operators. Persistence failure is returned;
// delivery failures are logged only and never roll back the event.
func (n *Notifier) RecordAndNotify(ctx context.Context, event *models.AlertEvent, notify bool) error {
	if err := n.events.AppendAlertEvent(ctx, event); err != nil {
		return fmt.Errorf("failed to record alert event: %w", err)
	}

	n.log.WithFields(logrus.Fields{
		"event_id":  event.UUID,
		"device_id": event.DeviceID,
		"severity":  event.Severity,
		"field_key": event.FieldKey,
	}).Info("Alert event recorded")

	if !notify {
		return nil
	}

	payload := AlertPayload{
		Type:        AlertTypeCondition,
		EventID:     event.UUID,
		DeviceID:    event.DeviceID,
		SiteID:      event.SiteID,
		SensorClass: event.SensorClass,
		FieldKey:    event.FieldKey,
		Value:       event.Value,
		Severity:    event.Severity,
		OccurredAt:  event.OccurredAt,
		Message: fmt.Sprintf("%s alert: %s %s=%v", event.Severity,
			event.DeviceID, event.FieldKey, event.Value),
	}
	n.fanOut(ctx, event.SiteID, payload)

	return nil
}

// NotifyDisconnected pushes a connectivity escalation alert. It
// bypasses the event pipeline: this is a liveness alert, not a
// sensor-threshold one.
func (n *Notifier) NotifyDisconnected(ctx context.Context, state *models.DeviceState, failures int) {
	payload := AlertPayload{
		Type:        AlertTypeDisconnect,
		DeviceID:    state.DeviceID,
		SiteID:      state.SiteID,
		SensorClass: state.SensorClass,
		Severity:    models.SeverityDisconnected,
		OccurredAt:  time.Now().UTC(),
		Message: fmt.Sprintf("device %s has not responded %d times in a row",
			state.DeviceID, failures),
	}
	n.fanOut(ctx, state.SiteID, payload)
}

// fanOut attempts delivery to every active session of every operator
// with access to the site. One failed session never blocks the rest.
func (n *Notifier) fanOut(ctx context.Context, siteID uint, payload AlertPayload) {
	operatorIDs, err := n.access.ListOperatorIDsWithSiteAccess(ctx, siteID)
	if err != nil {
		n.log.WithFields(logrus.Fields{
			"site_id": siteID,
			"error":   err.Error(),
		}).Error("Failed to resolve operators for site")
		return
	}

	delivered := 0
	for _, operatorID := range operatorIDs {
		handles, err := n.sessions.ActiveSessions(ctx, operatorID)
		if err != nil {
			n.log.WithFields(logrus.Fields{
				"operator_id": operatorID,
				"error":       err.Error(),
			}).Warn("Failed to list operator sessions")
			continue
		}

		for _, handle := range handles {
			if err := n.push.Send(ctx, handle, payload); err != nil {
				// No retry; the operator's next poll is the fallback
				n.log.WithFields(logrus.Fields{
					"operator_id": operatorID,
					"session":     handle,
					"error":       err.Error(),
				}).Warn("Failed to push alert to session")
				continue
			}
			delivered++
		}
	}

	n.log.WithFields(logrus.Fields{
		"site_id":   siteID,
		"type":      payload.Type,
		"device_id": payload.DeviceID,
		"delivered": delivered,
	}).Info("Alert fan-out complete")
}
