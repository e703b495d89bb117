package events

import (
	"context"
	"log/slog"

	"github.com/Veraticus/under-the-hammer/internal/model"
	"github.com/Veraticus/under-the-hammer/internal/service"
)

// LogNotifier delivers notifications by logging them and broadcasting a
// notification.created event on the bus. It is the delivery transport the
// daemon runs with until a push channel exists.
type LogNotifier struct {
	bus    *Bus
	logger *slog.Logger
}

// NewLogNotifier creates a notifier backed by the given bus. A nil logger
// uses the default.
func NewLogNotifier(bus *Bus, logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{
		bus:    bus,
		logger: logger.With("component", "notifier"),
	}
}

// SendNotification logs the notification and publishes it to subscribers.
func (n *LogNotifier) SendNotification(_ context.Context, userID string, notification model.Notification) error {
	n.logger.Info("Notification sent",
		"user_id", userID,
		"tag", notification.Tag,
		"title", notification.Title,
	)

	if n.bus != nil {
		n.bus.Publish(userID, service.Event{
			Name: service.EventNotificationCreated,
			Payload: map[string]any{
				"title":               notification.Title,
				"body":                notification.Body,
				"tag":                 notification.Tag,
				"require_interaction": notification.RequireInteraction,
			},
		})
	}
	return nil
}
