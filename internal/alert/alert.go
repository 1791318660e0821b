// ABOUTME: Operational alert channel for critical security events
// ABOUTME: Posts to a Matrix room; a no-op notifier serves unconfigured deployments

package alert

import (
	"context"
	"fmt"
	"log/slog"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"
)

// Notifier delivers operational alerts. Losing a critical audit event
// silently is unacceptable, so the audit recorder pushes them here
// synchronously.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// Noop is a Notifier that discards alerts. Used when no channel is configured.
type Noop struct{}

// Notify discards the alert.
func (Noop) Notify(context.Context, string) error { return nil }

// MatrixNotifier posts alerts to a Matrix room.
type MatrixNotifier struct {
	client *mautrix.Client
	room   id.RoomID
	logger *slog.Logger
}

// NewMatrixNotifier creates a Matrix-backed alert notifier.
func NewMatrixNotifier(homeserver, userID, accessToken, room string, logger *slog.Logger) (*MatrixNotifier, error) {
	client, err := mautrix.NewClient(homeserver, id.UserID(userID), accessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}

	return &MatrixNotifier{
		client: client,
		room:   id.RoomID(room),
		logger: logger,
	}, nil
}

// Notify posts the alert message to the configured room.
func (n *MatrixNotifier) Notify(ctx context.Context, message string) error {
	if _, err := n.client.SendText(ctx, n.room, message); err != nil {
		return fmt.Errorf("sending matrix alert: %w", err)
	}
	n.logger.Debug("alert delivered", "room", n.room)
	return nil
}
