// internal/alerting/alerter.go
package alerting

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/pulkita2007/meter-system/internal/data"
	"github.com/pulkita2007/meter-system/internal/notify"
	"github.com/pulkita2007/meter-system/internal/storage"
)

// ErrNotAuthorized is returned when a user acts on an alert they do
// not own.
var ErrNotAuthorized = errors.New("not authorized for this alert")

// Notifier is the dispatcher contract the alerter fans out through.
type Notifier interface {
	Dispatch(ctx context.Context, dest notify.Destination, msg notify.Message) notify.Result
}

// Broadcaster pushes raised alerts to connected dashboard clients.
type Broadcaster interface {
	BroadcastAlert(alert any)
}

// Alerter persists alerts and drives the notification fan-out for
// high-priority ones.
type Alerter struct {
	store    storage.Store
	notifier Notifier
	hub      Broadcaster
	logger   *log.Logger
}

func NewAlerter(store storage.Store, notifier Notifier, hub Broadcaster, logger *log.Logger) *Alerter {
	return &Alerter{store: store, notifier: notifier, hub: hub, logger: logger}
}

// Raise persists an alert and, for high or critical severity, notifies
// the owning user over every channel they have a destination for. A
// missing or overlong message, or a category or severity outside the
// defined enums, is rejected with a *data.ValidationError before
// anything is persisted.
// Notification failure never fails the raise: the alert is already
// persisted, and delivery problems are logged and captured in the
// dispatch result only.
func (a *Alerter) Raise(ctx context.Context, alert *data.Alert) (*data.Alert, error) {
	if alert.Category == "" {
		alert.Category = data.AlertCustom
	}
	if alert.Severity == "" {
		alert.Severity = data.SeverityMedium
	}

	var ve data.ValidationError
	if alert.Message == "" {
		ve.Fields = append(ve.Fields, data.FieldError{Field: "message", Message: "alert message is required"})
	} else if len(alert.Message) > data.MaxAlertMessageLen {
		ve.Fields = append(ve.Fields, data.FieldError{Field: "message",
			Message: fmt.Sprintf("alert message exceeds %d characters", data.MaxAlertMessageLen)})
	}
	if !alert.Category.Valid() {
		ve.Fields = append(ve.Fields, data.FieldError{Field: "alertType",
			Message: fmt.Sprintf("unknown alert type %q", alert.Category)})
	}
	if !alert.Severity.Valid() {
		ve.Fields = append(ve.Fields, data.FieldError{Field: "severity",
			Message: fmt.Sprintf("unknown severity %q", alert.Severity)})
	}
	if len(ve.Fields) > 0 {
		return nil, &ve
	}

	if err := a.store.InsertAlert(ctx, alert); err != nil {
		return nil, fmt.Errorf("persist alert: %w", err)
	}

	if a.hub != nil {
		a.hub.BroadcastAlert(alert)
	}

	if alert.Severity == data.SeverityHigh || alert.Severity == data.SeverityCritical {
		a.notifyOwner(ctx, alert)
	}

	return alert, nil
}

func (a *Alerter) notifyOwner(ctx context.Context, alert *data.Alert) {
	if a.notifier == nil {
		return
	}
	user, err := a.store.GetUser(ctx, alert.UserID)
	if err != nil {
		a.logger.Printf("alert %s: owner lookup failed: %v", alert.ID, err)
		return
	}

	dest := notify.Destination{Email: user.Email, PushTokens: user.FCMTokens}
	if dest.Email == "" && len(dest.PushTokens) == 0 {
		// No resolved destination, nothing to dispatch.
		return
	}

	result := a.notifier.Dispatch(ctx, dest, notify.Message{
		Title: fmt.Sprintf("Energy Alert - %s", alert.DeviceID),
		Body:  fmt.Sprintf("%s: %s", alert.Category, alert.Message),
		Type:  "alert",
		Data: map[string]string{
			"deviceName": alert.DeviceID,
			"alertType":  string(alert.Category),
			"severity":   string(alert.Severity),
			"timestamp":  time.Now().UTC().Format(time.RFC3339),
		},
	})
	if !result.Success {
		a.logger.Printf("alert %s: notification partially failed: %v", alert.ID, result.Errors)
	}
}

// MarkRead marks an alert as read on behalf of a user. Marking an
// already-read alert again succeeds and changes nothing.
func (a *Alerter) MarkRead(ctx context.Context, alertID, userID string) (*data.Alert, error) {
	alert, err := a.store.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if alert.UserID != userID {
		return nil, ErrNotAuthorized
	}
	if alert.IsRead {
		return alert, nil
	}
	alert.IsRead = true
	if err := a.store.UpdateAlert(ctx, alert); err != nil {
		return nil, fmt.Errorf("update alert: %w", err)
	}
	return alert, nil
}

// Resolve marks an alert resolved. ResolvedAt is set only on the first
// resolution; repeated resolve calls succeed without advancing it.
func (a *Alerter) Resolve(ctx context.Context, alertID, userID string) (*data.Alert, error) {
	alert, err := a.store.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if alert.UserID != userID {
		return nil, ErrNotAuthorized
	}
	if alert.IsResolved {
		return alert, nil
	}
	now := time.Now().UTC()
	alert.IsResolved = true
	alert.ResolvedAt = &now
	if err := a.store.UpdateAlert(ctx, alert); err != nil {
		return nil, fmt.Errorf("update alert: %w", err)
	}
	return alert, nil
}

// List pages through a user's alerts with optional read/severity filters.
func (a *Alerter) List(ctx context.Context, userID string, f storage.AlertFilter) ([]data.Alert, int, error) {
	return a.store.AlertsByUser(ctx, userID, f)
}
