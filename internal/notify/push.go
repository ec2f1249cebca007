// internal/notify/push.go
package notify

import (
	"context"
	"fmt"
	"sync"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// The FCM client is a process-wide handle: initialized at most once,
// reused for the life of the process, no teardown. sync.Once latches
// the outcome of the first NewFCMPush call, success or failure, so
// later calls get that same result; the credentials file is therefore
// fixed at first use and cannot be switched within a process.
var (
	fcmOnce   sync.Once
	fcmClient *messaging.Client
	fcmErr    error
)

// FCMPush implements PushSender over Firebase Cloud Messaging.
type FCMPush struct {
	client *messaging.Client
}

// NewFCMPush returns the shared FCM-backed push sender, initializing the
// underlying client on first use.
func NewFCMPush(ctx context.Context, credentialsFile string) (*FCMPush, error) {
	fcmOnce.Do(func() {
		app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
		if err != nil {
			fcmErr = fmt.Errorf("firebase app init: %w", err)
			return
		}
		fcmClient, fcmErr = app.Messaging(ctx)
		if fcmErr != nil {
			fcmErr = fmt.Errorf("firebase messaging init: %w", fcmErr)
		}
	})
	if fcmErr != nil {
		return nil, fcmErr
	}
	return &FCMPush{client: fcmClient}, nil
}

func (p *FCMPush) Send(ctx context.Context, token, title, body string, payload map[string]string) (string, error) {
	id, err := p.client.Send(ctx, &messaging.Message{
		Token:        token,
		Notification: &messaging.Notification{Title: title, Body: body},
		Data:         payload,
	})
	if err != nil {
		return "", fmt.Errorf("fcm send: %w", err)
	}
	return id, nil
}

func (p *FCMPush) SendMulticast(ctx context.Context, tokens []string, title, body string, payload map[string]string) (int, int, error) {
	resp, err := p.client.SendEachForMulticast(ctx, &messaging.MulticastMessage{
		Tokens:       tokens,
		Notification: &messaging.Notification{Title: title, Body: body},
		Data:         payload,
	})
	if err != nil {
		return 0, 0, fmt.Errorf("fcm multicast: %w", err)
	}
	return resp.SuccessCount, resp.FailureCount, nil
}
