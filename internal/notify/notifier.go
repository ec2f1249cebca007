// internal/notify/notifier.go
package notify

import (
	"context"
	"fmt"
	"log"
	"sync"
)

// EmailSender delivers one HTML email and returns a message identifier.
type EmailSender interface {
	Send(ctx context.Context, to, subject, htmlBody string) (messageID string, err error)
}

// PushSender delivers a push notification to one token or many.
type PushSender interface {
	Send(ctx context.Context, token, title, body string, payload map[string]string) (messageID string, err error)
	SendMulticast(ctx context.Context, tokens []string, title, body string, payload map[string]string) (success, failure int, err error)
}

// Destination is the resolved contact set for a notification. Either
// field may be empty; an empty field means that channel is not attempted.
type Destination struct {
	Email      string
	PushTokens []string
}

// Message is the channel-independent notification payload. Type selects
// the email template (alert, warning, info).
type Message struct {
	Title string
	Body  string
	Type  string
	Data  map[string]string
}

// ChannelResult is one channel's delivery outcome.
type ChannelResult struct {
	Success bool   `json:"success"`
	Detail  string `json:"detail,omitempty"` // message id or delivery counts
	Error   string `json:"error,omitempty"`
}

// Result aggregates the per-channel outcomes of one dispatch. Success is
// true only if every attempted channel succeeded; a channel that was
// never attempted (no destination) is nil and does not count against it.
type Result struct {
	Email   *ChannelResult `json:"email,omitempty"`
	Push    *ChannelResult `json:"push,omitempty"`
	Success bool           `json:"success"`
	Errors  []string       `json:"errors,omitempty"`
}

// Dispatcher fans a notification out to the configured channels
// independently. One channel failing or stalling never blocks or undoes
// the other; failures are captured into the Result, never raised.
type Dispatcher struct {
	email  EmailSender
	push   PushSender
	logger *log.Logger
}

func NewDispatcher(email EmailSender, push PushSender, logger *log.Logger) *Dispatcher {
	return &Dispatcher{email: email, push: push, logger: logger}
}

// Dispatch attempts delivery on each channel that has both a configured
// transport and a destination. Channels run concurrently.
func (d *Dispatcher) Dispatch(ctx context.Context, dest Destination, msg Message) Result {
	var res Result
	var mu sync.Mutex
	var wg sync.WaitGroup

	if dest.Email != "" && d.email != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cr := d.sendEmail(ctx, dest.Email, msg)
			mu.Lock()
			res.Email = &cr
			if !cr.Success {
				res.Errors = append(res.Errors, "email failed: "+cr.Error)
			}
			mu.Unlock()
		}()
	}

	if len(dest.PushTokens) > 0 && d.push != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cr := d.sendPush(ctx, dest.PushTokens, msg)
			mu.Lock()
			res.Push = &cr
			if !cr.Success {
				res.Errors = append(res.Errors, "push failed: "+cr.Error)
			}
			mu.Unlock()
		}()
	}

	wg.Wait()

	emailOK := res.Email == nil || res.Email.Success
	pushOK := res.Push == nil || res.Push.Success
	res.Success = emailOK && pushOK
	return res
}

func (d *Dispatcher) sendEmail(ctx context.Context, to string, msg Message) ChannelResult {
	body, err := renderBody(msg)
	if err != nil {
		return ChannelResult{Error: fmt.Sprintf("template render: %v", err)}
	}
	id, err := d.email.Send(ctx, to, msg.Title, body)
	if err != nil {
		d.logger.Printf("email send to %s failed: %v", to, err)
		return ChannelResult{Error: err.Error()}
	}
	return ChannelResult{Success: true, Detail: id}
}

func (d *Dispatcher) sendPush(ctx context.Context, tokens []string, msg Message) ChannelResult {
	payload := map[string]string{"type": msg.Type}
	for k, v := range msg.Data {
		payload[k] = v
	}

	// Single token uses a direct send; multiple tokens use multicast with
	// per-recipient counts.
	if len(tokens) == 1 {
		id, err := d.push.Send(ctx, tokens[0], msg.Title, msg.Body, payload)
		if err != nil {
			d.logger.Printf("push send failed: %v", err)
			return ChannelResult{Error: err.Error()}
		}
		return ChannelResult{Success: true, Detail: id}
	}

	success, failure, err := d.push.SendMulticast(ctx, tokens, msg.Title, msg.Body, payload)
	if err != nil {
		d.logger.Printf("push multicast failed: %v", err)
		return ChannelResult{Error: err.Error()}
	}
	return ChannelResult{Success: true, Detail: fmt.Sprintf("delivered %d/%d", success, success+failure)}
}
