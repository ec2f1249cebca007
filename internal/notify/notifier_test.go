package notify

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"sync/atomic"
	"testing"
)

type fakeEmail struct {
	err   error
	calls int32
	last  string
}

func (f *fakeEmail) Send(_ context.Context, to, subject, htmlBody string) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	f.last = to
	if f.err != nil {
		return "", f.err
	}
	return "email-msg-1", nil
}

type fakePush struct {
	err            error
	sendCalls      int32
	multicastCalls int32
}

func (f *fakePush) Send(_ context.Context, token, title, body string, payload map[string]string) (string, error) {
	atomic.AddInt32(&f.sendCalls, 1)
	if f.err != nil {
		return "", f.err
	}
	return "push-msg-1", nil
}

func (f *fakePush) SendMulticast(_ context.Context, tokens []string, title, body string, payload map[string]string) (int, int, error) {
	atomic.AddInt32(&f.multicastCalls, 1)
	if f.err != nil {
		return 0, len(tokens), f.err
	}
	return len(tokens), 0, nil
}

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestDispatchEmailOnly(t *testing.T) {
	email := &fakeEmail{}
	push := &fakePush{}
	d := NewDispatcher(email, push, testLogger())

	res := d.Dispatch(context.Background(), Destination{Email: "owner@example.com"}, Message{Title: "t", Body: "b", Type: "alert"})

	if !res.Success {
		t.Fatalf("expected aggregate success, got %+v", res)
	}
	if res.Email == nil || !res.Email.Success {
		t.Errorf("email channel should have succeeded: %+v", res.Email)
	}
	if res.Push != nil {
		t.Errorf("push was never attempted and must be absent from the result, got %+v", res.Push)
	}
	if push.sendCalls != 0 || push.multicastCalls != 0 {
		t.Error("push transport must not be called without a token")
	}
}

func TestDispatchPartialFailure(t *testing.T) {
	email := &fakeEmail{}
	push := &fakePush{err: errors.New("fcm unreachable")}
	d := NewDispatcher(email, push, testLogger())

	res := d.Dispatch(context.Background(),
		Destination{Email: "owner@example.com", PushTokens: []string{"tok-1"}},
		Message{Title: "t", Body: "b", Type: "alert"})

	if res.Success {
		t.Fatal("aggregate success must be false when one attempted channel fails")
	}
	if res.Email == nil || !res.Email.Success {
		t.Errorf("email delivery must stand despite push failure: %+v", res.Email)
	}
	if res.Push == nil || res.Push.Success {
		t.Errorf("push channel should be recorded as failed: %+v", res.Push)
	}
	if len(res.Errors) != 1 || !strings.Contains(res.Errors[0], "fcm unreachable") {
		t.Errorf("failure reason missing from error list: %v", res.Errors)
	}
	if email.calls != 1 {
		t.Errorf("email sent %d times, want exactly 1 (no retry, no undo)", email.calls)
	}
}

func TestDispatchEmailFailurePushSucceeds(t *testing.T) {
	email := &fakeEmail{err: errors.New("smtp timeout")}
	push := &fakePush{}
	d := NewDispatcher(email, push, testLogger())

	res := d.Dispatch(context.Background(),
		Destination{Email: "owner@example.com", PushTokens: []string{"tok-1"}},
		Message{Title: "t", Body: "b", Type: "alert"})

	if res.Success {
		t.Fatal("aggregate success must be false")
	}
	if res.Push == nil || !res.Push.Success {
		t.Errorf("push delivery must stand despite email failure: %+v", res.Push)
	}
	if len(res.Errors) != 1 || !strings.Contains(res.Errors[0], "smtp timeout") {
		t.Errorf("failure reason missing from error list: %v", res.Errors)
	}
}

func TestDispatchSingleVersusMulticast(t *testing.T) {
	push := &fakePush{}
	d := NewDispatcher(nil, push, testLogger())

	d.Dispatch(context.Background(), Destination{PushTokens: []string{"only"}}, Message{Title: "t", Body: "b"})
	if push.sendCalls != 1 || push.multicastCalls != 0 {
		t.Errorf("one token should use single send, got send=%d multicast=%d", push.sendCalls, push.multicastCalls)
	}

	d.Dispatch(context.Background(), Destination{PushTokens: []string{"a", "b", "c"}}, Message{Title: "t", Body: "b"})
	if push.multicastCalls != 1 {
		t.Errorf("multiple tokens should use multicast, got %d", push.multicastCalls)
	}
}

func TestDispatchNoTransportConfigured(t *testing.T) {
	d := NewDispatcher(nil, nil, testLogger())
	res := d.Dispatch(context.Background(), Destination{Email: "owner@example.com"}, Message{Title: "t", Body: "b"})
	// Nothing attempted: nothing failed.
	if !res.Success {
		t.Errorf("vacuous dispatch should aggregate to success, got %+v", res)
	}
	if res.Email != nil || res.Push != nil {
		t.Errorf("no channel should appear in the result: %+v", res)
	}
}

func TestRenderBodyKnownAndUnknownTypes(t *testing.T) {
	body, err := renderBody(Message{Title: "T", Body: "spike", Type: "alert", Data: map[string]string{"deviceName": "meter-1"}})
	if err != nil {
		t.Fatalf("renderBody(alert): %v", err)
	}
	if !strings.Contains(body, "meter-1") || !strings.Contains(body, "spike") {
		t.Errorf("alert body missing device or message: %q", body)
	}

	body, err = renderBody(Message{Title: "T", Body: "hello", Type: "bogus"})
	if err != nil {
		t.Fatalf("renderBody(unknown type): %v", err)
	}
	if !strings.Contains(body, "hello") {
		t.Errorf("plain fallback body missing message: %q", body)
	}
}
