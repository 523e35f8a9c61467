package workshop

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aquamarinepk/aqm"

	"github.com/workshopkit/workshop/services/workshop/internal/jobcard"
)

func TestSessionStoreGet(t *testing.T) {
	tests := []struct {
		name    string
		ttl     time.Duration
		id      string
		wantErr error
	}{
		{name: "live", ttl: time.Hour, wantErr: nil},
		{name: "expired", ttl: -time.Second, wantErr: jobcard.ErrSessionExpired},
		{name: "unknown", ttl: time.Hour, id: "missing", wantErr: ErrSessionNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewSessionStore(time.Hour)
			defer store.Stop()

			session := newSession("u1", tt.ttl)
			if err := store.Save(session); err != nil {
				t.Fatalf("Save() error = %v", err)
			}

			id := session.ID
			if tt.id != "" {
				id = tt.id
			}
			got, err := store.Get(id)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Get() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && got != session {
				t.Error("Get() returned a different session")
			}
			if errors.Is(tt.wantErr, jobcard.ErrSessionExpired) && store.Len() != 0 {
				t.Error("expired session was not removed")
			}
		})
	}
}

func TestSessionStoreEvictExpired(t *testing.T) {
	store := NewSessionStore(time.Hour)
	defer store.Stop()

	live := newSession("u1", time.Hour)
	stale := newSession("u2", time.Minute)
	_ = store.Save(live)
	_ = store.Save(stale)
	messages := stale.Subscribe("sub-1")

	store.evictExpired(time.Now().Add(2 * time.Minute))

	if store.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", store.Len())
	}
	if _, ok := <-messages; ok {
		t.Error("evicted session stream still open")
	}
	if err := store.Save(nil); err == nil {
		t.Error("Save(nil) error = nil")
	}
}

func TestSessionNotices(t *testing.T) {
	session := newSession("u1", time.Hour)

	for i := 0; i < maxQueuedNotices+5; i++ {
		session.Notify(jobcard.Notice{Kind: jobcard.NoticeInfo, Message: "n"})
	}

	notices := session.DrainNotices()
	if len(notices) != maxQueuedNotices {
		t.Errorf("DrainNotices() len = %d, want %d", len(notices), maxQueuedNotices)
	}
	if notices[0].At.IsZero() {
		t.Error("Notify() did not stamp the notice")
	}
	if again := session.DrainNotices(); len(again) != 0 {
		t.Errorf("second DrainNotices() len = %d, want 0", len(again))
	}
}

func TestSessionBroadcast(t *testing.T) {
	session := newSession("u1", time.Hour)
	first := session.Subscribe("a")
	second := session.Subscribe("b")

	session.Notify(jobcard.Notice{Kind: jobcard.NoticeWarning, Message: "Live updates are unavailable"})

	for _, ch := range []<-chan Message{first, second} {
		select {
		case msg := <-ch:
			if msg.Event != "notice" {
				t.Errorf("event = %q, want notice", msg.Event)
			}
		default:
			t.Error("subscriber did not receive the notice")
		}
	}

	session.Unsubscribe("a")
	if _, ok := <-first; ok {
		t.Error("unsubscribed stream still open")
	}

	for i := 0; i < streamBuffer*2; i++ {
		session.Notify(jobcard.Notice{Kind: jobcard.NoticeInfo, Message: "flood"})
	}
	if len(second) != streamBuffer {
		t.Errorf("buffered = %d, want %d", len(second), streamBuffer)
	}

	_ = session.close()
	if closed := session.Subscribe("late"); closed != nil {
		if _, ok := <-closed; ok {
			t.Error("Subscribe() after close returned an open stream")
		}
	}
}

func TestHandlerStreamEvents(t *testing.T) {
	h := NewHandler(HandlerDeps{}, aqm.NewConfig(), aqm.NewNoopLogger())
	defer h.Sessions().Stop()

	session := newSession("u1", time.Hour)
	session.Engine = h.newEngine(session)
	_ = h.Sessions().Save(session)
	session.Notify(jobcard.Notice{Kind: jobcard.NoticeInfo, Message: "Draft restored"})

	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	ctx, cancel := context.WithCancel(req.Context())
	defer cancel()
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		h.StreamEvents(w, req, call{log: aqm.NewNoopLogger(), session: session})
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		session.mu.Lock()
		subscribed := len(session.subscribers) > 0
		session.mu.Unlock()
		if subscribed {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("stream never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	session.Notify(jobcard.Notice{Kind: jobcard.NoticeSuccess, Message: "Job card created"})
	_ = session.close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("StreamEvents() did not return after session close")
	}

	body := w.Body.String()
	if got := w.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("Content-Type = %q", got)
	}
	for _, want := range []string{": connected", "event: notice", "Draft restored", "Job card created"} {
		if !strings.Contains(body, want) {
			t.Errorf("stream missing %q:\n%s", want, body)
		}
	}
}
