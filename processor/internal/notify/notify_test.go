package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/greendelivery/coldchain/processor/internal/alerts"
	"github.com/greendelivery/coldchain/processor/internal/config"
)

func sampleAlert(channel string) alerts.Alert {
	return alerts.Alert{
		ID:        "a-1",
		Kind:      alerts.KindDoor,
		Channel:   channel,
		PackageID: "PKG-1",
		State:     alerts.StateFiring,
		Title:     "Door opened",
		Message:   "Door opened\nPackage: PKG-1\nTime: 2024-05-01T12:00:00Z",
	}
}

// captureServer records the last JSON body it received and replies with status.
func captureServer(t *testing.T, status int) (*httptest.Server, *map[string]any) {
	t.Helper()
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type: got %q", ct)
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func TestWebhook_Payloads(t *testing.T) {
	tests := []struct {
		kind  string
		check func(t *testing.T, body map[string]any)
	}{
		{"discord", func(t *testing.T, body map[string]any) {
			content, _ := body["content"].(string)
			if !strings.Contains(content, "**Door opened**") || !strings.Contains(content, "PKG-1") {
				t.Errorf("discord content: %q", content)
			}
		}},
		{"slack", func(t *testing.T, body map[string]any) {
			text, _ := body["text"].(string)
			if !strings.Contains(text, "*Door opened*") {
				t.Errorf("slack text: %q", text)
			}
		}},
		{"teams", func(t *testing.T, body map[string]any) {
			if body["@type"] != "MessageCard" {
				t.Errorf("teams @type: %v", body["@type"])
			}
			if title, _ := body["title"].(string); !strings.Contains(title, "PKG-1") {
				t.Errorf("teams title: %q", title)
			}
		}},
		{"http", func(t *testing.T, body map[string]any) {
			a, ok := body["alert"].(map[string]any)
			if !ok {
				t.Fatalf("http body missing alert: %v", body)
			}
			if a["package_id"] != "PKG-1" || a["channel"] != "door" {
				t.Errorf("http alert: %v", a)
			}
		}},
	}
	for _, tc := range tests {
		t.Run(tc.kind, func(t *testing.T) {
			srv, got := captureServer(t, http.StatusNoContent)
			wh := NewWebhook(tc.kind, srv.URL, srv.Client())
			if err := wh.Send(context.Background(), sampleAlert("door")); err != nil {
				t.Fatalf("Send: %v", err)
			}
			tc.check(t, *got)
		})
	}
}

func TestWebhook_Status(t *testing.T) {
	tests := []struct {
		status  int
		wantErr bool
	}{
		{http.StatusOK, false},
		{http.StatusNoContent, false},
		{http.StatusMultipleChoices, true},
		{http.StatusNotModified, true},
		{http.StatusBadRequest, true},
		{http.StatusInternalServerError, true},
	}
	for _, tc := range tests {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			srv, _ := captureServer(t, tc.status)
			err := NewWebhook("discord", srv.URL, srv.Client()).Send(context.Background(), sampleAlert("door"))
			if !tc.wantErr {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), strconv.Itoa(tc.status)) {
				t.Fatalf("expected HTTP %d error, got %v", tc.status, err)
			}
		})
	}
}

func TestWebhook_RespectsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	if err := NewWebhook("slack", srv.URL, srv.Client()).Send(ctx, sampleAlert("door")); err == nil {
		t.Fatal("expected timeout error")
	}
	if time.Since(start) > time.Second {
		t.Error("Send did not honour the context deadline")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("abc", 5); got != "abc" {
		t.Errorf("short: got %q", got)
	}
	long := strings.Repeat("°", 10)
	if got := []rune(truncate(long, 4)); len(got) != 4 || got[3] != '…' {
		t.Errorf("long: got %q", string(got))
	}
}

type stubTarget struct {
	name  string
	err   error
	calls int
}

func (s *stubTarget) Name() string { return s.name }
func (s *stubTarget) Send(context.Context, alerts.Alert) error {
	s.calls++
	return s.err
}

func TestRouter_FansOutAndJoinsErrors(t *testing.T) {
	okT := &stubTarget{name: "ok"}
	bad := &stubTarget{name: "bad", err: errors.New("boom")}
	other := &stubTarget{name: "other"}
	r := NewRouter(map[string][]Target{
		"door":        {bad, okT},
		"temperature": {other},
	})

	err := r.Notify(context.Background(), sampleAlert("door"))
	if err == nil || !strings.Contains(err.Error(), "bad: boom") {
		t.Fatalf("expected joined error, got %v", err)
	}
	if okT.calls != 1 {
		t.Error("healthy target skipped after a failing one")
	}
	if other.calls != 0 {
		t.Error("alert routed to the wrong channel")
	}
}

func TestRouter_FallbackToLog(t *testing.T) {
	r := NewRouter(nil)
	if err := r.Notify(context.Background(), sampleAlert("temperature")); err != nil {
		t.Fatalf("fallback: %v", err)
	}
}

func TestRouter_Replace(t *testing.T) {
	old := &stubTarget{name: "old"}
	fresh := &stubTarget{name: "fresh"}
	r := NewRouter(map[string][]Target{"door": {old}})

	r.Replace(NewRouter(map[string][]Target{
		"door":        {fresh},
		"temperature": {fresh},
	}))
	if err := r.Notify(context.Background(), sampleAlert("door")); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if old.calls != 0 || fresh.calls != 1 {
		t.Errorf("calls after Replace: old=%d fresh=%d", old.calls, fresh.calls)
	}
	if got := r.Targets("temperature"); got != 1 {
		t.Errorf("temperature targets: got %d, want 1", got)
	}
}

func TestNew_FromConfig(t *testing.T) {
	srv, _ := captureServer(t, http.StatusOK)
	t.Setenv("TEST_DOOR_HOOK", srv.URL)

	cfg := config.Defaults().Alerts
	cfg.Channels = map[string][]config.TargetConfig{
		"door":        {{Type: "discord", URLEnv: "TEST_DOOR_HOOK"}, {Type: "log"}},
		"temperature": {{Type: "slack", URLEnv: "TEST_UNSET_HOOK"}},
	}
	r, err := New(cfg, nil, "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := r.Targets("door"); got != 2 {
		t.Errorf("door targets: got %d, want 2", got)
	}
	if got := r.Targets("temperature"); got != 0 {
		t.Errorf("temperature targets: got %d, want 0 (url unset)", got)
	}

	cfg.Channels = map[string][]config.TargetConfig{"door": {{Type: "redis"}}}
	if _, err := New(cfg, nil, ""); err == nil {
		t.Error("expected error for redis target without client")
	}
}

func TestRedis_Publish(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	target := NewRedis(rdb, "coldchain:alerts")
	ctx := context.Background()

	sub := rdb.Subscribe(ctx, target.Topic("door"))
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := target.Send(ctx, sampleAlert("door")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case msg := <-sub.Channel():
		if msg.Channel != "coldchain:alerts:door" {
			t.Errorf("channel: got %q", msg.Channel)
		}
		var a alerts.Alert
		if err := json.Unmarshal([]byte(msg.Payload), &a); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if a.ID != "a-1" || a.PackageID != "PKG-1" {
			t.Errorf("alert: %+v", a)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message published")
	}
}
