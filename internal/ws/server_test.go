package ws

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/framesnap/framesnap/internal/progress"
)

type fakeCanceller struct {
	mu        sync.Mutex
	cancelled []string
}

func (f *fakeCanceller) Cancel(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id != "job-1" {
		return errors.New("job is not active: " + id)
	}
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakeCanceller) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cancelled...)
}

func dial(t *testing.T, ps *progress.Store, c Canceller) (*websocket.Conn, context.Context) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(NewServer(ps, c, nil).HandleProgress))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn, ctx
}

func TestHandleProgress_InitialSnapshot(t *testing.T) {
	ps := progress.NewStore()
	conn, ctx := dial(t, ps, &fakeCanceller{})

	var msg ProgressMessage
	if err := wsjson.Read(ctx, conn, &msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != "progress" {
		t.Errorf("expected progress, got %s", msg.Type)
	}
	if msg.Processing || len(msg.Frames) != 0 {
		t.Errorf("expected idle empty snapshot, got %+v", msg)
	}
}

func TestHandleProgress_StreamsUpdates(t *testing.T) {
	ps := progress.NewStore()
	conn, ctx := dial(t, ps, &fakeCanceller{})

	var msg ProgressMessage
	if err := wsjson.Read(ctx, conn, &msg); err != nil {
		t.Fatalf("read initial: %v", err)
	}

	ps.Begin("job-1")
	ps.Append("job-1", "/frames/frame_0.jpg")
	ps.Append("job-1", "/frames/frame_1.jpg")
	ps.End("job-1")

	for {
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			t.Fatalf("read update: %v", err)
		}
		if !msg.Processing {
			break
		}
		if msg.JobID != "job-1" {
			t.Errorf("expected job-1, got %s", msg.JobID)
		}
	}

	if len(msg.Frames) != 2 || msg.Frames[1] != "/frames/frame_1.jpg" {
		t.Errorf("unexpected final frames: %v", msg.Frames)
	}
}

func TestHandleMessages_Heartbeat(t *testing.T) {
	ps := progress.NewStore()
	conn, ctx := dial(t, ps, &fakeCanceller{})

	var initial ProgressMessage
	wsjson.Read(ctx, conn, &initial)

	if err := wsjson.Write(ctx, conn, BaseMessage{Type: "heartbeat"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	var hb HeartbeatMessage
	if err := wsjson.Read(ctx, conn, &hb); err != nil {
		t.Fatalf("read: %v", err)
	}
	if hb.Type != "heartbeat" {
		t.Errorf("expected heartbeat, got %s", hb.Type)
	}
	if hb.Timestamp.IsZero() {
		t.Error("expected timestamp")
	}
}

func TestHandleMessages_Cancel(t *testing.T) {
	ps := progress.NewStore()
	c := &fakeCanceller{}
	conn, ctx := dial(t, ps, c)

	var initial ProgressMessage
	wsjson.Read(ctx, conn, &initial)

	wsjson.Write(ctx, conn, CancelMessage{Type: "cancel", JobID: "job-2"})

	var em ErrorMessage
	if err := wsjson.Read(ctx, conn, &em); err != nil {
		t.Fatalf("read: %v", err)
	}
	if em.Type != "error" || em.JobID != "job-2" {
		t.Errorf("expected error for job-2, got %+v", em)
	}

	wsjson.Write(ctx, conn, CancelMessage{Type: "cancel", JobID: "job-1"})
	wsjson.Write(ctx, conn, BaseMessage{Type: "heartbeat"})

	var hb HeartbeatMessage
	if err := wsjson.Read(ctx, conn, &hb); err != nil {
		t.Fatalf("read: %v", err)
	}
	if hb.Type != "heartbeat" {
		t.Errorf("expected heartbeat after cancel, got %s", hb.Type)
	}
	if got := c.calls(); len(got) != 1 || got[0] != "job-1" {
		t.Errorf("expected job-1 cancelled, got %v", got)
	}
}

func TestHandleMessages_Invalid(t *testing.T) {
	ps := progress.NewStore()
	conn, ctx := dial(t, ps, &fakeCanceller{})

	var initial ProgressMessage
	wsjson.Read(ctx, conn, &initial)

	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{"not json", "{oops", "invalid message format"},
		{"unknown type", `{"type":"dance"}`, "unknown message type: dance"},
		{"cancel without id", `{"type":"cancel"}`, "cancel requires job_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := conn.Write(ctx, websocket.MessageText, []byte(tt.payload)); err != nil {
				t.Fatalf("write: %v", err)
			}
			var em ErrorMessage
			if err := wsjson.Read(ctx, conn, &em); err != nil {
				t.Fatalf("read: %v", err)
			}
			if em.Error != tt.want {
				t.Errorf("expected %q, got %q", tt.want, em.Error)
			}
		})
	}
}
