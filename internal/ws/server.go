package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/framesnap/framesnap/internal/logging"
	"github.com/framesnap/framesnap/internal/progress"
)

const writeTimeout = 5 * time.Second

// Canceller stops a running job by ID.
type Canceller interface {
	Cancel(id string) error
}

// Server pushes progress snapshots to websocket clients as they change.
type Server struct {
	progress  *progress.Store
	canceller Canceller
	logger    *slog.Logger
}

func NewServer(ps *progress.Store, c Canceller, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Server{progress: ps, canceller: c, logger: logger}
}

func (s *Server) HandleProgress(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Warn("websocket accept", logging.Err(err))
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "goodbye")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	updates, unsubscribe := s.progress.Subscribe()
	defer unsubscribe()

	go func() {
		defer cancel()
		s.handleMessages(ctx, conn)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			msg := ProgressMessage{
				Type:       "progress",
				JobID:      snap.JobID,
				Processing: snap.Processing,
				Frames:     snap.Frames,
			}
			if err := s.write(ctx, conn, msg); err != nil {
				return
			}
		}
	}
}

func (s *Server) write(ctx context.Context, conn *websocket.Conn, v any) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, v)
}

func (s *Server) handleMessages(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && ctx.Err() == nil {
				s.logger.Debug("websocket read", logging.Err(err))
			}
			return
		}

		var msg BaseMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.write(ctx, conn, ErrorMessage{Type: "error", Error: "invalid message format"})
			continue
		}

		switch msg.Type {
		case "heartbeat":
			s.write(ctx, conn, HeartbeatMessage{Type: "heartbeat", Timestamp: time.Now().UTC()})

		case "cancel":
			var cm CancelMessage
			if err := json.Unmarshal(data, &cm); err != nil || cm.JobID == "" {
				s.write(ctx, conn, ErrorMessage{Type: "error", Error: "cancel requires job_id"})
				continue
			}
			if err := s.canceller.Cancel(cm.JobID); err != nil {
				s.write(ctx, conn, ErrorMessage{Type: "error", JobID: cm.JobID, Error: err.Error()})
			}

		default:
			s.write(ctx, conn, ErrorMessage{Type: "error", Error: "unknown message type: " + msg.Type})
		}
	}
}
