package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"p2pescrow/services/escrowd/api"
	"p2pescrow/services/escrowd/journal"
)

const (
	wsWriteTimeout = 10 * time.Second
	streamBuffer   = 256
	backlogPage    = 500
)

func entryView(e journal.Entry) api.Event {
	return api.Event{
		Seq:        e.Seq,
		ID:         e.ID,
		Type:       e.Type,
		OrderID:    e.OrderID,
		Attributes: e.Attributes,
		RecordedAt: e.RecordedAt.Unix(),
	}
}

func afterParam(r *http.Request) (uint64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("after"))
	if raw == "" {
		return 0, nil
	}
	after, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, badRequest("invalid after %q", raw)
	}
	return after, nil
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	after, err := afterParam(r)
	if err != nil {
		s.writeFailure(w, r, err, 0)
		return
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil {
			s.writeFailure(w, r, badRequest("invalid limit %q", raw), 0)
			return
		}
	}
	entries, err := s.journal.List(after, limit)
	if err != nil {
		s.writeFailure(w, r, err, 0)
		return
	}
	out := api.EventList{Events: make([]api.Event, 0, len(entries)), Next: after}
	for _, e := range entries {
		out.Events = append(out.Events, entryView(e))
		out.Next = e.Seq
	}
	writeJSON(w, http.StatusOK, out)
}

// handleStreamEvents replays the journal after the requested sequence and
// then follows new entries until the client goes away.
func (s *Server) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	after, err := afterParam(r)
	if err != nil {
		s.writeFailure(w, r, err, 0)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	ctx := conn.CloseRead(r.Context())
	if err := s.streamEvents(ctx, conn, after); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			s.logger.Debug("event stream ended", "requestId", requestID(r), "error", err)
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, after uint64) error {
	live, cancel, err := s.journal.Subscribe(ctx, streamBuffer)
	if err != nil {
		return err
	}
	defer cancel()

	last := after
	for {
		backlog, err := s.journal.List(last, backlogPage)
		if err != nil {
			return err
		}
		for _, entry := range backlog {
			if err := writeEntry(ctx, conn, entry); err != nil {
				return err
			}
			last = entry.Seq
		}
		if len(backlog) < backlogPage {
			break
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case entry, ok := <-live:
			if !ok {
				return conn.Close(websocket.StatusTryAgainLater, "subscriber fell behind")
			}
			if entry.Seq <= last {
				continue
			}
			if err := writeEntry(ctx, conn, entry); err != nil {
				return err
			}
			last = entry.Seq
		}
	}
}

func writeEntry(ctx context.Context, conn *websocket.Conn, entry journal.Entry) error {
	data, err := json.Marshal(entryView(entry))
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
