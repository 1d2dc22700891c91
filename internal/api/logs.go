package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/flux/internal/engine"
	"github.com/seantiz/flux/internal/model"
	"github.com/seantiz/flux/internal/store"
)

// lastEventID returns the sequence number a reconnecting client already has,
// or -1.
func lastEventID(r *http.Request) int {
	v := r.Header.Get("Last-Event-ID")
	if v == "" {
		return -1
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < -1 {
		return -1
	}
	return n
}

// handleStreamLogs streams an invocation's console output as server-sent
// events. Persisted lines are replayed first, then live lines follow until the
// invocation finishes and a "done" event ends the stream. Every line carries
// its sequence number as the event id, so a client reconnecting with
// Last-Event-ID resumes without duplicates.
func (s *Server) handleStreamLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	inv, err := s.store.GetInvocation(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "invocation not found")
		return
	}
	if err != nil {
		s.logger.Error("get invocation for logs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get invocation")
		return
	}

	// Subscribe before reading the history so no line falls between the two.
	// A finished invocation's topic may be gone after a restart, hence the
	// status check rather than waiting on the channel.
	finished := model.IsTerminal(inv.Status)
	var live <-chan engine.LogEvent
	if !finished {
		ch, unsub := s.engine.Broker().Subscribe(id)
		defer unsub()
		live = ch
	}

	history, err := s.store.GetLogLines(r.Context(), id)
	if err != nil {
		s.logger.Error("get log lines for stream", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get log lines")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Disable write timeout for long-lived SSE connections.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Debug("set write deadline for SSE", "error", err)
	}

	w.WriteHeader(http.StatusOK)
	flush := func() {
		if err := rc.Flush(); err != nil {
			s.logger.Debug("flush SSE", "error", err)
		}
	}

	sent := lastEventID(r)
	for _, l := range history {
		if l.Seq <= sent {
			continue
		}
		if err := writeSSEData(w, l.Seq, l.Line); err != nil {
			return
		}
		sent = l.Seq
	}
	flush()

	if finished {
		_ = writeSSEEvent(w, "done", "stream complete")
		flush()
		return
	}

	for {
		select {
		case ev, ok := <-live:
			if !ok {
				_ = writeSSEEvent(w, "done", "stream complete")
				flush()
				return
			}
			if ev.Seq <= sent {
				continue
			}
			if err := writeSSEData(w, ev.Seq, ev.Line); err != nil {
				return // Client gone.
			}
			sent = ev.Seq
			flush()
		case <-r.Context().Done():
			return
		}
	}
}

// logHistoryLine is a single log line in the history response.
type logHistoryLine struct {
	Seq       int    `json:"seq"`
	Line      string `json:"line"`
	CreatedAt string `json:"created_at"`
}

// logHistoryResponse is the JSON response for GET /v1/invocations/:id/logs/history.
type logHistoryResponse struct {
	InvocationID string           `json:"invocation_id"`
	Status       string           `json:"status"`
	Lines        []logHistoryLine `json:"lines"`
}

func (s *Server) handleGetLogHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	inv, err := s.store.GetInvocation(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "invocation not found")
		return
	}
	if err != nil {
		s.logger.Error("get invocation for log history", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get invocation")
		return
	}

	logLines, err := s.store.GetLogLines(r.Context(), id)
	if err != nil {
		s.logger.Error("get log lines", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get log lines")
		return
	}

	lines := make([]logHistoryLine, len(logLines))
	for i, l := range logLines {
		lines[i] = logHistoryLine{
			Seq:       l.Seq,
			Line:      l.Line,
			CreatedAt: l.CreatedAt.Format(time.RFC3339Nano),
		}
	}

	s.writeJSON(w, http.StatusOK, logHistoryResponse{
		InvocationID: id,
		Status:       inv.Status,
		Lines:        lines,
	})
}

// writeSSEData writes one console line as an SSE event with the given id.
// Multi-line text gets one "data:" field per line.
func writeSSEData(w http.ResponseWriter, seq int, line string) error {
	if _, err := fmt.Fprintf(w, "id: %d\n", seq); err != nil {
		return err
	}
	for seg := range strings.SplitSeq(line, "\n") {
		if _, err := fmt.Fprintf(w, "data: %s\n", seg); err != nil {
			return err
		}
	}
	_, err := fmt.Fprint(w, "\n")
	return err
}

// writeSSEEvent writes a named SSE event (event: <type>\ndata: <data>\n\n).
func writeSSEEvent(w http.ResponseWriter, eventType, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, data)
	return err
}
