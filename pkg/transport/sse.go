package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/morezero/streamcall/pkg/bus"
	"github.com/morezero/streamcall/pkg/callerr"
	"github.com/morezero/streamcall/pkg/commsutil"
	"github.com/morezero/streamcall/pkg/stream"
)

const sseLogPrefix = "transport:sse"

func (s *server) startEvents(w http.ResponseWriter) (http.Flusher, bool) {
	f, ok := w.(http.Flusher)
	if !ok {
		writeError(w, callerr.Detail(callerr.Invalid("streaming unsupported by this connection"), false))
		return nil, false
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "retry: %d\n\n", s.cfg.Retry.Milliseconds())
	f.Flush()
	return f, true
}

// handleSSE relays one stream until its done message.
func (s *server) handleSSE(w http.ResponseWriter, r *http.Request) {
	evt := chi.URLParam(r, "evt")
	if err := commsutil.ValidateTopic(evt); err != nil {
		writeError(w, callerr.Detail(callerr.Invalid("invalid stream token %q", evt), false))
		return
	}

	// Subscribed before the headers go out so the client may start the
	// call as soon as it sees them.
	c, err := stream.Subscribe(s.bus, evt)
	if err != nil {
		writeError(w, callerr.Detail(err, false))
		return
	}
	defer c.Close()

	f, ok := s.startEvents(w)
	if !ok {
		return
	}

	ctx := r.Context()
	for {
		m, err := s.nextMessage(ctx, c, w, f)
		if err != nil {
			if ctx.Err() != nil && s.cfg.CancelOnDisconnect {
				slog.Info(fmt.Sprintf("%s - client left %s before done, cancelling", sseLogPrefix, evt))
				_ = c.Cancel()
			}
			return
		}
		data, err := stream.Marshal(m)
		if err != nil {
			slog.Warn(fmt.Sprintf("%s - %v", sseLogPrefix, err))
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			if s.cfg.CancelOnDisconnect {
				_ = c.Cancel()
			}
			return
		}
		f.Flush()
		if m.Done {
			return
		}
	}
}

// nextMessage waits for a message, writing keep-alive comments while idle.
func (s *server) nextMessage(ctx context.Context, c *stream.Consumer, w http.ResponseWriter, f http.Flusher) (*stream.Message, error) {
	for {
		wctx, cancel := context.WithTimeout(ctx, s.cfg.KeepAlive)
		m, err := c.Message(wctx)
		cancel()
		if err == nil {
			return m, nil
		}
		if !errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return nil, err
		}
		if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
			return nil, err
		}
		f.Flush()
	}
}

// handleCancel asks the producer of a stream to stop.
func (s *server) handleCancel(w http.ResponseWriter, r *http.Request) {
	evt := chi.URLParam(r, "evt")
	if err := commsutil.ValidateTopic(evt); err != nil {
		writeError(w, callerr.Detail(callerr.Invalid("invalid stream token %q", evt), false))
		return
	}
	if err := s.bus.Emit(stream.CancelTopic(evt), []byte("{}")); err != nil {
		writeError(w, callerr.Detail(err, false))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"evt": evt, "ret": struct{}{}})
}

// handleWatch relays reload notifications until the client leaves.
func (s *server) handleWatch(w http.ResponseWriter, r *http.Request) {
	ch := make(chan []byte, 16)
	sub, err := s.bus.On(s.cfg.WatchTopic, func(data []byte) {
		select {
		case ch <- data:
		default:
			slog.Warn(fmt.Sprintf("%s - watch client is slow, dropping notification", sseLogPrefix))
		}
	})
	if err != nil {
		writeError(w, callerr.Detail(err, false))
		return
	}
	defer func(sub *bus.Subscription) { _ = s.bus.Off(sub) }(sub)

	f, ok := s.startEvents(w)
	if !ok {
		return
	}
	keepAlive := time.NewTicker(s.cfg.KeepAlive)
	defer keepAlive.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case data := <-ch:
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			f.Flush()
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			f.Flush()
		}
	}
}
