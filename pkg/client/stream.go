package client

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/morezero/streamcall/pkg/callerr"
	"github.com/morezero/streamcall/pkg/dispatcher"
	"github.com/morezero/streamcall/pkg/stream"
)

const streamLogPrefix = "client:stream"

// cancelTimeout bounds the request sent by Stream.Cancel.
const cancelTimeout = 5 * time.Second

// Stream is the consumer side of a streaming call.
type Stream struct {
	client *Client
	evt    string
	queue  *stream.Queue
	stop   context.CancelFunc
	body   interface{ Close() error }

	closeOnce sync.Once
	readDone  chan struct{}
}

// Stream starts a streaming call. The event channel is open before the call
// is posted, so no message can be missed.
func (c *Client) Stream(ctx context.Context, path string, args ...any) (*Stream, error) {
	evt := stream.NewEvt()

	sseCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	req, err := http.NewRequestWithContext(sseCtx, http.MethodGet, c.baseURL+"/sse/"+evt, nil)
	if err != nil {
		stop()
		return nil, fmt.Errorf("%s - failed to build request: %w", streamLogPrefix, err)
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.http.Do(req)
	if err != nil {
		stop()
		return nil, fmt.Errorf("%s - failed to open stream %s: %w", streamLogPrefix, evt, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		stop()
		return nil, fmt.Errorf("%s - stream %s returned %d", streamLogPrefix, evt, resp.StatusCode)
	}

	s := &Stream{
		client:   c,
		evt:      evt,
		queue:    stream.NewQueue(),
		stop:     stop,
		body:     resp.Body,
		readDone: make(chan struct{}),
	}
	go s.read(bufio.NewReader(resp.Body))

	callResp, err := c.post(ctx, &dispatcher.CallRequest{Prefix: c.prefix, Entry: strings.Split(path, "."), Args: args, Evt: evt})
	if err != nil {
		s.Close()
		return nil, err
	}
	defer callResp.Body.Close()
	body, err := readBody(callResp)
	if err != nil {
		s.Close()
		return nil, err
	}
	if body.Err != nil {
		// A call that failed to start still ends its stream; the server
		// reports the failure on both.
		s.Close()
		return nil, callerr.Remote(body.Err)
	}
	return s, nil
}

// read feeds SSE data lines into the queue until done or disconnect.
func (s *Stream) read(r *bufio.Reader) {
	defer close(s.readDone)
	for {
		line, err := r.ReadString('\n')
		if data, ok := strings.CutPrefix(strings.TrimRight(line, "\r\n"), "data: "); ok {
			m, uerr := stream.Unmarshal([]byte(data))
			if uerr != nil {
				slog.Warn(fmt.Sprintf("%s - %v", streamLogPrefix, uerr))
			} else {
				s.queue.Push(m)
				if m.Done {
					return
				}
			}
		}
		if err != nil {
			slog.Debug(fmt.Sprintf("%s - stream %s disconnected: %v", streamLogPrefix, s.evt, err))
			s.queue.Push(&stream.Message{Err: &callerr.ErrorDetail{
				Name:    callerr.NameRequest,
				Message: "event stream closed before done",
			}})
			s.queue.Push(&stream.Message{Done: true})
			return
		}
	}
}

// Evt returns the stream token.
func (s *Stream) Evt() string { return s.evt }

// Next returns the next value. Error messages come back as
// *callerr.RemoteError and the stream stays readable; stream.ErrDone marks
// the end.
func (s *Stream) Next(ctx context.Context) (any, error) {
	return s.queue.Next(ctx)
}

// Cancelled reports whether the stream ended through cancellation. It is
// meaningful once Next has returned stream.ErrDone.
func (s *Stream) Cancelled() bool {
	m := s.queue.Terminal()
	return m != nil && m.Cancelled
}

// Cancel asks the server to stop producing. Values already sent are still
// delivered, followed by done.
func (s *Stream) Cancel(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, cancelTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.client.baseURL+"/sse/"+s.evt+"/cancel", nil)
	if err != nil {
		return fmt.Errorf("%s - failed to build cancel request: %w", streamLogPrefix, err)
	}
	resp, err := s.client.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s - cancel of %s failed: %w", streamLogPrefix, s.evt, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s - cancel of %s returned %d", streamLogPrefix, s.evt, resp.StatusCode)
	}
	return nil
}

// Close drops the event channel. The server cancels a stream whose reader
// left before done.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		s.stop()
		_ = s.body.Close()
		<-s.readDone
	})
}
