package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/morezero/streamcall/pkg/callerr"
	"github.com/morezero/streamcall/pkg/codec"
	"github.com/morezero/streamcall/pkg/dispatcher"
)

const rpcLogPrefix = "transport:rpc"

func (s *server) handleRPC(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	env, err := readEnvelope(r)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - bad request from %s: %v", rpcLogPrefix, r.RemoteAddr, err))
		writeError(w, callerr.Detail(callerr.Invalid("%v", err), false))
		return
	}
	if err := fillEntry(env, chi.URLParam(r, "*")); err != nil {
		writeError(w, callerr.Detail(err, false))
		return
	}

	ctx := r.Context()
	if dispatcher.PeekEvt(env) == "" {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}

	resp := s.dispatcher.Dispatch(ctx, &dispatcher.Request{Envelope: env, HTTPRequest: r, HTTPResponse: w})
	switch {
	case resp.Err != nil:
		body := map[string]any{"err": resp.Err}
		if resp.Evt != "" {
			body["evt"] = resp.Evt
		}
		writeJSON(w, statusFor(resp.Err), body)
	case resp.Evt != "":
		writeJSON(w, http.StatusOK, map[string]any{"evt": resp.Evt, "ret": struct{}{}})
	default:
		writeRet(w, resp.Ret)
	}
}

// writeRet sends a result that is a single blob as raw bytes, anything else
// as {ret}.
func writeRet(w http.ResponseWriter, ret *codec.Envelope) {
	if part, ok := ret.SingleBlob(); ok {
		w.Header().Set("Content-Type", "application/octet-stream")
		if part.Name != "" && !strings.HasPrefix(part.Name, codec.BlobPrefix) {
			w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": part.Name}))
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(part.Data)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ret": ret})
}

// readEnvelope accepts a JSON call object or a multipart body with a meta
// field and blob parts.
func readEnvelope(r *http.Request) (*codec.Envelope, error) {
	mediaType, params, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		if len(strings.TrimSpace(string(data))) == 0 {
			data = []byte("{}")
		}
		if !json.Valid(data) {
			return nil, errors.New("body is not valid JSON")
		}
		return &codec.Envelope{Meta: json.RawMessage(data)}, nil
	}

	mr := multipart.NewReader(r.Body, params["boundary"])
	env := &codec.Envelope{}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read multipart: %w", err)
		}
		data, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			return nil, fmt.Errorf("read part %s: %w", part.FormName(), err)
		}
		switch part.FormName() {
		case FieldMeta:
			env.Meta = json.RawMessage(data)
		case FieldBlobs, "blobs":
			env.Blobs = append(env.Blobs, codec.Part{Name: part.FileName(), Data: data})
		}
	}
	if len(env.Meta) == 0 {
		return nil, errors.New("multipart body has no meta field")
	}
	if !json.Valid(env.Meta) {
		return nil, errors.New("meta is not valid JSON")
	}
	return env, nil
}

// fillEntry takes the entry from the URL path when the body has none.
func fillEntry(env *codec.Envelope, path string) error {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	var meta map[string]json.RawMessage
	if err := json.Unmarshal(env.Meta, &meta); err != nil {
		return callerr.Invalid("call must be a JSON object")
	}
	if _, ok := meta["entry"]; ok {
		return nil
	}
	entry, err := json.Marshal(strings.ReplaceAll(path, "/", "."))
	if err != nil {
		return callerr.Invalid("%v", err)
	}
	meta["entry"] = entry
	data, err := json.Marshal(meta)
	if err != nil {
		return callerr.Invalid("%v", err)
	}
	env.Meta = data
	return nil
}
