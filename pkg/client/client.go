// Package client calls a streamcall server over HTTP. Unary calls are one
// POST; streams open the event channel first and then start the call.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/morezero/streamcall/pkg/callerr"
	"github.com/morezero/streamcall/pkg/codec"
	"github.com/morezero/streamcall/pkg/dispatcher"
	"github.com/morezero/streamcall/pkg/registry"
	"github.com/morezero/streamcall/pkg/transport"
)

const logPrefix = "client:client"

// Client talks to one server.
type Client struct {
	baseURL string
	http    *http.Client
	prefix  string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client. Its Timeout must be zero for streams
// to outlive it.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithPrefix selects the namespace calls resolve in.
func WithPrefix(prefix string) Option {
	return func(c *Client) { c.prefix = prefix }
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type rpcBody struct {
	Ret *codec.Envelope      `json:"ret"`
	Evt string               `json:"evt"`
	Err *callerr.ErrorDetail `json:"err"`
}

// Call runs a unary call and returns its decoded result. Server-side
// failures are returned as *callerr.RemoteError.
func (c *Client) Call(ctx context.Context, path string, args ...any) (any, error) {
	resp, err := c.post(ctx, &dispatcher.CallRequest{Prefix: c.prefix, Entry: strings.Split(path, "."), Args: args})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == "application/octet-stream" {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("%s - failed to read blob: %w", logPrefix, err)
		}
		if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil && params["filename"] != "" {
			return &codec.File{Name: params["filename"], Data: data}, nil
		}
		return data, nil
	}

	body, err := readBody(resp)
	if err != nil {
		return nil, err
	}
	if body.Err != nil {
		return nil, callerr.Remote(body.Err)
	}
	if body.Ret == nil {
		return nil, nil
	}
	v, err := codec.Decode(body.Ret)
	if err != nil {
		return nil, callerr.Codec(err)
	}
	return v, nil
}

// Describe lists the callable paths of a namespace.
func (c *Client) Describe(ctx context.Context, prefix string) (*registry.DescribeOutput, error) {
	url := c.baseURL + "/describe"
	if prefix != "" {
		url += "/" + prefix
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to build request: %w", logPrefix, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s - describe failed: %w", logPrefix, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%s - describe returned %d: %s", logPrefix, resp.StatusCode, bytes.TrimSpace(data))
	}
	var out registry.DescribeOutput
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%s - failed to decode describe output: %w", logPrefix, err)
	}
	return &out, nil
}

func (c *Client) post(ctx context.Context, call *dispatcher.CallRequest) (*http.Response, error) {
	env, err := dispatcher.EncodeCall(call)
	if err != nil {
		return nil, callerr.Codec(err)
	}
	body, contentType, err := encodeBody(env)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rpc", body)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to build request: %w", logPrefix, err)
	}
	req.Header.Set("Content-Type", contentType)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s - call %s failed: %w", logPrefix, strings.Join(call.Entry, "."), err)
	}
	return resp, nil
}

// encodeBody sends blob-free calls as JSON and the rest as multipart.
func encodeBody(env *codec.Envelope) (io.Reader, string, error) {
	if len(env.Blobs) == 0 {
		return bytes.NewReader(env.Meta), "application/json", nil
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField(transport.FieldMeta, string(env.Meta)); err != nil {
		return nil, "", fmt.Errorf("%s - failed to write meta: %w", logPrefix, err)
	}
	for _, part := range env.Blobs {
		fw, err := mw.CreateFormFile(transport.FieldBlobs, part.Name)
		if err != nil {
			return nil, "", fmt.Errorf("%s - failed to write blob %s: %w", logPrefix, part.Name, err)
		}
		if _, err := fw.Write(part.Data); err != nil {
			return nil, "", fmt.Errorf("%s - failed to write blob %s: %w", logPrefix, part.Name, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("%s - failed to close multipart body: %w", logPrefix, err)
	}
	return &buf, mw.FormDataContentType(), nil
}

func readBody(resp *http.Response) (*rpcBody, error) {
	var body rpcBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%s - failed to decode response (status %d): %w", logPrefix, resp.StatusCode, err)
	}
	if body.Err == nil && resp.StatusCode >= http.StatusBadRequest {
		body.Err = &callerr.ErrorDetail{Name: callerr.NameRequest, Message: fmt.Sprintf("server returned %d", resp.StatusCode)}
	}
	return &body, nil
}
