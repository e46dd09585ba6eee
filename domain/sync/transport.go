package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/homegraph/homegraph/pkg/apperror"
)

// HTTPTransport speaks the sync protocol to a remote server over its HTTP
// API. The token must belong to an admin principal.
type HTTPTransport struct {
	baseURL string
	token   string
	client  *http.Client
}

var _ Transport = (*HTTPTransport)(nil)

// NewHTTPTransport creates a transport for the server at baseURL.
func NewHTTPTransport(baseURL, token string) *HTTPTransport {
	return &HTTPTransport{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (t *HTTPTransport) Request(ctx context.Context, req *SyncRequest) (*SyncResponse, error) {
	return t.exchange(ctx, "/api/sync/request", req)
}

func (t *HTTPTransport) Push(ctx context.Context, req *SyncRequest) (*SyncResponse, error) {
	return t.exchange(ctx, "/api/sync/push", req)
}

func (t *HTTPTransport) Ack(ctx context.Context, req *AckRequest) error {
	resp, err := t.post(ctx, "/api/sync/ack", req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	return nil
}

func (t *HTTPTransport) exchange(ctx context.Context, path string, req *SyncRequest) (*SyncResponse, error) {
	resp, err := t.post(ctx, path, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, decodeError(resp)
	}

	out := new(SyncResponse)
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return nil, apperror.NewStoreUnavailable(err)
	}
	return out, nil
}

func (t *HTTPTransport) post(ctx context.Context, path string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, apperror.NewInvalidArgument("encode request: " + err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.token)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, apperror.NewStoreUnavailable(err)
	}
	return resp, nil
}

// decodeError maps the server's error envelope back onto the shared code
// taxonomy so the engine's retry decisions match server-side semantics.
func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Code != "" {
		return apperror.New(resp.StatusCode, envelope.Error.Code, envelope.Error.Message)
	}
	if resp.StatusCode >= 500 {
		return apperror.ErrStoreUnavailable
	}
	return apperror.New(resp.StatusCode, "sync_http_error", http.StatusText(resp.StatusCode))
}
