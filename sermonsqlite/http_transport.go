// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package sermonsqlite

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Arwen-Digital/SermonSpark-sub000/sermonsync"
)

// DefaultRequestTimeout bounds every remote call
const DefaultRequestTimeout = 30 * time.Second

// HTTPTransport talks to the sermonsync REST API
type HTTPTransport struct {
	BaseURL string
	Token   func(context.Context) (string, error) // returns JWT
	HTTP    *http.Client
	Timeout time.Duration // per call; 0 = DefaultRequestTimeout
}

// NewHTTPTransport creates a transport for baseURL, e.g. "https://api.example.com"
func NewHTTPTransport(baseURL string, tok func(ctx context.Context) (string, error)) *HTTPTransport {
	return &HTTPTransport{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   tok,
		HTTP:    &http.Client{},
		Timeout: DefaultRequestTimeout,
	}
}

// Authenticated reports whether the token function currently yields a token
func (t *HTTPTransport) Authenticated(ctx context.Context) bool {
	if t.Token == nil {
		return false
	}
	token, err := t.Token(ctx)
	return err == nil && token != ""
}

func (t *HTTPTransport) List(ctx context.Context, kind Kind, params ListParams) (*sermonsync.ListResponse, error) {
	q := url.Values{}
	if params.UpdatedSince != nil {
		q.Set("updated_at", params.UpdatedSince.UTC().Format(time.RFC3339Nano))
	}
	if params.IncludeDeleted {
		q.Set("include_deleted", "true")
	}
	if params.Page > 0 {
		q.Set("page", strconv.Itoa(params.Page))
	}
	if params.Limit > 0 {
		q.Set("limit", strconv.Itoa(params.Limit))
	}
	body, err := t.do(ctx, "list", http.MethodGet, kind.Path(), q, nil, true)
	if err != nil {
		return nil, err
	}
	var resp sermonsync.ListResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode %s list response: %w", kind, err)
	}
	return &resp, nil
}

func (t *HTTPTransport) Get(ctx context.Context, kind Kind, id string) (json.RawMessage, error) {
	return t.do(ctx, "get", http.MethodGet, kind.Path()+"/"+url.PathEscape(id), nil, nil, true)
}

func (t *HTTPTransport) Create(ctx context.Context, kind Kind, body json.RawMessage) (json.RawMessage, error) {
	return t.do(ctx, "create", http.MethodPost, kind.Path(), nil, body, true)
}

func (t *HTTPTransport) Update(ctx context.Context, kind Kind, id string, body json.RawMessage) (json.RawMessage, error) {
	return t.do(ctx, "update", http.MethodPut, kind.Path()+"/"+url.PathEscape(id), nil, body, true)
}

func (t *HTTPTransport) Delete(ctx context.Context, kind Kind, id string) error {
	_, err := t.do(ctx, "delete", http.MethodDelete, kind.Path()+"/"+url.PathEscape(id), nil, nil, true)
	return err
}

// Ping checks that the service answers /health
func (t *HTTPTransport) Ping(ctx context.Context) error {
	_, err := t.do(ctx, "ping", http.MethodGet, "/health", nil, nil, false)
	return err
}

func (t *HTTPTransport) do(ctx context.Context, op, method, path string, query url.Values, body []byte, withAuth bool) ([]byte, error) {
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	target := t.BaseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(callCtx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	if withAuth {
		if t.Token == nil {
			return nil, &TransportError{Class: ClassAuth, Op: op, Path: path, Message: "no token source configured"}
		}
		token, err := t.Token(ctx)
		if err != nil {
			return nil, &TransportError{Class: ClassAuth, Op: op, Path: path, Err: fmt.Errorf("failed to get token: %w", err)}
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := t.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &TransportError{Class: classifyRequestError(ctx, err), Op: op, Path: path, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Class: classifyRequestError(ctx, err), Op: op, Path: path, Status: resp.StatusCode, Err: err}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return respBody, nil
	}

	te := &TransportError{Class: classifyStatus(resp.StatusCode), Op: op, Path: path, Status: resp.StatusCode}
	var errResp sermonsync.ErrorResponse
	if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
		te.Code = errResp.Error
		te.Message = errResp.Message
	} else {
		te.Message = strings.TrimSpace(string(respBody))
	}
	return nil, te
}

func classifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusNotFound:
		return ClassNotFound
	case status == http.StatusConflict:
		return ClassConflict
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ClassAuth
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests:
		return ClassServer
	case status >= 500:
		return ClassServer
	default:
		return ClassClient
	}
}

// classifyRequestError separates caller cancellation from per-call timeouts and network failures
func classifyRequestError(parent context.Context, err error) ErrorClass {
	if parent.Err() != nil {
		return ClassCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTimeout
	}
	return ClassNetwork
}
