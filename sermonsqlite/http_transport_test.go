package sermonsqlite

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Arwen-Digital/SermonSpark-sub000/sermonsync"
)

func staticToken(context.Context) (string, error) { return "token-1", nil }

func TestHTTPTransport_ClassifiesStatus(t *testing.T) {
	tests := []struct {
		status int
		class  ErrorClass
		retry  bool
	}{
		{http.StatusNotFound, ClassNotFound, false},
		{http.StatusConflict, ClassConflict, false},
		{http.StatusUnauthorized, ClassAuth, false},
		{http.StatusUnprocessableEntity, ClassClient, false},
		{http.StatusTooManyRequests, ClassServer, true},
		{http.StatusBadGateway, ClassServer, true},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_ = json.NewEncoder(w).Encode(sermonsync.ErrorResponse{Error: "some_code", Message: "nope"})
			}))
			defer srv.Close()

			tr := NewHTTPTransport(srv.URL, staticToken)
			_, err := tr.Get(context.Background(), KindSeries, "abc")
			var te *TransportError
			require.True(t, errors.As(err, &te))
			require.Equal(t, tt.class, te.Class)
			require.Equal(t, tt.status, te.Status)
			require.Equal(t, "some_code", te.Code)
			require.Equal(t, tt.retry, IsRetryable(err))
		})
	}
}

func TestHTTPTransport_RequestShape(t *testing.T) {
	since := time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			assert.Empty(t, r.Header.Get("Authorization"), "health is public")
			w.WriteHeader(http.StatusOK)
		case "/api/sermons":
			assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
			q := r.URL.Query()
			assert.Equal(t, since.Format(time.RFC3339Nano), q.Get("updated_at"))
			assert.Equal(t, "true", q.Get("include_deleted"))
			assert.Equal(t, "2", q.Get("page"))
			assert.Equal(t, "50", q.Get("limit"))
			_ = json.NewEncoder(w).Encode(sermonsync.ListResponse{
				Items:      []json.RawMessage{json.RawMessage(`{"id":"s1"}`)},
				Pagination: sermonsync.Pagination{Page: 2, Limit: 50, Total: 51},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.URL+"/", staticToken)
	require.NoError(t, tr.Ping(context.Background()))
	resp, err := tr.List(context.Background(), KindSermon, ListParams{
		UpdatedSince: &since, IncludeDeleted: true, Page: 2, Limit: 50,
	})
	require.NoError(t, err)
	require.Len(t, resp.Items, 1)
	require.False(t, resp.Pagination.HasMore)
	require.True(t, tr.Authenticated(context.Background()))
}

func TestHTTPTransport_NetworkFailures(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}))
	defer slow.Close()

	tr := NewHTTPTransport(slow.URL, staticToken)
	tr.Timeout = 20 * time.Millisecond
	err := tr.Ping(context.Background())
	c, ok := classOf(err)
	require.True(t, ok)
	require.Equal(t, ClassTimeout, c)
	require.True(t, IsUnreachable(err))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = tr.Ping(ctx)
	c, _ = classOf(err)
	require.Equal(t, ClassCanceled, c)
	require.False(t, IsRetryable(err))

	closed := httptest.NewServer(http.NotFoundHandler())
	url := closed.URL
	closed.Close()
	err = NewHTTPTransport(url, staticToken).Ping(context.Background())
	c, _ = classOf(err)
	require.Equal(t, ClassNetwork, c)
}

func TestHTTPTransport_MissingToken(t *testing.T) {
	tr := NewHTTPTransport("http://127.0.0.1:1", func(context.Context) (string, error) {
		return "", errors.New("signed out")
	})
	_, err := tr.Get(context.Background(), KindSeries, "x")
	c, _ := classOf(err)
	require.Equal(t, ClassAuth, c)
	require.False(t, tr.Authenticated(context.Background()))
}
