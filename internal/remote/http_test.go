package remote

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

	"github.com/roach88/eventsync/internal/event"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewHTTPClient(srv.URL, time.Second, WithToken("tok"))
	require.NoError(t, err)
	return c
}

func TestClassify(t *testing.T) {
	tests := []struct {
		status int
		want   Kind
	}{
		{400, KindValidation},
		{401, KindAuthentication},
		{403, KindAuthentication},
		{404, KindNotFound},
		{409, KindValidation},
		{422, KindValidation},
		{429, KindServer},
		{500, KindServer},
		{503, KindServer},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.status), "status %d", tt.status)
	}
}

func TestErrorHelpers(t *testing.T) {
	wrapped := func(e *Error) error { return errors.Join(errors.New("ctx"), e) }

	assert.True(t, IsRetryable(wrapped(NewNetworkError("dial", errors.New("refused")))))
	assert.True(t, IsRetryable(wrapped(NewStatusError(429, ""))))
	assert.True(t, IsRetryable(wrapped(NewStatusError(502, ""))))
	assert.False(t, IsRetryable(wrapped(NewStatusError(422, "bad"))))
	assert.False(t, IsRetryable(errors.New("plain")))

	assert.True(t, IsAuthentication(wrapped(NewStatusError(401, ""))))
	assert.True(t, IsNotFound(wrapped(NewStatusError(404, ""))))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))

	assert.Equal(t, "VALIDATION: name is required (status 422)", NewStatusError(422, "name is required").Error())
	assert.Equal(t, "SERVER: Too Many Requests (status 429)", NewStatusError(429, "").Error())
}

func TestNewHTTPClient_RejectsBadScheme(t *testing.T) {
	_, err := NewHTTPClient("ftp://example.com", 0)
	assert.Error(t, err)
}

func TestHTTPClient_List(t *testing.T) {
	from := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/events", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		q := r.URL.Query()
		assert.Equal(t, "59.437000", q.Get("lat"))
		assert.Equal(t, "24.753600", q.Get("lng"))
		assert.Equal(t, "25", q.Get("radius_km"))
		assert.Equal(t, "2026-05-01T00:00:00Z", q.Get("from"))
		assert.Equal(t, "2026-05-08T00:00:00Z", q.Get("to"))
		assert.Equal(t, "100", q.Get("limit"))

		_ = json.NewEncoder(w).Encode(Page{
			Events: []event.Event{{ID: "a", Name: "A"}, {ID: "b", Name: "B"}},
			Total:  40,
		})
	})

	page, err := c.List(context.Background(), Query{
		Center:   event.Sentinel,
		RadiusKm: 25,
		Window:   event.WindowFrom(from, 7),
		Limit:    100,
	})
	require.NoError(t, err)
	assert.Equal(t, 40, page.Total)
	assert.Equal(t, []string{"a", "b"}, event.IDs(page.Events))
}

func TestHTTPClient_ListTotalNeverBelowPage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"events":[{"id":"a"}]}`))
	})
	page, err := c.List(context.Background(), Query{RadiusKm: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
}

func TestHTTPClient_CreateReturnsCanonical(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var in event.Event
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		in.ID = "server-1"
		in.Version = 1
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(in)
	})

	out, err := c.Create(context.Background(), event.Event{ID: "client-1", Name: "Gig"})
	require.NoError(t, err)
	assert.Equal(t, "server-1", out.ID)
	assert.Equal(t, "Gig", out.Name)
	assert.Equal(t, int64(1), out.Version)
}

func TestHTTPClient_UpdateAndDeletePaths(t *testing.T) {
	var seen []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Method+" "+r.URL.EscapedPath())
		if r.Method == http.MethodDelete {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		_, _ = w.Write([]byte(`{"id":"a b","version":2}`))
	})

	out, err := c.Update(context.Background(), event.Event{ID: "a b"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), out.Version)
	require.NoError(t, c.Delete(context.Background(), "a b"))

	assert.Equal(t, []string{"PUT /events/a%20b", "DELETE /events/a%20b"}, seen)
}

func TestHTTPClient_StatusErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		kind    Kind
		message string
	}{
		{"validation message field", 422, `{"message":"name is required"}`, KindValidation, "name is required"},
		{"validation error field", 400, `{"error":"bad radius"}`, KindValidation, "bad radius"},
		{"plain body", 404, "no such event\n", KindNotFound, "no such event"},
		{"auth", 401, "", KindAuthentication, ""},
		{"rate limited", 429, "", KindServer, ""},
		{"server", 500, "boom", KindServer, "boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := c.Update(context.Background(), event.Event{ID: "x"})
			require.Error(t, err)

			var re *Error
			require.ErrorAs(t, err, &re)
			assert.Equal(t, tt.kind, re.Kind)
			assert.Equal(t, tt.status, re.Status)
			if tt.message != "" {
				assert.Equal(t, tt.message, re.Message)
			}
		})
	}
}

func TestHTTPClient_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c, err := NewHTTPClient(base, time.Second)
	require.NoError(t, err)

	_, err = c.List(context.Background(), Query{RadiusKm: 1})
	require.Error(t, err)
	assert.Equal(t, KindNetwork, KindOf(err))
	assert.True(t, IsRetryable(err))
}

func TestHTTPClient_MalformedResponse(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"events":`))
	})
	_, err := c.List(context.Background(), Query{RadiusKm: 1})
	require.Error(t, err)
	assert.Equal(t, KindServer, KindOf(err))
}
