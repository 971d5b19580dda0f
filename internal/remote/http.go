package remote

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

	"github.com/roach88/eventsync/internal/event"
)

// DefaultTimeout bounds a single remote call.
const DefaultTimeout = 15 * time.Second

// maxErrorBody caps how much of an error response is read for its message.
const maxErrorBody = 4 << 10

// HTTPClient implements Store against the JSON/HTTP event API.
//
//	GET    /events?lat=&lng=&radius_km=&from=&to=&limit=
//	POST   /events
//	PUT    /events/{id}
//	DELETE /events/{id}
type HTTPClient struct {
	base   *url.URL
	client *http.Client
	token  string
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithToken sends a bearer token on every request.
func WithToken(token string) HTTPOption {
	return func(c *HTTPClient) {
		c.token = token
	}
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) HTTPOption {
	return func(c *HTTPClient) {
		c.client = hc
	}
}

// NewHTTPClient creates a client for the API rooted at baseURL.
func NewHTTPClient(baseURL string, timeout time.Duration, opts ...HTTPOption) (*HTTPClient, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", baseURL)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &HTTPClient{base: u, client: newTransportClient(timeout)}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func newTransportClient(timeout time.Duration) *http.Client {
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 60 * time.Second}).DialContext,
		MaxIdleConns:        16,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	return &http.Client{Timeout: timeout, Transport: tr}
}

// List implements Store.
func (c *HTTPClient) List(ctx context.Context, q Query) (Page, error) {
	v := url.Values{}
	v.Set("lat", strconv.FormatFloat(q.Center.Lat, 'f', 6, 64))
	v.Set("lng", strconv.FormatFloat(q.Center.Lng, 'f', 6, 64))
	v.Set("radius_km", strconv.FormatFloat(q.RadiusKm, 'f', -1, 64))
	if !q.Window.From.IsZero() {
		v.Set("from", q.Window.From.UTC().Format(time.RFC3339))
	}
	if !q.Window.To.IsZero() {
		v.Set("to", q.Window.To.UTC().Format(time.RFC3339))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}

	var page Page
	if err := c.do(ctx, http.MethodGet, "/events?"+v.Encode(), nil, &page); err != nil {
		return Page{}, err
	}
	if page.Total < len(page.Events) {
		page.Total = len(page.Events)
	}
	return page, nil
}

// Create implements Store.
func (c *HTTPClient) Create(ctx context.Context, ev event.Event) (event.Event, error) {
	var out event.Event
	if err := c.do(ctx, http.MethodPost, "/events", ev, &out); err != nil {
		return event.Event{}, err
	}
	return out, nil
}

// Update implements Store.
func (c *HTTPClient) Update(ctx context.Context, ev event.Event) (event.Event, error) {
	var out event.Event
	if err := c.do(ctx, http.MethodPut, "/events/"+url.PathEscape(ev.ID), ev, &out); err != nil {
		return event.Event{}, err
	}
	return out, nil
}

// Delete implements Store.
func (c *HTTPClient) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/events/"+url.PathEscape(id), nil, nil)
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return &Error{Kind: KindValidation, Message: "encode request", Err: err}
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return &Error{Kind: KindValidation, Message: "build request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return NewNetworkError(method+" "+strings.SplitN(path, "?", 2)[0], err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return NewStatusError(resp.StatusCode, readErrorMessage(resp.Body))
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return &Error{Kind: KindServer, Status: resp.StatusCode, Message: "empty response body"}
		}
		return &Error{Kind: KindServer, Status: resp.StatusCode, Message: "decode response", Err: err}
	}
	return nil
}

func readErrorMessage(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	var eb errorBody
	if json.Unmarshal(b, &eb) == nil {
		if eb.Message != "" {
			return eb.Message
		}
		if eb.Error != "" {
			return eb.Error
		}
	}
	return strings.TrimSpace(string(b))
}
