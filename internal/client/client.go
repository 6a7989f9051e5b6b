// Package client talks to the network monitor's HTTP API.
package client

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/quic-go/quic-go/http3"

	apperrors "github.com/zsiec/network-monitor/internal/errors"
	"github.com/zsiec/network-monitor/internal/health"
	"github.com/zsiec/network-monitor/internal/monitor"
	"github.com/zsiec/network-monitor/internal/network"
	"github.com/zsiec/network-monitor/internal/server"
)

// Config selects the API endpoint and transport.
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	HTTP3    bool
	Insecure bool // skip certificate verification
}

// Client is a thin typed wrapper over the monitor API.
type Client struct {
	base *url.URL
	http *http.Client
}

// APIError is a non-2xx response decoded from the error envelope.
type APIError struct {
	Status  int
	Type    apperrors.ErrorType
	Message string
	TraceID string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error: HTTP %d", e.Status)
	}
	return fmt.Sprintf("api error: HTTP %d %s: %s", e.Status, e.Type, e.Message)
}

// New creates a client. HTTP/3 needs an https base URL.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid base URL %q: scheme must be http or https", cfg.BaseURL)
	}
	if cfg.HTTP3 && base.Scheme != "https" {
		return nil, fmt.Errorf("HTTP/3 requires an https URL")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	tlsConfig := &tls.Config{InsecureSkipVerify: cfg.Insecure} //nolint:gosec // opt-in for self-signed dev certificates

	var transport http.RoundTripper
	if cfg.HTTP3 {
		transport = &http3.RoundTripper{TLSClientConfig: tlsConfig}
	} else {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.TLSClientConfig = tlsConfig
		transport = t
	}

	return &Client{
		base: base,
		http: &http.Client{Transport: transport, Timeout: timeout},
	}, nil
}

// Close releases idle connections, including QUIC sessions.
func (c *Client) Close() error {
	if rt, ok := c.http.Transport.(io.Closer); ok {
		return rt.Close()
	}
	c.http.CloseIdleConnections()
	return nil
}

func (c *Client) Version(ctx context.Context) (server.VersionResponse, error) {
	var out server.VersionResponse
	err := c.get(ctx, "/version", nil, &out)
	return out, err
}

// Health returns the aggregate health. A down service still decodes: the
// 503 body carries the individual checks.
func (c *Client) Health(ctx context.Context) (health.Response, error) {
	var out health.Response
	err := c.do(ctx, http.MethodGet, "/health", nil, nil, &out, http.StatusOK, http.StatusServiceUnavailable)
	return out, err
}

func (c *Client) Stations(ctx context.Context) (server.StationsResponse, error) {
	var out server.StationsResponse
	err := c.get(ctx, "/api/v1/stations", nil, &out)
	return out, err
}

func (c *Client) Station(ctx context.Context, id string) (server.StationResponse, error) {
	var out server.StationResponse
	err := c.get(ctx, "/api/v1/stations/"+url.PathEscape(id), nil, &out)
	return out, err
}

func (c *Client) StationRoutes(ctx context.Context, id string) (server.StationRoutesResponse, error) {
	var out server.StationRoutesResponse
	err := c.get(ctx, "/api/v1/stations/"+url.PathEscape(id)+"/routes", nil, &out)
	return out, err
}

func (c *Client) Lines(ctx context.Context) (server.LinesResponse, error) {
	var out server.LinesResponse
	err := c.get(ctx, "/api/v1/lines", nil, &out)
	return out, err
}

// TravelTime asks for the adjacent travel time, or the travel time along a
// route when lineID and routeID are both set.
func (c *Client) TravelTime(ctx context.Context, from, to, lineID, routeID string) (server.TravelTimeResponse, error) {
	path := "/api/v1/travel-time"
	if lineID != "" || routeID != "" {
		path = "/api/v1/lines/" + url.PathEscape(lineID) + "/routes/" + url.PathEscape(routeID) + "/travel-time"
	}
	var out server.TravelTimeResponse
	err := c.get(ctx, path, url.Values{"from": {from}, "to": {to}}, &out)
	return out, err
}

func (c *Client) Path(ctx context.Context, from, to string) (server.PathResponse, error) {
	var out server.PathResponse
	err := c.get(ctx, "/api/v1/path", url.Values{"from": {from}, "to": {to}}, &out)
	return out, err
}

func (c *Client) RecentEvents(ctx context.Context, limit int) (server.RecentEventsResponse, error) {
	var q url.Values
	if limit > 0 {
		q = url.Values{"limit": {strconv.Itoa(limit)}}
	}
	var out server.RecentEventsResponse
	err := c.get(ctx, "/api/v1/events/recent", q, &out)
	return out, err
}

// RecordEvent posts an event in the feed's message format.
func (c *Client) RecordEvent(ctx context.Context, ev network.PassengerEvent) (network.PassengerEvent, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return network.PassengerEvent{}, fmt.Errorf("encode event: %w", err)
	}
	var out network.PassengerEvent
	err = c.do(ctx, http.MethodPost, "/api/v1/events", nil, body, &out, http.StatusAccepted)
	return out, err
}

func (c *Client) ReloadLayout(ctx context.Context) (monitor.LayoutInfo, error) {
	var out monitor.LayoutInfo
	err := c.do(ctx, http.MethodPost, "/api/v1/layout/reload", nil, nil, &out, http.StatusOK)
	return out, err
}

// ResetCounts zeroes the monitor's passenger counts and event history.
func (c *Client) ResetCounts(ctx context.Context) (int, error) {
	var out server.CountsResetResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/counts/reset", nil, nil, &out, http.StatusOK)
	return out.Stations, err
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, query, nil, out, http.StatusOK)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte, out interface{}, accept ...int) error {
	u := *c.base
	u.Path += path
	u.RawQuery = query.Encode()

	var rd io.Reader
	if body != nil {
		rd = strings.NewReader(string(body))
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	for _, status := range accept {
		if resp.StatusCode == status {
			if out == nil {
				return nil
			}
			if err := json.Unmarshal(data, out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			return nil
		}
	}
	return decodeError(resp.StatusCode, data)
}

func decodeError(status int, data []byte) error {
	apiErr := &APIError{Status: status}
	var envelope apperrors.ErrorResponse
	if err := json.Unmarshal(data, &envelope); err == nil {
		apiErr.Type = envelope.Error.Type
		apiErr.Message = envelope.Error.Message
		apiErr.TraceID = envelope.TraceID
	}
	return apiErr
}
