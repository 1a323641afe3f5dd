package transports

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// HTTPTransport implements Transport over the keywatch HTTP API.
type HTTPTransport struct {
	baseURL func() string
	client  *http.Client
}

// NewHTTPTransport returns a transport resolving the server URL with baseURL.
func NewHTTPTransport(baseURL func() string) *HTTPTransport {
	return &HTTPTransport{baseURL: baseURL, client: http.DefaultClient}
}

// apiError is the server's error body.
type apiError struct {
	Error string `json:"error"`
}

func (t *HTTPTransport) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(t.baseURL(), "/")+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var ae apiError
		_ = json.NewDecoder(resp.Body).Decode(&ae)
		if ae.Error == "" {
			ae.Error = resp.Status
		}
		return fmt.Errorf("%s %s: %s", method, path, ae.Error)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ttlMillis rounds a positive TTL up to whole milliseconds so that a
// sub-millisecond TTL still expires instead of becoming "no expiration".
func ttlMillis(ttl time.Duration) int64 {
	ms := ttl.Milliseconds()
	if ttl > 0 && ttl%time.Millisecond != 0 {
		ms++
	}
	return ms
}

// Watch registers a key.
func (t *HTTPTransport) Watch(ctx context.Context, req WatchRequest) (bool, error) {
	body := map[string]any{"key": req.Key, "value": req.Value, "ttlMs": ttlMillis(req.TTL)}
	var out struct {
		Indexed bool `json:"indexed"`
	}
	if err := t.do(ctx, http.MethodPost, "/v1/watch", body, &out); err != nil {
		return false, err
	}
	return out.Indexed, nil
}

// Pending lists up to limit index entries.
func (t *HTTPTransport) Pending(ctx context.Context, limit int) (string, []Entry, error) {
	path := "/v1/pending"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Index   string  `json:"index"`
		Entries []Entry `json:"entries"`
	}
	if err := t.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return "", nil, err
	}
	return out.Index, out.Entries, nil
}

// Compensate runs one pass on the server.
func (t *HTTPTransport) Compensate(ctx context.Context) (PassResult, error) {
	var out PassResult
	err := t.do(ctx, http.MethodPost, "/v1/compensate", nil, &out)
	return out, err
}

// Metrics scrapes /metrics and returns the parsed families by name.
func (t *HTTPTransport) Metrics(ctx context.Context) (map[string]*dto.MetricFamily, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(t.baseURL(), "/")+"/metrics", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET /metrics: %s", resp.Status)
	}
	var parser expfmt.TextParser
	fams, err := parser.TextToMetricFamilies(resp.Body)
	if err != nil && len(fams) == 0 {
		return nil, fmt.Errorf("parse metrics: %w", err)
	}
	return fams, nil
}

// Events streams removal events until ctx is cancelled or limit events were
// received (0 = no limit).
func (t *HTTPTransport) Events(ctx context.Context, limit int, onEvent func(RemovalEvent) error) error {
	u, err := url.Parse(strings.TrimRight(t.baseURL(), "/") + "/v1/events")
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("connect %s: %w", u, err)
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	for n := 0; limit <= 0 || n < limit; n++ {
		var msg struct {
			Event string       `json:"event"`
			Data  RemovalEvent `json:"data"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		if err := onEvent(msg.Data); err != nil {
			return err
		}
	}
	return nil
}
