package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrAPIUnavailable indicates the daemon API could not be reached.
var ErrAPIUnavailable = errors.New("daemon API unavailable")

// Client talks to a running daemon over its HTTP control endpoint.
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
}

// NewClient builds a client for bind, the daemon's api_bind address.
// Wildcard hosts are dialled on loopback.
func NewClient(bind, token string) (*Client, error) {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil, ErrAPIUnavailable
	}
	if !strings.Contains(bind, "://") {
		bind = "http://" + bind
	}
	base, err := url.Parse(bind)
	if err != nil {
		return nil, fmt.Errorf("parse api bind: %w", err)
	}
	host, port, err := net.SplitHostPort(base.Host)
	if err == nil && (host == "" || host == "0.0.0.0" || host == "::") {
		base.Host = net.JoinHostPort("127.0.0.1", port)
	}
	base.Path = ""
	base.RawQuery = ""
	base.Fragment = ""

	return &Client{
		base:  base,
		token: strings.TrimSpace(token),
		// Snapshots wait on the capture command, so only dialing is bounded.
		http: &http.Client{Transport: &http.Transport{
			DialContext: (&net.Dialer{Timeout: 2 * time.Second}).DialContext,
		}},
	}, nil
}

// Status fetches the daemon status document.
func (c *Client) Status(ctx context.Context) (*DaemonStatus, error) {
	resp, err := c.get(ctx, PathStatus, "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var payload DaemonStatus
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &payload, nil
}

// Trigger requests one of the background trigger paths and returns the
// acknowledgement text.
func (c *Client) Trigger(ctx context.Context, path string) (string, error) {
	resp, err := c.get(ctx, path, "text/html")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read acknowledgement: %w", err)
	}
	return string(body), nil
}

// Snapshot captures an image on the daemon host and returns its bytes and
// content type. Nothing is staged or uploaded.
func (c *Client) Snapshot(ctx context.Context) ([]byte, string, error) {
	resp, err := c.get(ctx, PathSnapshot, "image/*")
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read snapshot: %w", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func (c *Client) get(ctx context.Context, path, accept string) (*http.Response, error) {
	if c == nil {
		return nil, ErrAPIUnavailable
	}
	endpoint := c.base.ResolveReference(&url.URL{Path: path})
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", accept)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		msg := readErrorMessage(resp.Body)
		resp.Body.Close()
		if msg != "" {
			return nil, fmt.Errorf("api %s returned status %d: %s", path, resp.StatusCode, msg)
		}
		return nil, fmt.Errorf("api %s returned status %d", path, resp.StatusCode)
	}
	return resp, nil
}

func readErrorMessage(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return ""
	}
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(data))
}

// IsAPIUnavailable reports whether err means the daemon is not listening.
func IsAPIUnavailable(err error) bool {
	if err == nil {
		return false
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		err = urlErr.Err
	}
	var opErr *net.OpError
	return errors.Is(err, ErrAPIUnavailable) || errors.As(err, &opErr)
}
