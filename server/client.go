package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tkrehbiel/activitycore/server/activity"
	"github.com/tkrehbiel/activitycore/server/telemetry"
)

const (
	userAgent = "activitycore/1.0"
	// biggest document we'll read from a remote server
	maxBodyBytes = 1 << 20
)

// Client makes (usually signed) requests to other servers.
// Callers close every response body they get back.
type Client struct {
	http         *http.Client
	sendUnsigned bool
}

func NewClient(timeout time.Duration, sendUnsigned bool) *Client {
	return &Client{
		http:         &http.Client{Timeout: timeout},
		sendUnsigned: sendUnsigned,
	}
}

func (c *Client) do(r *http.Request, creds *Credentials) (*http.Response, error) {
	r.Header.Set("User-Agent", userAgent)
	if creds != nil && !c.sendUnsigned {
		if err := sign(creds.Key, creds.KeyID, r); err != nil {
			return nil, fmt.Errorf("signing request to %s: %w", r.URL, err)
		}
	}
	resp, err := c.http.Do(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrDelivery, r.Method, r.URL, err)
	}
	return resp, nil
}

// Get fetches an ActivityPub document
func (c *Client) Get(ctx context.Context, creds *Credentials, uri string) (*http.Response, error) {
	r, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	r.Header.Set("Accept", fmt.Sprintf("%s, %s", activity.ContentType, activity.ContentTypeLD))
	telemetry.Increment("remote_fetches", 1)
	return c.do(r, creds)
}

// GetPage fetches an HTML page, unsigned
func (c *Client) GetPage(ctx context.Context, uri string) (*http.Response, error) {
	r, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	r.Header.Set("Accept", "text/html")
	return c.do(r, nil)
}

// PostInbox delivers an activity to an inbox
func (c *Client) PostInbox(ctx context.Context, creds *Credentials, inbox string, act *activity.Activity) (*http.Response, error) {
	b, err := json.Marshal(act)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", act.ID, err)
	}
	r, err := http.NewRequestWithContext(ctx, http.MethodPost, inbox, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	r.Header.Set("Content-Type", activity.ContentTypeLD)
	telemetry.Increment("deliveries", 1)
	return c.do(r, creds)
}

// CheckAnswer turns a non-2xx response into a DeliveryError.
func CheckAnswer(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	uri := ""
	if resp.Request != nil {
		uri = resp.Request.URL.String()
	}
	return &DeliveryError{URI: uri, Status: resp.StatusCode}
}

// fetch reads a whole ActivityPub document
func (c *Client) fetch(ctx context.Context, creds *Credentials, uri string) ([]byte, error) {
	resp, err := c.Get(ctx, creds, uri)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := CheckAnswer(resp); err != nil {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, err
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
}

// deliver posts an activity and only reports whether the inbox took it
func (c *Client) deliver(ctx context.Context, creds *Credentials, inbox string, act *activity.Activity) error {
	resp, err := c.PostInbox(ctx, creds, inbox, act)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
	return CheckAnswer(resp)
}
