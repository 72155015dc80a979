package webfinger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client looks up handles on remote servers.
type Client struct {
	HTTP   *http.Client
	Scheme string // https unless testing
}

func NewClient(timeout time.Duration) *Client {
	return &Client{
		HTTP:   &http.Client{Timeout: timeout},
		Scheme: "https",
	}
}

// Lookup fetches the resource descriptor for a user@host handle from host.
func (c *Client) Lookup(ctx context.Context, handle string) (*Resource, error) {
	user, host, ok := SplitHandle(handle)
	if !ok {
		return nil, fmt.Errorf("[%s] is not a webfinger handle", handle)
	}
	scheme := c.Scheme
	if scheme == "" {
		scheme = "https"
	}
	u := url.URL{
		Scheme:   scheme,
		Host:     host,
		Path:     Path,
		RawQuery: url.Values{"resource": {fmt.Sprintf("acct:%s@%s", user, host)}}.Encode(),
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", ContentType)

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webfinger %s: %w", u.String(), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("webfinger %s: status %d", u.String(), resp.StatusCode)
	}

	var res Resource
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&res); err != nil {
		return nil, fmt.Errorf("webfinger %s: %w", u.String(), err)
	}
	return &res, nil
}
