package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"cloudlink/internal/config"
	"cloudlink/internal/logging"
	"cloudlink/internal/signing"
)

const maxResponseBytes = 1 << 20

// Grant is what the vendor returns from sign-in and refresh.
type Grant struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type Client struct {
	http      *http.Client
	endpoints config.APIEndpoints
	signer    *signing.Signer
	logger    *logging.Logger
}

func New(httpClient *http.Client, endpoints config.APIEndpoints, signer *signing.Signer, logger *logging.Logger) *Client {
	if logger == nil {
		panic("client.New: logger must not be nil")
	}
	if signer == nil {
		panic("client.New: signer must not be nil")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{http: httpClient, endpoints: endpoints, signer: signer, logger: logger}
}

type request struct {
	method  string
	url     string
	headers http.Header
	body    any
	label   string
}

// send performs one HTTP exchange and returns the (size-limited) response body
// for 2xx responses. Non-2xx statuses become *HTTPStatusError.
func (c *Client) send(ctx context.Context, r request) ([]byte, error) {
	var reader io.Reader
	if r.body != nil {
		payload, err := json.Marshal(r.body)
		if err != nil {
			return nil, fmt.Errorf("encode %s body: %w", r.label, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, r.url, reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	for key, values := range r.headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s %s: %v", ErrRequestFailed, r.method, r.url, err)
	}
	defer resp.Body.Close()
	c.logger.Debugf("%s %s -> %s", r.method, r.url, resp.Status)

	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		c.logger.Warn(r.label+" rejected",
			logging.Field("status", resp.Status),
			logging.Field("response", logging.FormatHTTPPayload(data)),
		)
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode, Status: resp.Status, Message: errorMessage(data)}
	}
	return data, nil
}

func decodeJSON(label string, data []byte, out any) error {
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode %s response: %v", ErrRequestFailed, label, err)
	}
	return nil
}
