package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"cloudlink/internal/dashboard"
	"cloudlink/internal/logging"
)

// TokenSource hands out bearer tokens and forgets them when the server
// rejects one.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
	Invalidate()
}

type API struct {
	client *Client
	tokens TokenSource
}

func (c *Client) Authorized(tokens TokenSource) *API {
	if tokens == nil {
		panic("client.Authorized: tokens must not be nil")
	}
	return &API{client: c, tokens: tokens}
}

// Do sends an authenticated JSON request. path is relative to the base URL
// unless absolute. out may be nil.
func (a *API) Do(ctx context.Context, method, path string, body, out any) error {
	token, err := a.tokens.AccessToken(ctx)
	if err != nil {
		return err
	}
	headers, err := a.client.signer.RequestHeaders()
	if err != nil {
		return fmt.Errorf("build request headers: %w", err)
	}
	headers.Set("Authorization", "Bearer "+token)

	label := method + " " + path
	data, err := a.client.send(ctx, request{
		method:  method,
		url:     a.client.endpoints.ResourceURL(path),
		headers: headers,
		body:    body,
		label:   label,
	})
	if err != nil {
		if errors.Is(err, ErrAuthenticationFailed) {
			a.tokens.Invalidate()
		}
		return err
	}
	return decodeJSON(label, data, out)
}

// PostCommand issues a device command and returns the server's first status
// entry, whose ID is the acknowledgement id to wait for.
func (a *API) PostCommand(ctx context.Context, deviceID, name string, payload any) (dashboard.CommandStatus, error) {
	if payload == nil {
		payload = struct{}{}
	}
	var statuses []dashboard.CommandStatus
	if err := a.Do(ctx, http.MethodPost, a.client.endpoints.ThingURL(deviceID, "command", name), payload, &statuses); err != nil {
		return dashboard.CommandStatus{}, err
	}
	if len(statuses) == 0 {
		return dashboard.CommandStatus{}, fmt.Errorf("%w: command %s returned no status", ErrRequestFailed, name)
	}
	status := statuses[0]
	a.client.logger.Debug("command accepted",
		logging.Field("device", deviceID),
		logging.Field("command", name),
		logging.Field("ack_id", status.ID),
		logging.Field("status", status.Status),
	)
	return status, nil
}

func (a *API) Dashboard(ctx context.Context, deviceID string) (dashboard.Dashboard, error) {
	var raw json.RawMessage
	if err := a.Do(ctx, http.MethodGet, a.client.endpoints.ThingURL(deviceID, "dashboard"), nil, &raw); err != nil {
		return dashboard.Dashboard{}, err
	}
	parsed, err := dashboard.Parse(raw)
	if err != nil {
		return dashboard.Dashboard{}, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	return parsed, nil
}
