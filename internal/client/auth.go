package client

import (
	"context"
	"fmt"
	"net/http"

	"cloudlink/internal/logging"
)

type signInRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	Username     string `json:"username"`
	RefreshToken string `json:"refreshToken"`
}

// Register announces a freshly generated installation key to the vendor.
func (c *Client) Register(ctx context.Context) error {
	headers, err := c.signer.RegistrationHeaders()
	if err != nil {
		return fmt.Errorf("build registration headers: %w", err)
	}
	body, err := c.signer.RegistrationBody()
	if err != nil {
		return fmt.Errorf("build registration body: %w", err)
	}
	if _, err := c.send(ctx, request{
		method:  http.MethodPost,
		url:     c.endpoints.RegisterURL,
		headers: headers,
		body:    body,
		label:   "registration",
	}); err != nil {
		return err
	}
	c.logger.Info("installation registered", logging.Field("installation_id", c.signer.InstallationID()))
	return nil
}

func (c *Client) SignIn(ctx context.Context, username, password string) (Grant, error) {
	return c.grant(ctx, c.endpoints.SignInURL, "sign-in", signInRequest{Username: username, Password: password})
}

func (c *Client) Refresh(ctx context.Context, username, refreshToken string) (Grant, error) {
	return c.grant(ctx, c.endpoints.RefreshURL, "token refresh", refreshRequest{Username: username, RefreshToken: refreshToken})
}

func (c *Client) grant(ctx context.Context, url, label string, body any) (Grant, error) {
	headers, err := c.signer.RequestHeaders()
	if err != nil {
		return Grant{}, fmt.Errorf("build %s headers: %w", label, err)
	}
	data, err := c.send(ctx, request{
		method:  http.MethodPost,
		url:     url,
		headers: headers,
		body:    body,
		label:   label,
	})
	if err != nil {
		return Grant{}, err
	}
	grant := Grant{}
	if err := decodeJSON(label, data, &grant); err != nil {
		return Grant{}, err
	}
	if grant.AccessToken == "" {
		return Grant{}, fmt.Errorf("%w: %s response has no access token", ErrRequestFailed, label)
	}
	return grant, nil
}
