package runtime

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloudlink/internal/app"
	"cloudlink/internal/auth"
	"cloudlink/internal/client"
	"cloudlink/internal/command"
	"cloudlink/internal/config"
	"cloudlink/internal/keys"
	"cloudlink/internal/logging"
	"cloudlink/internal/realtime"
	"cloudlink/internal/signing"
)

const (
	defaultHTTPTimeout = 10 * time.Second
	keyringAccount     = "installation"
)

type Service interface {
	RunContext(ctx context.Context) error
	Execute(ctx context.Context, name string, payload any) (bool, error)
}

func NewService(ctx context.Context, opts config.Options, logger *logging.Logger) (Service, error) {
	link, err := NewServiceWithHooks(ctx, opts, logger, StartHooks{})
	if err != nil {
		return nil, err
	}
	return link, nil
}

// NewServiceWithHooks loads (or creates) the installation key and wires the
// REST client, token manager, realtime session and dispatcher into a Link.
func NewServiceWithHooks(ctx context.Context, opts config.Options, logger *logging.Logger, hooks StartHooks) (*app.Link, error) {
	if logger == nil {
		panic("runtime.NewServiceWithHooks: logger must not be nil")
	}
	if err := config.ValidateRequired(opts); err != nil {
		return nil, err
	}

	endpoints, err := config.BuildEndpoints(opts.BaseURL)
	if err != nil {
		return nil, err
	}
	logger.Debug("constructed API endpoints",
		logging.Field("base_url", endpoints.BaseURL),
		logging.Field("register_url", endpoints.RegisterURL),
		logging.Field("signin_url", endpoints.SignInURL),
		logging.Field("refresh_url", endpoints.RefreshURL),
		logging.Field("realtime_url", endpoints.RealtimeURL),
	)

	store, err := keyStore(opts)
	if err != nil {
		return nil, err
	}
	material, created, err := store.LoadOrCreate(ctx)
	if err != nil {
		return nil, fmt.Errorf("load installation key: %w", err)
	}
	if created {
		logger.Info("generated new installation key", logging.Field("installation_id", material.InstallationID))
	} else {
		logger.Debug("loaded installation key", logging.Field("installation_id", material.InstallationID))
	}

	signer, err := signing.NewSigner(material)
	if err != nil {
		return nil, err
	}

	timeout := opts.HTTPTimeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	httpClient := &http.Client{Timeout: timeout}

	rest := client.New(httpClient, endpoints, signer, logger)
	tokens := auth.NewManager(rest, auth.Credentials{
		Username: strings.TrimSpace(opts.Username),
		Password: opts.Password,
	}, logger)
	api := rest.Authorized(tokens)

	session := realtime.NewSession(realtime.Config{
		URL:      endpoints.RealtimeURL,
		DeviceID: strings.TrimSpace(opts.DeviceID),
	}, tokens, signer, logger)
	session.SetAutoReconnect(!opts.NoReconnect)

	dispatcher := command.NewDispatcher(api, session, opts.CommandTimeout, logger)

	return app.New(app.Options{
		DeviceID: strings.TrimSpace(opts.DeviceID),
		Register: created,
	}, app.Deps{
		Registrar: rest,
		Tokens:    tokens,
		API:       api,
		Session:   session,
		Commands:  dispatcher,
	}, logger, app.Callbacks{
		OnStatusChange: hooks.OnStatus,
		OnUpdate:       hooks.OnUpdate,
	}), nil
}

func keyStore(opts config.Options) (keys.Store, error) {
	switch strings.ToLower(strings.TrimSpace(opts.KeyStore)) {
	case config.KeyStoreKeyring:
		return keys.KeyringStore{Service: keys.KeyringService, Account: keyringAccount}, nil
	case "", config.KeyStoreFile:
		path := strings.TrimSpace(opts.KeyFile)
		if path == "" {
			var err error
			if path, err = keys.DefaultKeyPath(); err != nil {
				return nil, fmt.Errorf("resolve key file path: %w", err)
			}
		}
		return keys.FileStore{Path: path}, nil
	default:
		return nil, fmt.Errorf("unknown key store %q", opts.KeyStore)
	}
}
