package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	flags "github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
)

const (
	KeyStoreFile    = "file"
	KeyStoreKeyring = "keyring"
)

type Options struct {
	BaseURL        string        `long:"base-url" env:"CLOUDLINK_BASE_URL" description:"Vendor API base URL (e.g. https://api.example.com)"`
	Username       string        `long:"username" env:"CLOUDLINK_USERNAME" description:"Account username"`
	Password       string        `long:"password" env:"CLOUDLINK_PASSWORD" description:"Account password (never persisted)"`
	DeviceID       string        `long:"device" env:"CLOUDLINK_DEVICE" description:"Device serial number to subscribe to"`
	KeyFile        string        `long:"key-file" env:"CLOUDLINK_KEY_FILE" description:"Installation key file (file key store)"`
	KeyStore       string        `long:"key-store" env:"CLOUDLINK_KEY_STORE" choice:"file" choice:"keyring" default:"file" description:"Where the installation key is kept"`
	HTTPTimeout    time.Duration `long:"http-timeout" env:"CLOUDLINK_HTTP_TIMEOUT" default:"10s" description:"Timeout for each REST call"`
	CommandTimeout time.Duration `long:"command-timeout" env:"CLOUDLINK_COMMAND_TIMEOUT" default:"10s" description:"How long to wait for a command confirmation"`
	NoReconnect    bool          `long:"no-reconnect" env:"CLOUDLINK_NO_RECONNECT" description:"Exit instead of reconnecting when the realtime channel drops"`
	Command        string        `long:"command" description:"Command to execute once the realtime channel is up"`
	Payload        string        `long:"payload" default:"{}" description:"JSON body for --command"`
	LogToFile      bool          `long:"log-to-file" env:"CLOUDLINK_LOG_TO_FILE" description:"Persist logs as JSONL under the user cache directory"`
	Debug          bool          `long:"debug" env:"CLOUDLINK_DEBUG" description:"Enable verbose debug output"`
}

type APIEndpoints struct {
	BaseURL     string
	RegisterURL string
	SignInURL   string
	RefreshURL  string
	RealtimeURL string
}

const (
	registerPath = "/auth/init"
	signInPath   = "/auth/signin"
	refreshPath  = "/auth/refreshtoken"
	thingsPath   = "/things"
	realtimePath = "/ws/connect"
)

func ParseOptions(args []string) (Options, error) {
	_ = godotenv.Load()
	opts := Options{}
	if _, err := flags.NewParser(&opts, flags.Default).ParseArgs(args); err != nil {
		return Options{}, err
	}
	return opts, nil
}

func ValidateRequired(opts Options) error {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return errors.New("base URL is required")
	}
	if strings.TrimSpace(opts.Username) == "" {
		return errors.New("username is required")
	}
	if opts.Password == "" {
		return errors.New("password is required")
	}
	if strings.TrimSpace(opts.DeviceID) == "" {
		return errors.New("device is required")
	}
	if opts.HTTPTimeout < 0 || opts.CommandTimeout < 0 {
		return errors.New("timeouts must not be negative")
	}
	return nil
}

func BuildEndpoints(rawBaseURL string) (APIEndpoints, error) {
	parsed, err := parseBaseURL(rawBaseURL)
	if err != nil {
		return APIEndpoints{}, err
	}
	base := strings.TrimRight(parsed.String(), "/")

	realtime := url.URL{Scheme: "wss", Host: parsed.Host, Path: realtimePath}
	if strings.EqualFold(parsed.Scheme, "http") {
		realtime.Scheme = "ws"
	}

	return APIEndpoints{
		BaseURL:     base,
		RegisterURL: base + registerPath,
		SignInURL:   base + signInPath,
		RefreshURL:  base + refreshPath,
		RealtimeURL: realtime.String(),
	}, nil
}

func (e APIEndpoints) ThingURL(deviceID string, segments ...string) string {
	var b strings.Builder
	b.WriteString(e.BaseURL)
	b.WriteString(thingsPath)
	b.WriteByte('/')
	b.WriteString(url.PathEscape(deviceID))
	for _, segment := range segments {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(segment))
	}
	return b.String()
}

// ResourceURL resolves an API-relative path such as "/things/1/settings".
func (e APIEndpoints) ResourceURL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return e.BaseURL + "/" + strings.TrimLeft(path, "/")
}

func parseBaseURL(raw string) (*url.URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, errors.New("expected absolute URL like https://api.example.com")
	}
	if !strings.EqualFold(parsed.Scheme, "http") && !strings.EqualFold(parsed.Scheme, "https") {
		return nil, fmt.Errorf("base URL scheme must be http or https, got %q", parsed.Scheme)
	}
	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.RawPath = ""
	parsed.RawQuery = ""
	parsed.Fragment = ""
	parsed.User = nil
	return parsed, nil
}
