package config

import (
	"testing"
	"time"
)

func TestBuildEndpoints_Normalize(t *testing.T) {
	tests := []struct {
		name         string
		base         string
		wantBase     string
		wantRealtime string
	}{
		{name: "https host", base: "https://api.example.com", wantBase: "https://api.example.com", wantRealtime: "wss://api.example.com/ws/connect"},
		{name: "trailing slash", base: "https://api.example.com/", wantBase: "https://api.example.com", wantRealtime: "wss://api.example.com/ws/connect"},
		{name: "path prefix kept", base: "https://example.com/v2/", wantBase: "https://example.com/v2", wantRealtime: "wss://example.com/ws/connect"},
		{name: "plain http uses ws", base: "http://127.0.0.1:8080", wantBase: "http://127.0.0.1:8080", wantRealtime: "ws://127.0.0.1:8080/ws/connect"},
		{name: "query fragment dropped", base: "HTTPS://api.example.com/?x=1#y", wantBase: "https://api.example.com", wantRealtime: "wss://api.example.com/ws/connect"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			endpoints, err := BuildEndpoints(tt.base)
			if err != nil {
				t.Fatalf("BuildEndpoints failed: %v", err)
			}
			if endpoints.BaseURL != tt.wantBase {
				t.Fatalf("BaseURL = %q, want %q", endpoints.BaseURL, tt.wantBase)
			}
			if endpoints.RegisterURL != tt.wantBase+"/auth/init" {
				t.Fatalf("RegisterURL = %q", endpoints.RegisterURL)
			}
			if endpoints.SignInURL != tt.wantBase+"/auth/signin" {
				t.Fatalf("SignInURL = %q", endpoints.SignInURL)
			}
			if endpoints.RefreshURL != tt.wantBase+"/auth/refreshtoken" {
				t.Fatalf("RefreshURL = %q", endpoints.RefreshURL)
			}
			if endpoints.RealtimeURL != tt.wantRealtime {
				t.Fatalf("RealtimeURL = %q, want %q", endpoints.RealtimeURL, tt.wantRealtime)
			}
		})
	}
}

func TestBuildEndpoints_InvalidScheme(t *testing.T) {
	tests := []string{
		"ftp://example.com",
		"ws://example.com",
		"file:///tmp/cloudlink",
		"api.example.com",
	}
	for _, base := range tests {
		t.Run(base, func(t *testing.T) {
			if _, err := BuildEndpoints(base); err == nil {
				t.Fatalf("expected error for %q", base)
			}
		})
	}
}

func TestAPIEndpoints_ThingURLEscapesSegments(t *testing.T) {
	endpoints, err := BuildEndpoints("https://api.example.com")
	if err != nil {
		t.Fatalf("BuildEndpoints failed: %v", err)
	}
	if got, want := endpoints.ThingURL("SN 1", "command", "power"), "https://api.example.com/things/SN%201/command/power"; got != want {
		t.Fatalf("ThingURL = %q, want %q", got, want)
	}
	if got, want := endpoints.ThingURL("SN1", "dashboard"), "https://api.example.com/things/SN1/dashboard"; got != want {
		t.Fatalf("ThingURL = %q, want %q", got, want)
	}
	if got, want := endpoints.ResourceURL("/things/SN1/settings"), "https://api.example.com/things/SN1/settings"; got != want {
		t.Fatalf("ResourceURL = %q, want %q", got, want)
	}
	if got, want := endpoints.ResourceURL("https://other.example.com/x"), "https://other.example.com/x"; got != want {
		t.Fatalf("ResourceURL = %q, want %q", got, want)
	}
}

func TestParseOptions_DefaultsAndEnvironment(t *testing.T) {
	t.Setenv("CLOUDLINK_USERNAME", "env-user")
	t.Setenv("CLOUDLINK_COMMAND_TIMEOUT", "3s")

	opts, err := ParseOptions([]string{"--base-url", "https://api.example.com", "--device", "SN1", "--key-store", "keyring"})
	if err != nil {
		t.Fatalf("ParseOptions() error = %v", err)
	}
	if opts.BaseURL != "https://api.example.com" || opts.DeviceID != "SN1" {
		t.Fatalf("flags not applied: %#v", opts)
	}
	if opts.Username != "env-user" {
		t.Fatalf("Username = %q, want env-user", opts.Username)
	}
	if opts.HTTPTimeout != 10*time.Second {
		t.Fatalf("HTTPTimeout = %s, want 10s", opts.HTTPTimeout)
	}
	if opts.CommandTimeout != 3*time.Second {
		t.Fatalf("CommandTimeout = %s, want 3s", opts.CommandTimeout)
	}
	if opts.KeyStore != KeyStoreKeyring {
		t.Fatalf("KeyStore = %q", opts.KeyStore)
	}
}

func TestParseOptions_RejectsUnknownKeyStore(t *testing.T) {
	if _, err := ParseOptions([]string{"--key-store", "vault"}); err == nil {
		t.Fatal("expected error for unknown key store")
	}
}

func TestValidateRequired(t *testing.T) {
	valid := Options{BaseURL: "https://api.example.com", Username: "u", Password: "p", DeviceID: "SN1"}
	if err := ValidateRequired(valid); err != nil {
		t.Fatalf("ValidateRequired(valid) error = %v", err)
	}

	missing := []Options{
		{Username: "u", Password: "p", DeviceID: "SN1"},
		{BaseURL: "https://api.example.com", Password: "p", DeviceID: "SN1"},
		{BaseURL: "https://api.example.com", Username: "u", DeviceID: "SN1"},
		{BaseURL: "https://api.example.com", Username: "u", Password: "p"},
		{BaseURL: "https://api.example.com", Username: "u", Password: "p", DeviceID: "SN1", HTTPTimeout: -time.Second},
	}
	for i, opts := range missing {
		if err := ValidateRequired(opts); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}
