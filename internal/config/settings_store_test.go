package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestSettingsSaveLoadAndPath(t *testing.T) {
	root := t.TempDir()
	if runtime.GOOS == "windows" {
		t.Setenv("AppData", root)
	} else {
		t.Setenv("XDG_CONFIG_HOME", root)
	}

	path, err := SettingsPath()
	if err != nil {
		t.Fatalf("SettingsPath() error = %v", err)
	}
	wantPath := filepath.Join(root, "cloudlink", "settings.json")
	if path != wantPath {
		t.Fatalf("SettingsPath() = %q, want %q", path, wantPath)
	}

	in := Settings{
		BaseURL:  "https://api.example.com",
		Username: "alice",
		DeviceID: "SN1",
		KeyStore: KeyStoreKeyring,
		Debug:    true,
	}
	if err := SaveSettings(in); err != nil {
		t.Fatalf("SaveSettings() error = %v", err)
	}
	out, err := LoadSettings()
	if err != nil {
		t.Fatalf("LoadSettings() error = %v", err)
	}
	if out != in {
		t.Fatalf("loaded settings = %#v, want %#v", out, in)
	}
}

func TestSettingsFromOptions_NeverStoresPassword(t *testing.T) {
	root := t.TempDir()
	if runtime.GOOS == "windows" {
		t.Setenv("AppData", root)
	} else {
		t.Setenv("XDG_CONFIG_HOME", root)
	}

	settings := SettingsFromOptions(Options{
		BaseURL:  " https://api.example.com ",
		Username: "alice",
		Password: "hunter2",
		DeviceID: "SN1",
	})
	if settings.BaseURL != "https://api.example.com" {
		t.Fatalf("BaseURL = %q", settings.BaseURL)
	}
	if err := SaveSettings(settings); err != nil {
		t.Fatalf("SaveSettings() error = %v", err)
	}
	path, err := SettingsPath()
	if err != nil {
		t.Fatalf("SettingsPath() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if strings.Contains(string(data), "hunter2") {
		t.Fatalf("settings file leaked password: %s", data)
	}
}

func TestMergeOptionsWithSettings_PrefersCLI(t *testing.T) {
	merged := MergeOptionsWithSettings(
		Options{
			BaseURL:  "https://cli.example.com",
			Username: "",
			DeviceID: "",
			KeyStore: KeyStoreFile,
		},
		Settings{
			BaseURL:  "https://saved.example.com",
			Username: "saved-user",
			DeviceID: "SN-saved",
			KeyStore: KeyStoreKeyring,
			Debug:    true,
		},
	)

	if merged.BaseURL != "https://cli.example.com" {
		t.Fatalf("BaseURL = %q", merged.BaseURL)
	}
	if merged.Username != "saved-user" || merged.DeviceID != "SN-saved" {
		t.Fatalf("saved fields not merged: %#v", merged)
	}
	if merged.KeyStore != KeyStoreKeyring {
		t.Fatalf("KeyStore = %q", merged.KeyStore)
	}
	if !merged.Debug {
		t.Fatal("expected Debug from settings")
	}
}
