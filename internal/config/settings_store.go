package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// Settings is the subset of Options remembered between runs. The password is
// deliberately absent.
type Settings struct {
	BaseURL  string `json:"base_url"`
	Username string `json:"username"`
	DeviceID string `json:"device_id"`
	KeyFile  string `json:"key_file,omitempty"`
	KeyStore string `json:"key_store,omitempty"`
	Debug    bool   `json:"debug"`
}

func SettingsPath() (string, error) {
	root, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, "cloudlink", "settings.json"), nil
}

func LoadSettings() (Settings, error) {
	path, err := SettingsPath()
	if err != nil {
		return Settings{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, err
	}
	var settings Settings
	if err := json.Unmarshal(data, &settings); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

func SaveSettings(settings Settings) error {
	path, err := SettingsPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	payload, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, payload, 0o600)
}

func MergeOptionsWithSettings(cli Options, saved Settings) Options {
	if strings.TrimSpace(cli.BaseURL) == "" {
		cli.BaseURL = saved.BaseURL
	}
	if strings.TrimSpace(cli.Username) == "" {
		cli.Username = saved.Username
	}
	if strings.TrimSpace(cli.DeviceID) == "" {
		cli.DeviceID = saved.DeviceID
	}
	if strings.TrimSpace(cli.KeyFile) == "" {
		cli.KeyFile = saved.KeyFile
	}
	if saved.KeyStore != "" && (cli.KeyStore == "" || cli.KeyStore == KeyStoreFile) {
		cli.KeyStore = saved.KeyStore
	}
	if !cli.Debug {
		cli.Debug = saved.Debug
	}
	return cli
}

func SettingsFromOptions(opts Options) Settings {
	return Settings{
		BaseURL:  strings.TrimSpace(opts.BaseURL),
		Username: strings.TrimSpace(opts.Username),
		DeviceID: strings.TrimSpace(opts.DeviceID),
		KeyFile:  strings.TrimSpace(opts.KeyFile),
		KeyStore: opts.KeyStore,
		Debug:    opts.Debug,
	}
}
