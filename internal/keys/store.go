package keys

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/zalando/go-keyring"
)

const (
	KeyringService = "cloudlink"
	lockRetryDelay = 50 * time.Millisecond
	keyFileMode    = 0o600
	keyDirMode     = 0o700
)

// Store loads the installation identity, creating and persisting a fresh one
// on first use. created reports whether the caller must register it.
type Store interface {
	LoadOrCreate(ctx context.Context) (m *Material, created bool, err error)
}

type FileStore struct {
	Path string
}

func DefaultKeyPath() (string, error) {
	root, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, "cloudlink", "installation.yaml"), nil
}

func (s FileStore) LoadOrCreate(ctx context.Context) (*Material, bool, error) {
	if s.Path == "" {
		return nil, false, errors.New("key file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), keyDirMode); err != nil {
		return nil, false, fmt.Errorf("create key directory: %w", err)
	}

	// Two processes starting together must not both generate an identity.
	lock := flock.New(s.Path + ".lock")
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, false, fmt.Errorf("lock key file: %w", err)
	}
	if !locked {
		return nil, false, errors.New("lock key file: not acquired")
	}
	defer func() {
		_ = lock.Unlock()
	}()

	data, err := os.ReadFile(s.Path)
	if err == nil {
		m, decodeErr := Decode(data)
		if decodeErr != nil {
			return nil, false, fmt.Errorf("load %s: %w", s.Path, decodeErr)
		}
		return m, false, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, false, fmt.Errorf("read key file: %w", err)
	}

	m, err := Generate()
	if err != nil {
		return nil, false, err
	}
	encoded, err := Encode(m)
	if err != nil {
		return nil, false, err
	}
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, encoded, keyFileMode); err != nil {
		return nil, false, fmt.Errorf("write key file: %w", err)
	}
	if err := os.Rename(tmp, s.Path); err != nil {
		_ = os.Remove(tmp)
		return nil, false, fmt.Errorf("write key file: %w", err)
	}
	return m, true, nil
}

type KeyringStore struct {
	Service string
	Account string
}

func (s KeyringStore) LoadOrCreate(_ context.Context) (*Material, bool, error) {
	service := s.Service
	if service == "" {
		service = KeyringService
	}
	if s.Account == "" {
		return nil, false, errors.New("keyring account is required")
	}

	stored, err := keyring.Get(service, s.Account)
	if err == nil {
		m, decodeErr := Decode([]byte(stored))
		if decodeErr != nil {
			return nil, false, fmt.Errorf("load keyring entry: %w", decodeErr)
		}
		return m, false, nil
	}
	if !errors.Is(err, keyring.ErrNotFound) {
		return nil, false, fmt.Errorf("read keyring entry: %w", err)
	}

	m, err := Generate()
	if err != nil {
		return nil, false, err
	}
	encoded, err := Encode(m)
	if err != nil {
		return nil, false, err
	}
	if err := keyring.Set(service, s.Account, string(encoded)); err != nil {
		return nil, false, fmt.Errorf("write keyring entry: %w", err)
	}
	return m, true, nil
}
