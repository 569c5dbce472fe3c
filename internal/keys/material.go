package keys

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

const SecretSize = 32

const secretInfo = "cloudlink installation secret"

var ErrInvalidKeyMaterial = errors.New("invalid key material")

// Material is the per-installation identity: an ECDSA P-256 key pair and the
// 32-byte secret shared with the vendor at registration. It is never mutated
// after Generate or Decode.
type Material struct {
	InstallationID string
	Secret         []byte
	PrivateKey     *ecdsa.PrivateKey
}

func Generate() (*Material, error) {
	return generate(rand.Reader, uuid.NewString())
}

func generate(random io.Reader, installationID string) (*Material, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), random)
	if err != nil {
		return nil, fmt.Errorf("generate installation key: %w", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("encode installation key: %w", err)
	}
	secret := make([]byte, SecretSize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, der, []byte(installationID), []byte(secretInfo)), secret); err != nil {
		return nil, fmt.Errorf("derive installation secret: %w", err)
	}
	return &Material{InstallationID: installationID, Secret: secret, PrivateKey: privateKey}, nil
}

func (m *Material) Validate() error {
	if m == nil {
		return fmt.Errorf("%w: missing", ErrInvalidKeyMaterial)
	}
	if strings.TrimSpace(m.InstallationID) == "" {
		return fmt.Errorf("%w: empty installation id", ErrInvalidKeyMaterial)
	}
	if len(m.Secret) != SecretSize {
		return fmt.Errorf("%w: secret is %d bytes, want %d", ErrInvalidKeyMaterial, len(m.Secret), SecretSize)
	}
	if m.PrivateKey == nil {
		return fmt.Errorf("%w: missing private key", ErrInvalidKeyMaterial)
	}
	return nil
}

// PublicKeyDER returns the SPKI encoding sent to the vendor at registration.
func (m *Material) PublicKeyDER() ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	der, err := x509.MarshalPKIXPublicKey(&m.PrivateKey.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyMaterial, err)
	}
	return der, nil
}
