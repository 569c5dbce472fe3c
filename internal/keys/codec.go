package keys

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/base64"
	"fmt"

	"gopkg.in/yaml.v3"
)

type persisted struct {
	InstallationID string `yaml:"installation_id"`
	Secret         string `yaml:"secret"`
	PrivateKey     string `yaml:"private_key"`
}

// Encode serializes material into the opaque blob kept by a Store.
func Encode(m *Material) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	der, err := x509.MarshalPKCS8PrivateKey(m.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyMaterial, err)
	}
	return yaml.Marshal(persisted{
		InstallationID: m.InstallationID,
		Secret:         base64.StdEncoding.EncodeToString(m.Secret),
		PrivateKey:     base64.StdEncoding.EncodeToString(der),
	})
}

func Decode(data []byte) (*Material, error) {
	var p persisted
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyMaterial, err)
	}
	secret, err := base64.StdEncoding.DecodeString(p.Secret)
	if err != nil {
		return nil, fmt.Errorf("%w: secret: %v", ErrInvalidKeyMaterial, err)
	}
	der, err := base64.StdEncoding.DecodeString(p.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: private key: %v", ErrInvalidKeyMaterial, err)
	}
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: private key: %v", ErrInvalidKeyMaterial, err)
	}
	privateKey, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: private key is %T, want ECDSA", ErrInvalidKeyMaterial, parsed)
	}
	m := &Material{InstallationID: p.InstallationID, Secret: secret, PrivateKey: privateKey}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}
