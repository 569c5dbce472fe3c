package signing

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"cloudlink/internal/keys"
)

const (
	HeaderInstallationID = "X-App-Installation-Id"
	HeaderProof          = "X-Request-Proof"
	HeaderTimestamp      = "X-Timestamp"
	HeaderNonce          = "X-Nonce"
	HeaderSignature      = "X-Request-Signature"
)

type RegistrationBody struct {
	PublicKey string `json:"pk"`
}

// Signer builds the vendor's per-request authentication headers. It holds no
// mutable state and is safe for concurrent use.
type Signer struct {
	key   *keys.Material
	now   func() time.Time
	nonce func() string
}

func NewSigner(key *keys.Material) (*Signer, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	return &Signer{
		key:   key,
		now:   time.Now,
		nonce: func() string { return strings.ToLower(uuid.NewString()) },
	}, nil
}

func (s *Signer) InstallationID() string {
	return s.key.InstallationID
}

func (s *Signer) RegistrationHeaders() (http.Header, error) {
	der, err := s.key.PublicKeyDER()
	if err != nil {
		return nil, err
	}
	digest := sha256.Sum256(der)
	proof, err := Proof(s.key.InstallationID+"."+base64.StdEncoding.EncodeToString(digest[:]), s.key.Secret)
	if err != nil {
		return nil, err
	}
	h := make(http.Header)
	h.Set(HeaderInstallationID, s.key.InstallationID)
	h.Set(HeaderProof, proof)
	return h, nil
}

func (s *Signer) RegistrationBody() (RegistrationBody, error) {
	der, err := s.key.PublicKeyDER()
	if err != nil {
		return RegistrationBody{}, err
	}
	return RegistrationBody{PublicKey: base64.StdEncoding.EncodeToString(der)}, nil
}

// RequestHeaders signs "id.nonce.ts.proof" with the installation key. The
// proof itself is not sent; the server recomputes it from its copy of the
// secret.
func (s *Signer) RequestHeaders() (http.Header, error) {
	nonce := s.nonce()
	ts := strconv.FormatInt(s.now().UnixMilli(), 10)
	proofInput := s.key.InstallationID + "." + nonce + "." + ts
	proof, err := Proof(proofInput, s.key.Secret)
	if err != nil {
		return nil, err
	}
	digest := sha256.Sum256([]byte(proofInput + "." + proof))
	signature, err := ecdsa.SignASN1(rand.Reader, s.key.PrivateKey, digest[:])
	if err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}

	h := make(http.Header)
	h.Set(HeaderInstallationID, s.key.InstallationID)
	h.Set(HeaderTimestamp, ts)
	h.Set(HeaderNonce, nonce)
	h.Set(HeaderSignature, base64.StdEncoding.EncodeToString(signature))
	return h, nil
}
