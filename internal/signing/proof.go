package signing

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math/bits"

	"cloudlink/internal/keys"
)

// Proof folds message into a working copy of secret one byte at a time and
// returns base64(SHA-256(buffer)). Later bytes read slots that earlier bytes
// rewrote, so the result depends on byte order.
func Proof(message string, secret []byte) (string, error) {
	if len(secret) != keys.SecretSize {
		return "", fmt.Errorf("%w: secret is %d bytes, want %d", keys.ErrInvalidKeyMaterial, len(secret), keys.SecretSize)
	}
	var buf [keys.SecretSize]byte
	copy(buf[:], secret)
	for i := 0; i < len(message); i++ {
		b := message[i]
		idx := b % keys.SecretSize
		shift := buf[(idx+1)%keys.SecretSize] & 7
		// RotateLeft8 treats a zero shift as identity.
		buf[idx] = bits.RotateLeft8(b^buf[idx], int(shift))
	}
	sum := sha256.Sum256(buf[:])
	return base64.StdEncoding.EncodeToString(sum[:]), nil
}
