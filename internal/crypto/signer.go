// Package crypto provides Ed25519 signing and verification for message
// envelopes. Signatures are base64-encoded; verification enforces a
// freshness window on the signed timestamp.
package crypto

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidKey is returned for a malformed Ed25519 key.
	ErrInvalidKey = errors.New("invalid Ed25519 key")
	// ErrInvalidSignature is returned when a signature does not verify.
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrSignatureExpired is returned when the signed timestamp falls
	// outside the freshness window.
	ErrSignatureExpired = errors.New("signature timestamp outside window")
	// ErrUnknownSender is returned when no public key is registered for
	// the claimed sender.
	ErrUnknownSender = errors.New("unknown sender")
)

// SignaturePayload builds the canonical bytes to sign: content|sender|timestamp.
func SignaturePayload(content []byte, sender string, timestamp int64) []byte {
	return []byte(fmt.Sprintf("%s|%s|%d", content, sender, timestamp))
}

// Signer signs outbound content with the router's Ed25519 key.
type Signer struct {
	key ed25519.PrivateKey
}

// NewSigner parses a base64-encoded Ed25519 private key.
//
// Postcondition: Returns a Signer or ErrInvalidKey (wrapped).
func NewSigner(keyB64 string) (*Signer, error) {
	decoded, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad base64 encoding", ErrInvalidKey)
	}
	if len(decoded) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: must be %d bytes, got %d", ErrInvalidKey, ed25519.PrivateKeySize, len(decoded))
	}
	return &Signer{key: ed25519.PrivateKey(decoded)}, nil
}

// Sign returns the base64 signature over content.
func (s *Signer) Sign(content []byte) (string, error) {
	sig := ed25519.Sign(s.key, content)
	return base64.StdEncoding.EncodeToString(sig), nil
}

// PublicKey returns the signer's base64-encoded public key.
func (s *Signer) PublicKey() string {
	pub := s.key.Public().(ed25519.PublicKey)
	return base64.StdEncoding.EncodeToString(pub)
}

// Verifier checks inbound envelope signatures against registered sender keys.
type Verifier struct {
	keys map[string]ed25519.PublicKey
	now  func() time.Time
}

// NewVerifier creates a Verifier over a map of sender id to base64-encoded
// public key.
//
// Postcondition: Returns a Verifier, or ErrInvalidKey (wrapped) naming the
// offending sender.
func NewVerifier(senderKeys map[string]string) (*Verifier, error) {
	keys := make(map[string]ed25519.PublicKey, len(senderKeys))
	for sender, keyB64 := range senderKeys {
		decoded, err := base64.StdEncoding.DecodeString(keyB64)
		if err != nil {
			return nil, fmt.Errorf("%w: sender %q: bad base64 encoding", ErrInvalidKey, sender)
		}
		if len(decoded) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("%w: sender %q: must be %d bytes, got %d",
				ErrInvalidKey, sender, ed25519.PublicKeySize, len(decoded))
		}
		keys[sender] = ed25519.PublicKey(decoded)
	}
	return &Verifier{keys: keys, now: time.Now}, nil
}

// RegisterKey adds or replaces the public key for a sender.
func (v *Verifier) RegisterKey(sender, keyB64 string) error {
	decoded, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		return fmt.Errorf("%w: bad base64 encoding", ErrInvalidKey)
	}
	if len(decoded) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: must be %d bytes, got %d", ErrInvalidKey, ed25519.PublicKeySize, len(decoded))
	}
	v.keys[sender] = ed25519.PublicKey(decoded)
	return nil
}

// Verify checks that signature covers SignaturePayload(content, sender,
// timestamp) under the sender's registered key and that timestamp is within
// window of the current time.
//
// Postcondition: Returns nil only for a fresh, valid signature from a known
// sender.
func (v *Verifier) Verify(content []byte, signature, sender string, timestamp int64, window time.Duration) error {
	key, found := v.keys[sender]
	if !found {
		return fmt.Errorf("%w: %q", ErrUnknownSender, sender)
	}

	age := v.now().Sub(time.Unix(timestamp, 0))
	if age > window || age < -window {
		return fmt.Errorf("%w: timestamp %d", ErrSignatureExpired, timestamp)
	}

	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("%w: bad base64 encoding", ErrInvalidSignature)
	}
	if !ed25519.Verify(key, SignaturePayload(content, sender, timestamp), sig) {
		return ErrInvalidSignature
	}
	return nil
}

// GenerateKey creates a fresh Ed25519 key pair, base64-encoded. Used by
// tooling and tests.
func GenerateKey() (publicB64, privateB64 string, err error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return "", "", fmt.Errorf("generating key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(pub), base64.StdEncoding.EncodeToString(priv), nil
}
