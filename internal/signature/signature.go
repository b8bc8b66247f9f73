package signature

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
)

var (
	// ErrEmptySecret means the process was configured without an app secret.
	// Fatal at startup: serving traffic with no key would fail every callback.
	ErrEmptySecret = errors.New("app secret is empty")

	// ErrBadSignatureHex means the signature header did not decode as hex.
	ErrBadSignatureHex = errors.New("signature is not valid hex")

	// ErrSignatureMismatch means the signature did not verify against the
	// message bytes and the derived verification key.
	ErrSignatureMismatch = errors.New("signature verification failed")
)

// DeriveSeed expands secret into an exactly 32-byte Ed25519 seed by doubling
// the byte string until it is at least 32 bytes long, then truncating.
//
// This is the padding scheme the platform uses to register the bot's
// verification key. It is not a KDF and must not be replaced with one: the
// platform-side key is derived from this exact byte sequence, so any change
// breaks verification for already-registered bots.
func DeriveSeed(secret []byte) ([]byte, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	b := append([]byte(nil), secret...)
	for len(b) < ed25519.SeedSize {
		b = append(b, b...)
	}
	return b[:ed25519.SeedSize], nil
}

// Service signs challenge responses and verifies inbound event signatures
// using the keypair derived from the configured app secret. Construct once at
// startup; the keypair is immutable afterwards and safe for concurrent use.
type Service struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// New derives the Ed25519 keypair from secret. Returns ErrEmptySecret if the
// secret is unset.
func New(secret string) (*Service, error) {
	seed, err := DeriveSeed([]byte(secret))
	if err != nil {
		return nil, err
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Service{
		priv: priv,
		pub:  priv.Public().(ed25519.PublicKey),
	}, nil
}

// PublicKey returns the verification key as lowercase hex. Used by the
// check command so operators can cross-check the platform registration.
func (s *Service) PublicKey() string {
	return hex.EncodeToString(s.pub)
}

// SignChallenge signs the callback-URL validation challenge. The signed
// message is eventTS immediately followed by plainToken, no separator.
// Returns the signature as lowercase hex. Deterministic for fixed inputs.
func (s *Service) SignChallenge(eventTS, plainToken string) string {
	msg := []byte(eventTS + plainToken)
	return hex.EncodeToString(ed25519.Sign(s.priv, msg))
}

// VerifyEvent checks an inbound event signature. The signed message is the
// timestamp header bytes immediately followed by the raw request body as
// received on the wire. The body must never be re-serialized before
// verification: JSON encoding is not byte-stable across encoders, and any
// difference invalidates the signature.
func (s *Service) VerifyEvent(rawBody []byte, sigHex, timestamp string) error {
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignatureHex, err)
	}

	msg := make([]byte, 0, len(timestamp)+len(rawBody))
	msg = append(msg, timestamp...)
	msg = append(msg, rawBody...)

	if !ed25519.Verify(s.pub, msg, sig) {
		return ErrSignatureMismatch
	}
	return nil
}
