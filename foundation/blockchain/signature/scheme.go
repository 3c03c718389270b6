package signature

import (
	"errors"
	"fmt"

	"github.com/cloudflare/circl/sign"
	"github.com/cloudflare/circl/sign/mldsa/mldsa65"
	"github.com/cloudflare/circl/sign/mldsa/mldsa87"
	"golang.org/x/crypto/sha3"
)

// Set of errors returned by Verify. Malformed material and a well formed
// signature that does not verify are reported separately.
var (
	ErrInvalidEncoding    = errors.New("invalid key or signature encoding")
	ErrVerificationFailed = errors.New("signature verification failed")
)

// Scheme identifies a signature algorithm. The set is closed: a value not
// listed here is never accepted, whatever the key material looks like.
type Scheme uint8

// Supported signature schemes.
const (
	MLDSA65 Scheme = 1
	MLDSA87 Scheme = 2
)

var schemes = map[Scheme]sign.Scheme{
	MLDSA65: mldsa65.Scheme(),
	MLDSA87: mldsa87.Scheme(),
}

// String returns the name of the scheme.
func (s Scheme) String() string {
	switch s {
	case MLDSA65:
		return "ML-DSA-65"
	case MLDSA87:
		return "ML-DSA-87"
	}

	return fmt.Sprintf("Scheme(%d)", uint8(s))
}

// Supported reports whether the scheme is part of the closed set.
func (s Scheme) Supported() bool {
	_, exists := schemes[s]
	return exists
}

// PublicKeySize returns the encoded public key length for the scheme.
func (s Scheme) PublicKeySize() int {
	if sch, exists := schemes[s]; exists {
		return sch.PublicKeySize()
	}
	return 0
}

// SignatureSize returns the encoded signature length for the scheme.
func (s Scheme) SignatureSize() int {
	if sch, exists := schemes[s]; exists {
		return sch.SignatureSize()
	}
	return 0
}

// =============================================================================

// Verify checks the signature over message for the public key under the
// specified scheme. It returns ErrInvalidEncoding when the scheme is unknown
// or the key or signature cannot be decoded, and ErrVerificationFailed when
// well formed material does not verify.
func Verify(scheme Scheme, publicKey []byte, message []byte, sig []byte) error {
	sch, exists := schemes[scheme]
	if !exists {
		return fmt.Errorf("%w: unsupported scheme %d", ErrInvalidEncoding, scheme)
	}

	if len(publicKey) != sch.PublicKeySize() {
		return fmt.Errorf("%w: public key length %d, exp %d", ErrInvalidEncoding, len(publicKey), sch.PublicKeySize())
	}

	if len(sig) != sch.SignatureSize() {
		return fmt.Errorf("%w: signature length %d, exp %d", ErrInvalidEncoding, len(sig), sch.SignatureSize())
	}

	pk, err := sch.UnmarshalBinaryPublicKey(publicKey)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidEncoding, err)
	}

	if !sch.Verify(pk, message, sig, nil) {
		return ErrVerificationFailed
	}

	return nil
}

// LockHash returns the SHA3-256 commitment to a public key that outputs
// lock funds to.
func LockHash(publicKey []byte) [32]byte {
	return sha3.Sum256(publicKey)
}

// =============================================================================

// PrivateKey is a signing key bound to its scheme.
type PrivateKey struct {
	scheme Scheme
	key    sign.PrivateKey
}

// GenerateKey creates a new random key for the scheme.
func GenerateKey(scheme Scheme) (PrivateKey, error) {
	sch, exists := schemes[scheme]
	if !exists {
		return PrivateKey{}, fmt.Errorf("%w: unsupported scheme %d", ErrInvalidEncoding, scheme)
	}

	_, sk, err := sch.GenerateKey()
	if err != nil {
		return PrivateKey{}, fmt.Errorf("generating key: %w", err)
	}

	return PrivateKey{scheme: scheme, key: sk}, nil
}

// DeriveKey deterministically derives a key from seed. The seed length must
// match the scheme's seed size.
func DeriveKey(scheme Scheme, seed []byte) (PrivateKey, error) {
	sch, exists := schemes[scheme]
	if !exists {
		return PrivateKey{}, fmt.Errorf("%w: unsupported scheme %d", ErrInvalidEncoding, scheme)
	}

	if len(seed) != sch.SeedSize() {
		return PrivateKey{}, fmt.Errorf("seed length %d, exp %d", len(seed), sch.SeedSize())
	}

	_, sk := sch.DeriveKey(seed)

	return PrivateKey{scheme: scheme, key: sk}, nil
}

// ParsePrivateKey decodes a private key for the scheme.
func ParsePrivateKey(scheme Scheme, data []byte) (PrivateKey, error) {
	sch, exists := schemes[scheme]
	if !exists {
		return PrivateKey{}, fmt.Errorf("%w: unsupported scheme %d", ErrInvalidEncoding, scheme)
	}

	sk, err := sch.UnmarshalBinaryPrivateKey(data)
	if err != nil {
		return PrivateKey{}, fmt.Errorf("%w: %s", ErrInvalidEncoding, err)
	}

	return PrivateKey{scheme: scheme, key: sk}, nil
}

// Scheme returns the scheme the key belongs to.
func (k PrivateKey) Scheme() Scheme {
	return k.scheme
}

// PublicKey returns the encoded public key.
func (k PrivateKey) PublicKey() ([]byte, error) {
	pk, ok := k.key.Public().(sign.PublicKey)
	if !ok {
		return nil, errors.New("private key has no public key")
	}

	return pk.MarshalBinary()
}

// LockHash returns the commitment outputs use to lock funds to this key.
func (k PrivateKey) LockHash() ([32]byte, error) {
	pub, err := k.PublicKey()
	if err != nil {
		return [32]byte{}, err
	}

	return LockHash(pub), nil
}

// Sign produces a signature over message.
func (k PrivateKey) Sign(message []byte) ([]byte, error) {
	sch, exists := schemes[k.scheme]
	if !exists || k.key == nil {
		return nil, errors.New("uninitialized private key")
	}

	return sch.Sign(k.key, message, nil), nil
}

// MarshalBinary returns the encoded private key.
func (k PrivateKey) MarshalBinary() ([]byte, error) {
	if k.key == nil {
		return nil, errors.New("uninitialized private key")
	}

	return k.key.MarshalBinary()
}
