// Package vault provides authenticated encryption for connection secrets.
//
// Secrets are persisted only as Records (ciphertext + nonce + key-version
// tag); plaintext exists transiently in memory during a connection's
// authentication handshake and is wiped with Zero immediately after use.
// Decryption fails closed: a tampered ciphertext or retired key version is a
// hard error, never a partial plaintext.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"io"
	"sync"

	"github.com/contentops/cmconnect/pkg/cmerrors"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

// Record is the persisted form of a credential.
type Record struct {
	KeyVersion uint32 `json:"key_version"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// Vault encrypts and decrypts credential records. New encryptions always use
// the current key version; decryption supports any retained historical
// version until it is explicitly retired. Safe for concurrent use.
type Vault struct {
	mu      sync.RWMutex
	keys    map[uint32][]byte
	current uint32
}

// New creates a vault with the given key as version 1.
func New(key []byte) (*Vault, error) {
	if len(key) != KeySize {
		return nil, cmerrors.Newf(cmerrors.ErrorTypeConfig, "vault key must be %d bytes, got %d", KeySize, len(key))
	}

	k := make([]byte, KeySize)
	copy(k, key)

	return &Vault{
		keys:    map[uint32][]byte{1: k},
		current: 1,
	}, nil
}

// Rotate installs a new key as the current version, retaining previous
// versions for decryption. Returns the new version number.
func (v *Vault) Rotate(key []byte) (uint32, error) {
	if len(key) != KeySize {
		return 0, cmerrors.Newf(cmerrors.ErrorTypeConfig, "vault key must be %d bytes, got %d", KeySize, len(key))
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	k := make([]byte, KeySize)
	copy(k, key)

	v.current++
	v.keys[v.current] = k
	return v.current, nil
}

// Retire removes a historical key version. Records encrypted under it can no
// longer be decrypted. Retiring the current version is an error.
func (v *Vault) Retire(version uint32) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if version == v.current {
		return cmerrors.New(cmerrors.ErrorTypeValidation, "cannot retire the current key version")
	}
	if _, ok := v.keys[version]; !ok {
		return cmerrors.Newf(cmerrors.ErrorTypeValidation, "key version %d not found", version)
	}

	Zero(v.keys[version])
	delete(v.keys, version)
	return nil
}

// CurrentVersion returns the key version used for new encryptions.
func (v *Vault) CurrentVersion() uint32 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.current
}

// Encrypt seals plaintext under the current key with a random nonce.
func (v *Vault) Encrypt(plaintext []byte) (*Record, error) {
	v.mu.RLock()
	version := v.current
	key := v.keys[version]
	v.mu.RUnlock()

	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, cmerrors.Wrap(err, cmerrors.ErrorTypeInternal, "failed to generate nonce")
	}

	return &Record{
		KeyVersion: version,
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce, plaintext, nil),
	}, nil
}

// Decrypt opens a record. Any authentication-tag mismatch, nonce corruption,
// or unknown key version is a hard decryption failure.
func (v *Vault) Decrypt(record *Record) ([]byte, error) {
	if record == nil {
		return nil, cmerrors.New(cmerrors.ErrorTypeDecryption, "nil credential record")
	}

	v.mu.RLock()
	key, ok := v.keys[record.KeyVersion]
	v.mu.RUnlock()

	if !ok {
		return nil, cmerrors.Newf(cmerrors.ErrorTypeDecryption, "key version %d is retired or unknown", record.KeyVersion)
	}

	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if len(record.Nonce) != aead.NonceSize() {
		return nil, cmerrors.New(cmerrors.ErrorTypeDecryption, "invalid nonce length")
	}

	plaintext, err := aead.Open(nil, record.Nonce, record.Ciphertext, nil)
	if err != nil {
		return nil, cmerrors.Wrap(err, cmerrors.ErrorTypeDecryption, "credential record failed authentication")
	}

	return plaintext, nil
}

// Zero wipes a plaintext secret in place.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, cmerrors.Wrap(err, cmerrors.ErrorTypeInternal, "failed to create cipher")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, cmerrors.Wrap(err, cmerrors.ErrorTypeInternal, "failed to create GCM")
	}
	return aead, nil
}
