package vault

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contentops/cmconnect/pkg/cmerrors"
)

func testKey(fill byte) []byte {
	key := make([]byte, KeySize)
	for i := range key {
		key[i] = fill
	}
	return key
}

func TestNewRejectsShortKey(t *testing.T) {
	_, err := New([]byte("too short"))
	require.Error(t, err)
	assert.True(t, cmerrors.IsType(err, cmerrors.ErrorTypeConfig))
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	v, err := New(testKey(0x11))
	require.NoError(t, err)

	secret := []byte("svc-account:s3cret")
	record, err := v.Encrypt(secret)
	require.NoError(t, err)

	assert.Equal(t, uint32(1), record.KeyVersion)
	assert.NotContains(t, string(record.Ciphertext), "s3cret")

	plaintext, err := v.Decrypt(record)
	require.NoError(t, err)
	assert.Equal(t, secret, plaintext)
}

func TestEncryptUsesFreshNonce(t *testing.T) {
	v, err := New(testKey(0x11))
	require.NoError(t, err)

	a, err := v.Encrypt([]byte("same secret"))
	require.NoError(t, err)
	b, err := v.Encrypt([]byte("same secret"))
	require.NoError(t, err)

	assert.False(t, bytes.Equal(a.Nonce, b.Nonce))
	assert.False(t, bytes.Equal(a.Ciphertext, b.Ciphertext))
}

func TestDecryptFailsClosedOnTamper(t *testing.T) {
	v, err := New(testKey(0x11))
	require.NoError(t, err)

	record, err := v.Encrypt([]byte("secret"))
	require.NoError(t, err)

	record.Ciphertext[0] ^= 0xFF
	plaintext, err := v.Decrypt(record)
	require.Error(t, err)
	assert.Nil(t, plaintext)
	assert.True(t, cmerrors.IsType(err, cmerrors.ErrorTypeDecryption))
}

func TestDecryptRejectsBadNonce(t *testing.T) {
	v, err := New(testKey(0x11))
	require.NoError(t, err)

	record, err := v.Encrypt([]byte("secret"))
	require.NoError(t, err)

	record.Nonce = record.Nonce[:4]
	_, err = v.Decrypt(record)
	require.Error(t, err)
	assert.True(t, cmerrors.IsType(err, cmerrors.ErrorTypeDecryption))
}

func TestRotateKeepsOldVersionsReadable(t *testing.T) {
	v, err := New(testKey(0x11))
	require.NoError(t, err)

	oldRecord, err := v.Encrypt([]byte("old secret"))
	require.NoError(t, err)

	newVersion, err := v.Rotate(testKey(0x22))
	require.NoError(t, err)
	assert.Equal(t, uint32(2), newVersion)
	assert.Equal(t, uint32(2), v.CurrentVersion())

	newRecord, err := v.Encrypt([]byte("new secret"))
	require.NoError(t, err)
	assert.Equal(t, uint32(2), newRecord.KeyVersion)

	plaintext, err := v.Decrypt(oldRecord)
	require.NoError(t, err)
	assert.Equal(t, []byte("old secret"), plaintext)
}

func TestRetiredVersionFailsDecryption(t *testing.T) {
	v, err := New(testKey(0x11))
	require.NoError(t, err)

	record, err := v.Encrypt([]byte("secret"))
	require.NoError(t, err)

	_, err = v.Rotate(testKey(0x22))
	require.NoError(t, err)
	require.NoError(t, v.Retire(1))

	_, err = v.Decrypt(record)
	require.Error(t, err)
	assert.True(t, cmerrors.IsType(err, cmerrors.ErrorTypeDecryption))
}

func TestRetireCurrentVersionFails(t *testing.T) {
	v, err := New(testKey(0x11))
	require.NoError(t, err)

	err = v.Retire(1)
	require.Error(t, err)
	assert.True(t, cmerrors.IsType(err, cmerrors.ErrorTypeValidation))
}

func TestZeroWipes(t *testing.T) {
	secret := []byte("wipe me")
	Zero(secret)
	assert.Equal(t, make([]byte, 7), secret)
}

func TestStoreGetUnknownRef(t *testing.T) {
	s := NewStore()
	_, err := s.Get("missing-system")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing-system")
	assert.NotContains(t, err.Error(), "secret")
}

func TestStorePutGetDelete(t *testing.T) {
	v, err := New(testKey(0x11))
	require.NoError(t, err)
	record, err := v.Encrypt([]byte("secret"))
	require.NoError(t, err)

	s := NewStore()
	require.NoError(t, s.Put("cm-prod", record))

	got, err := s.Get("cm-prod")
	require.NoError(t, err)
	assert.Equal(t, record.KeyVersion, got.KeyVersion)

	s.Delete("cm-prod")
	_, err = s.Get("cm-prod")
	assert.Error(t, err)
}
