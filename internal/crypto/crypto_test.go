package crypto

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketvault/internal/domain"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestSignRecover(t *testing.T) {
	s, err := NewSigner("0x" + testKey)
	require.NoError(t, err)
	digest := Digest([]byte(`{"type":"open_market"}`), 7)

	sig, err := s.Sign(digest)
	require.NoError(t, err)
	require.Len(t, sig, SignatureLength)
	assert.Contains(t, []byte{27, 28}, sig[64])

	got, err := Recover(digest, sig)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), got)

	sig[64] -= 27
	got, err = Recover(digest, sig)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), got)

	if other, err := Recover(Digest([]byte(`{"type":"open_market"}`), 8), sig); err == nil {
		assert.NotEqual(t, s.Address(), other)
	}
}

func TestRecoverRejectsMalformed(t *testing.T) {
	digest := Digest(nil, 0)
	_, err := Recover(digest, make([]byte, 64))
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)

	sig := make([]byte, SignatureLength)
	sig[64] = 40
	_, err = Recover(digest, sig)
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)

	_, err = RecoverHex(digest, "0xzz")
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
}

func TestDigestBindsNonce(t *testing.T) {
	assert.NotEqual(t, Digest([]byte("a"), 1), Digest([]byte("a"), 2))
	assert.NotEqual(t, Digest([]byte("a"), 1), Digest([]byte("b"), 1))
	assert.Equal(t, Digest([]byte("a"), 1), Digest([]byte("a"), 1))
}

func TestKeyFileRoundTrip(t *testing.T) {
	s, err := NewSigner(testKey)
	require.NoError(t, err)
	data, err := EncryptKey(s, "hunter2")
	require.NoError(t, err)
	assert.Contains(t, strings.ToLower(string(data)), strings.ToLower(s.Address().Hex()))

	_, err = DecryptKey(data, "wrong")
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "operator.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	loaded, err := LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "hunter2"})
	require.NoError(t, err)
	assert.Equal(t, s.Address(), loaded.Address())
	assert.Equal(t, testKey, loaded.PrivateKeyHex())

	_, err = LoadKey(KeyConfig{})
	assert.Error(t, err)
}
