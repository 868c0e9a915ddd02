// Package crypto signs and verifies transaction envelopes and stores
// operator keys encrypted at rest.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 480_000
	saltLen          = 16
	aesKeyLen        = 32
	keyFileVersion   = 1
)

// keyFile is the on-disk format of an encrypted operator key. Address is
// stored in clear so a file can be identified without the password.
type keyFile struct {
	Version    int            `json:"version"`
	Address    common.Address `json:"address"`
	Salt       string         `json:"salt"`
	Nonce      string         `json:"nonce"`
	Ciphertext string         `json:"ciphertext"`
}

// KeyConfig says where the operator key comes from.
type KeyConfig struct {
	// RawPrivateKey is a hex key, with or without 0x. It wins if set.
	RawPrivateKey string
	// EncryptedKeyPath is a file written by EncryptKey.
	EncryptedKeyPath string
	KeyPassword      string
}

func deriveGCM(password string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// EncryptKey seals the signer's key with PBKDF2-HMAC-SHA256 and
// AES-256-GCM, returning the JSON key file.
func EncryptKey(s *Signer, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: generating salt: %w", err)
	}
	gcm, err := deriveGCM(password, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}
	// The address is authenticated data so it cannot be swapped.
	sealed := gcm.Seal(nil, nonce, ethcrypto.FromECDSA(s.privateKey), s.address.Bytes())
	return json.MarshalIndent(keyFile{
		Version:    keyFileVersion,
		Address:    s.address,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(sealed),
	}, "", "  ")
}

// DecryptKey opens a key file produced by EncryptKey.
func DecryptKey(data []byte, password string) (*Signer, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("crypto: parsing key file: %w", err)
	}
	if kf.Version != keyFileVersion {
		return nil, fmt.Errorf("crypto: unsupported key file version %d", kf.Version)
	}
	salt, err := base64.StdEncoding.DecodeString(kf.Salt)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(kf.Nonce)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding nonce: %w", err)
	}
	sealed, err := base64.StdEncoding.DecodeString(kf.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding ciphertext: %w", err)
	}
	gcm, err := deriveGCM(password, salt)
	if err != nil {
		return nil, err
	}
	plain, err := gcm.Open(nil, nonce, sealed, kf.Address.Bytes())
	if err != nil {
		return nil, fmt.Errorf("crypto: decryption failed (wrong password?): %w", err)
	}
	pk, err := ethcrypto.ToECDSA(plain)
	if err != nil {
		return nil, fmt.Errorf("crypto: decrypted key: %w", err)
	}
	s := FromKey(pk)
	if s.address != kf.Address {
		return nil, fmt.Errorf("crypto: key file address %s does not match key", kf.Address.Hex())
	}
	return s, nil
}

// LoadKey resolves the operator signer: a raw key first, then an
// encrypted key file.
func LoadKey(cfg KeyConfig) (*Signer, error) {
	if cfg.RawPrivateKey != "" {
		return NewSigner(cfg.RawPrivateKey)
	}
	if cfg.EncryptedKeyPath != "" {
		data, err := os.ReadFile(cfg.EncryptedKeyPath)
		if err != nil {
			return nil, fmt.Errorf("crypto: reading key file: %w", err)
		}
		return DecryptKey(data, cfg.KeyPassword)
	}
	return nil, errors.New("crypto: no operator key configured")
}
