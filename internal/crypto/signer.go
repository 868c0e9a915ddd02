package crypto

import (
	"crypto/ecdsa"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/marketvault/internal/domain"
)

// TxDomain separates transaction digests from any other keccak preimage.
const TxDomain = "marketd/tx"

// SignatureLength is r || s || v.
const SignatureLength = 65

// Digest is the value every transaction signer signs:
//
//	keccak256(TxDomain || instruction || uint64be(nonce))
func Digest(instruction []byte, nonce uint64) common.Hash {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], nonce)
	return ethcrypto.Keccak256Hash([]byte(TxDomain), instruction, n[:])
}

// Signer holds one secp256k1 identity.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return FromKey(pk), nil
}

func FromKey(pk *ecdsa.PrivateKey) *Signer {
	return &Signer{privateKey: pk, address: ethcrypto.PubkeyToAddress(pk.PublicKey)}
}

// GenerateSigner creates a Signer with a fresh random key.
func GenerateSigner() (*Signer, error) {
	pk, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: generate: %w", err)
	}
	return FromKey(pk), nil
}

// Address returns the address derived from the signer's public key.
func (s *Signer) Address() common.Address {
	return s.address
}

// PrivateKeyHex returns the key without 0x prefix.
func (s *Signer) PrivateKeyHex() string {
	return hex.EncodeToString(ethcrypto.FromECDSA(s.privateKey))
}

// Sign signs a 32-byte digest. The recovery byte is 27 or 28.
func (s *Signer) Sign(digest common.Hash) ([]byte, error) {
	sig, err := ethcrypto.Sign(digest.Bytes(), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: signing: %w", err)
	}
	// go-ethereum returns v in {0,1}.
	sig[64] += 27
	return sig, nil
}

// SignHex is Sign encoded as 0x-prefixed hex.
func (s *Signer) SignHex(digest common.Hash) (string, error) {
	sig, err := s.Sign(digest)
	if err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// Recover returns the address that produced sig over digest. v may be
// 0/1 or 27/28.
func Recover(digest common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != SignatureLength {
		return common.Address{}, fmt.Errorf("signature length %d: %w", len(sig), domain.ErrInvalidSignature)
	}
	norm := make([]byte, SignatureLength)
	copy(norm, sig)
	if norm[64] >= 27 {
		norm[64] -= 27
	}
	if norm[64] > 1 {
		return common.Address{}, fmt.Errorf("recovery id %d: %w", sig[64], domain.ErrInvalidSignature)
	}
	pub, err := ethcrypto.SigToPub(digest.Bytes(), norm)
	if err != nil {
		return common.Address{}, fmt.Errorf("%v: %w", err, domain.ErrInvalidSignature)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// RecoverHex decodes a 0x-prefixed hex signature and recovers its signer.
func RecoverHex(digest common.Hash, sigHex string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("signature hex: %w", domain.ErrInvalidSignature)
	}
	return Recover(digest, sig)
}
