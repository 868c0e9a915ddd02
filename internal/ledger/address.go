package ledger

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/marketvault/internal/domain"
)

const (
	MaxSeeds      = 16
	MaxSeedLength = 32
)

var pdaMarker = []byte("ProgramDerivedAddress")

// ProgramID returns the fixed identifier of a named program.
func ProgramID(name string) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte("program:" + name)))
}

// CreateProgramAddress derives the address for seeds (the last of which is
// normally the bump) under program. It fails when the derivation lands on a
// secp256k1 x-coordinate, since such an address could have a private key.
func CreateProgramAddress(seeds [][]byte, program common.Address) (common.Address, error) {
	if len(seeds) > MaxSeeds {
		return common.Address{}, domain.ErrMaxSeedLength
	}
	parts := make([][]byte, 0, len(seeds)+2)
	for _, s := range seeds {
		if len(s) > MaxSeedLength {
			return common.Address{}, domain.ErrMaxSeedLength
		}
		parts = append(parts, s)
	}
	parts = append(parts, program.Bytes(), pdaMarker)
	h := crypto.Keccak256(parts...)
	if onCurve(h) {
		return common.Address{}, errOnCurve
	}
	return common.BytesToAddress(h), nil
}

// FindProgramAddress searches bumps from 255 down for the first seed set
// that derives an off-curve address.
func FindProgramAddress(seeds [][]byte, program common.Address) (common.Address, uint8, error) {
	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)
	for bump := 255; bump >= 0; bump-- {
		withBump[len(seeds)] = []byte{byte(bump)}
		addr, err := CreateProgramAddress(withBump, program)
		if err == nil {
			return addr, uint8(bump), nil
		}
		if err != errOnCurve {
			return common.Address{}, 0, err
		}
	}
	return common.Address{}, 0, fmt.Errorf("ledger: no viable bump for seeds")
}

// MustFind is FindProgramAddress for seeds known to be within limits.
func MustFind(seeds [][]byte, program common.Address) (common.Address, uint8) {
	addr, bump, err := FindProgramAddress(seeds, program)
	if err != nil {
		panic(err)
	}
	return addr, bump
}

var errOnCurve = fmt.Errorf("ledger: derived address is on curve")

var (
	curveP = crypto.S256().Params().P
	curveB = crypto.S256().Params().B
)

// onCurve reports whether h, read as an x-coordinate, has a matching y on
// secp256k1 (y^2 = x^3 + 7 has a solution mod p).
func onCurve(h []byte) bool {
	x := new(big.Int).SetBytes(h)
	if x.Cmp(curveP) >= 0 {
		return false
	}
	rhs := new(big.Int).Mul(x, x)
	rhs.Mul(rhs, x)
	rhs.Add(rhs, curveB)
	rhs.Mod(rhs, curveP)
	if rhs.Sign() == 0 {
		return true
	}
	return big.Jacobi(rhs, curveP) == 1
}
