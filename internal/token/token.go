// Package token is the fungible-token program: mints, token accounts and
// the associated-account convention used by every other program.
package token

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketvault/internal/domain"
	"github.com/alanyoungcy/marketvault/internal/ledger"
)

var (
	ProgramID           = ledger.ProgramID("token")
	AssociatedProgramID = ledger.ProgramID("associated_token")

	MintAccount  = ledger.NewKind[domain.Mint]("Mint", ProgramID)
	TokenAccount = ledger.NewKind[domain.TokenAccount]("TokenAccount", ProgramID)
)

func associatedSeeds(owner, mint common.Address) [][]byte {
	return [][]byte{owner.Bytes(), ProgramID.Bytes(), mint.Bytes()}
}

// AssociatedAddress derives the canonical token account of owner for mint.
func AssociatedAddress(owner, mint common.Address) common.Address {
	addr, _ := ledger.MustFind(associatedSeeds(owner, mint), AssociatedProgramID)
	return addr
}

// CreateMint allocates a mint at addr, which must sign the transaction.
func CreateMint(tx *ledger.Tx, addr, authority common.Address, decimals uint8) error {
	return MintAccount.Init(tx, addr, &domain.Mint{Authority: authority, Decimals: decimals})
}

func mintSeeds(name string) [][]byte {
	return [][]byte{[]byte("mint"), []byte(name)}
}

// DerivedMint is the address of the program-owned mint called name.
func DerivedMint(name string) common.Address {
	addr, _ := ledger.MustFind(mintSeeds(name), ProgramID)
	return addr
}

// EnsureDerivedMint creates the named mint on first use. An existing mint
// with a different authority or precision is an error.
func EnsureDerivedMint(tx *ledger.Tx, name string, authority common.Address, decimals uint8) (common.Address, error) {
	seeds := mintSeeds(name)
	addr, bump := ledger.MustFind(seeds, ProgramID)
	exists, err := MintAccount.Exists(tx, addr)
	if err != nil {
		return common.Address{}, err
	}
	if exists {
		m, err := MintAccount.Load(tx, addr)
		if err != nil {
			return common.Address{}, err
		}
		if m.Authority != authority || m.Decimals != decimals {
			return common.Address{}, fmt.Errorf("token: mint %q: %w", name, domain.ErrMintAuthorityMismatch)
		}
		return addr, nil
	}
	err = tx.InvokeSigned(ProgramID, seeds, bump, func() error {
		return CreateMint(tx, addr, authority, decimals)
	})
	return addr, err
}

// CreateAccount allocates a non-associated token account at addr, which
// must sign.
func CreateAccount(tx *ledger.Tx, addr, owner, mint common.Address) error {
	if _, err := MintAccount.Load(tx, mint); err != nil {
		return fmt.Errorf("token: mint %s: %w", mint.Hex(), err)
	}
	return TokenAccount.Init(tx, addr, &domain.TokenAccount{Mint: mint, Owner: owner})
}

// EnsureAssociated creates the associated account of owner for mint if it
// does not exist yet and returns its address. Anyone may pay for it.
func EnsureAssociated(tx *ledger.Tx, owner, mint common.Address) (common.Address, error) {
	seeds := associatedSeeds(owner, mint)
	addr, bump := ledger.MustFind(seeds, AssociatedProgramID)
	exists, err := tx.Exists(addr)
	if err != nil {
		return common.Address{}, err
	}
	if exists {
		acct, err := TokenAccount.Load(tx, addr)
		if err != nil {
			return common.Address{}, err
		}
		if acct.Mint != mint || acct.Owner != owner {
			return common.Address{}, fmt.Errorf("token: associated account %s: %w", addr.Hex(), domain.ErrTokenMintMismatch)
		}
		return addr, nil
	}
	if _, err := MintAccount.Load(tx, mint); err != nil {
		return common.Address{}, fmt.Errorf("token: mint %s: %w", mint.Hex(), err)
	}
	err = tx.InvokeSigned(AssociatedProgramID, seeds, bump, func() error {
		return TokenAccount.Init(tx, addr, &domain.TokenAccount{Mint: mint, Owner: owner})
	})
	if err != nil {
		return common.Address{}, err
	}
	return addr, nil
}

// Balance returns the amount held by a token account. A missing account
// holds nothing.
func Balance(tx *ledger.Tx, account common.Address) (uint64, error) {
	exists, err := tx.Exists(account)
	if err != nil || !exists {
		return 0, err
	}
	acct, err := TokenAccount.Load(tx, account)
	if err != nil {
		return 0, err
	}
	return acct.Amount, nil
}

func loadPair(tx *ledger.Tx, mintAddr, account common.Address) (*domain.Mint, *domain.TokenAccount, error) {
	mint, err := MintAccount.Load(tx, mintAddr)
	if err != nil {
		return nil, nil, err
	}
	acct, err := TokenAccount.Load(tx, account)
	if err != nil {
		return nil, nil, err
	}
	if acct.Mint != mintAddr {
		return nil, nil, domain.ErrTokenMintMismatch
	}
	return mint, acct, nil
}

// MintTo creates amount new tokens in account. The mint authority signs.
func MintTo(tx *ledger.Tx, mintAddr, account common.Address, amount uint64) error {
	mint, acct, err := loadPair(tx, mintAddr, account)
	if err != nil {
		return err
	}
	if !tx.IsSigner(mint.Authority) {
		return domain.ErrMintAuthorityMismatch
	}
	supply, ok := add(mint.Supply, amount)
	if !ok {
		return domain.ErrArithmeticOverflow
	}
	bal, ok := add(acct.Amount, amount)
	if !ok {
		return domain.ErrArithmeticOverflow
	}
	mint.Supply, acct.Amount = supply, bal
	if err := MintAccount.Save(tx, mintAddr, mint); err != nil {
		return err
	}
	return TokenAccount.Save(tx, account, acct)
}

// Burn destroys amount tokens held in account. The account owner signs.
// Burning zero is a no-op.
func Burn(tx *ledger.Tx, mintAddr, account common.Address, amount uint64) error {
	mint, acct, err := loadPair(tx, mintAddr, account)
	if err != nil {
		return err
	}
	if !tx.IsSigner(acct.Owner) {
		return domain.ErrTokenOwnerMismatch
	}
	if amount == 0 {
		return nil
	}
	if acct.Amount < amount || mint.Supply < amount {
		return domain.ErrInsufficientFunds
	}
	acct.Amount -= amount
	mint.Supply -= amount
	if err := MintAccount.Save(tx, mintAddr, mint); err != nil {
		return err
	}
	return TokenAccount.Save(tx, account, acct)
}

// Transfer moves amount between two accounts of the same mint. The source
// owner signs; program-owned sources sign through Tx.InvokeSigned.
func Transfer(tx *ledger.Tx, from, to common.Address, amount uint64) error {
	src, err := TokenAccount.Load(tx, from)
	if err != nil {
		return err
	}
	if !tx.IsSigner(src.Owner) {
		return domain.ErrTokenOwnerMismatch
	}
	if from == to || amount == 0 {
		if src.Amount < amount {
			return domain.ErrInsufficientFunds
		}
		return nil
	}
	dst, err := TokenAccount.Load(tx, to)
	if err != nil {
		return err
	}
	if src.Mint != dst.Mint {
		return domain.ErrTokenMintMismatch
	}
	if src.Amount < amount {
		return domain.ErrInsufficientFunds
	}
	bal, ok := add(dst.Amount, amount)
	if !ok {
		return domain.ErrArithmeticOverflow
	}
	src.Amount -= amount
	dst.Amount = bal
	if err := TokenAccount.Save(tx, from, src); err != nil {
		return err
	}
	return TokenAccount.Save(tx, to, dst)
}

func add(a, b uint64) (uint64, bool) {
	c := a + b
	return c, c >= a
}
