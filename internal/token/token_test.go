package token_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketvault/internal/domain"
	"github.com/alanyoungcy/marketvault/internal/ledger"
	"github.com/alanyoungcy/marketvault/internal/store/memory"
	"github.com/alanyoungcy/marketvault/internal/token"
)

var (
	mintKey   = common.HexToAddress("0x1001")
	authority = common.HexToAddress("0xa0")
	alice     = common.HexToAddress("0xa11ce")
	bob       = common.HexToAddress("0xb0b")
)

func setup(t *testing.T) *ledger.Ledger {
	t.Helper()
	l, err := ledger.New(context.Background(), memory.New(), nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	_, err = l.Execute(context.Background(), []common.Address{mintKey}, func(tx *ledger.Tx) error {
		return token.CreateMint(tx, mintKey, authority, 6)
	})
	require.NoError(t, err)
	return l
}

func balance(t *testing.T, l *ledger.Ledger, owner common.Address) uint64 {
	t.Helper()
	var bal uint64
	require.NoError(t, l.View(context.Background(), func(tx *ledger.Tx) error {
		var err error
		bal, err = token.Balance(tx, token.AssociatedAddress(owner, mintKey))
		return err
	}))
	return bal
}

func fund(t *testing.T, l *ledger.Ledger, owner common.Address, amount uint64) {
	t.Helper()
	_, err := l.Execute(context.Background(), []common.Address{authority}, func(tx *ledger.Tx) error {
		acct, err := token.EnsureAssociated(tx, owner, mintKey)
		if err != nil {
			return err
		}
		return token.MintTo(tx, mintKey, acct, amount)
	})
	require.NoError(t, err)
}

func TestAssociatedAddressIsPerOwnerAndMint(t *testing.T) {
	other := common.HexToAddress("0x1002")
	assert.Equal(t, token.AssociatedAddress(alice, mintKey), token.AssociatedAddress(alice, mintKey))
	assert.NotEqual(t, token.AssociatedAddress(alice, mintKey), token.AssociatedAddress(bob, mintKey))
	assert.NotEqual(t, token.AssociatedAddress(alice, mintKey), token.AssociatedAddress(alice, other))
}

func TestEnsureAssociatedIsIdempotent(t *testing.T) {
	l := setup(t)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := l.Execute(ctx, nil, func(tx *ledger.Tx) error {
			addr, err := token.EnsureAssociated(tx, alice, mintKey)
			assert.Equal(t, token.AssociatedAddress(alice, mintKey), addr)
			return err
		})
		require.NoError(t, err)
	}
	assert.Zero(t, balance(t, l, alice))
}

func TestMintToRequiresAuthority(t *testing.T) {
	l := setup(t)
	_, err := l.Execute(context.Background(), []common.Address{alice}, func(tx *ledger.Tx) error {
		acct, err := token.EnsureAssociated(tx, alice, mintKey)
		if err != nil {
			return err
		}
		return token.MintTo(tx, mintKey, acct, 10)
	})
	require.ErrorIs(t, err, domain.ErrMintAuthorityMismatch)

	fund(t, l, alice, 10)
	assert.Equal(t, uint64(10), balance(t, l, alice))
}

func TestTransfer(t *testing.T) {
	l := setup(t)
	ctx := context.Background()
	fund(t, l, alice, 100)
	fund(t, l, bob, 0)
	from := token.AssociatedAddress(alice, mintKey)
	to := token.AssociatedAddress(bob, mintKey)

	tests := []struct {
		name    string
		signer  common.Address
		amount  uint64
		wantErr error
	}{
		{name: "owner must sign", signer: bob, amount: 10, wantErr: domain.ErrTokenOwnerMismatch},
		{name: "insufficient funds", signer: alice, amount: 101, wantErr: domain.ErrInsufficientFunds},
		{name: "moves balance", signer: alice, amount: 40},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Execute(ctx, []common.Address{tt.signer}, func(tx *ledger.Tx) error {
				return token.Transfer(tx, from, to, tt.amount)
			})
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}
	assert.Equal(t, uint64(60), balance(t, l, alice))
	assert.Equal(t, uint64(40), balance(t, l, bob))
}

func TestBurnReducesSupply(t *testing.T) {
	l := setup(t)
	ctx := context.Background()
	fund(t, l, alice, 50)
	acct := token.AssociatedAddress(alice, mintKey)

	_, err := l.Execute(ctx, []common.Address{alice}, func(tx *ledger.Tx) error {
		if err := token.Burn(tx, mintKey, acct, 0); err != nil {
			return err
		}
		return token.Burn(tx, mintKey, acct, 20)
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(30), balance(t, l, alice))

	require.NoError(t, l.View(ctx, func(tx *ledger.Tx) error {
		mint, err := token.MintAccount.Load(tx, mintKey)
		require.NoError(t, err)
		assert.Equal(t, uint64(30), mint.Supply)
		return nil
	}))

	_, err = l.Execute(ctx, []common.Address{alice}, func(tx *ledger.Tx) error {
		return token.Burn(tx, mintKey, acct, 31)
	})
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
}
