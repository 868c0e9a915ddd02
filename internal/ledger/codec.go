package ledger

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/alanyoungcy/marketvault/internal/domain"
)

// Account layout: 8-byte discriminator, 1-byte layout version, RLP body.
const (
	DiscriminatorSize = 8
	LayoutVersion     = 1
	headerSize        = DiscriminatorSize + 1
)

// Discriminator returns the type tag stored at the start of every account
// of the given kind.
func Discriminator(name string) [DiscriminatorSize]byte {
	var d [DiscriminatorSize]byte
	copy(d[:], crypto.Keccak256([]byte("account:"+name)))
	return d
}

// Kind binds a Go account type to its discriminator and owning program.
type Kind[T any] struct {
	Name  string
	Owner common.Address
	disc  [DiscriminatorSize]byte
}

func NewKind[T any](name string, owner common.Address) Kind[T] {
	return Kind[T]{Name: name, Owner: owner, disc: Discriminator(name)}
}

func (k Kind[T]) Encode(v *T) ([]byte, error) {
	body, err := rlp.EncodeToBytes(v)
	if err != nil {
		return nil, fmt.Errorf("ledger: encode %s: %w", k.Name, err)
	}
	out := make([]byte, 0, headerSize+len(body))
	out = append(out, k.disc[:]...)
	out = append(out, LayoutVersion)
	return append(out, body...), nil
}

func (k Kind[T]) Decode(data []byte) (*T, error) {
	if !k.Matches(data) {
		return nil, fmt.Errorf("ledger: decode %s: %w", k.Name, domain.ErrAccountDiscriminator)
	}
	if data[DiscriminatorSize] != LayoutVersion {
		return nil, fmt.Errorf("ledger: decode %s: layout version %d: %w", k.Name, data[DiscriminatorSize], domain.ErrAccountDecode)
	}
	v := new(T)
	if err := rlp.DecodeBytes(data[headerSize:], v); err != nil {
		return nil, fmt.Errorf("ledger: decode %s: %v: %w", k.Name, err, domain.ErrAccountDecode)
	}
	return v, nil
}

// Matches reports whether data carries this kind's discriminator.
func (k Kind[T]) Matches(data []byte) bool {
	return len(data) >= headerSize && bytes.Equal(data[:DiscriminatorSize], k.disc[:])
}

// Load reads and decodes the account at addr, checking owner and type.
func (k Kind[T]) Load(tx *Tx, addr common.Address) (*T, error) {
	acct, err := tx.Get(addr)
	if err != nil {
		return nil, err
	}
	if acct.Owner != k.Owner {
		return nil, fmt.Errorf("ledger: load %s %s: %w", k.Name, addr.Hex(), domain.ErrAccountOwnerMismatch)
	}
	return k.Decode(acct.Data)
}

// Init allocates addr for v. addr must be a signer of the transaction, which
// for program-derived addresses means the caller is inside InvokeSigned.
func (k Kind[T]) Init(tx *Tx, addr common.Address, v *T) error {
	data, err := k.Encode(v)
	if err != nil {
		return err
	}
	return tx.Create(addr, k.Owner, data)
}

// Save overwrites an existing account of this kind.
func (k Kind[T]) Save(tx *Tx, addr common.Address, v *T) error {
	data, err := k.Encode(v)
	if err != nil {
		return err
	}
	return tx.Put(addr, k.Owner, data)
}

// Exists reports whether addr already holds data.
func (k Kind[T]) Exists(tx *Tx, addr common.Address) (bool, error) {
	return tx.Exists(addr)
}
