package executor

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketvault/internal/crypto"
	"github.com/alanyoungcy/marketvault/internal/domain"
)

// Instruction names one operation and carries its arguments.
type Instruction struct {
	Type string          `json:"type"`
	Args json.RawMessage `json:"args,omitempty"`
}

// Envelope is a signed transaction as submitted by clients. Signatures are
// over crypto.Digest(Instruction, Nonce) and are hex encoded; the first
// signer acts as the caller.
type Envelope struct {
	Instruction json.RawMessage `json:"instruction"`
	Nonce       uint64          `json:"nonce"`
	Signatures  []string        `json:"signatures"`
}

// Digest is what every signature in the envelope signs.
func (e *Envelope) Digest() common.Hash {
	return crypto.Digest(e.Instruction, e.Nonce)
}

// Signers recovers the signer of every signature, in order. A signer may
// appear only once.
func (e *Envelope) Signers() ([]common.Address, error) {
	if len(e.Signatures) == 0 {
		return nil, fmt.Errorf("no signatures: %w", domain.ErrInvalidSignature)
	}
	digest := e.Digest()
	out := make([]common.Address, 0, len(e.Signatures))
	seen := make(map[common.Address]bool, len(e.Signatures))
	for i, sig := range e.Signatures {
		addr, err := crypto.RecoverHex(digest, sig)
		if err != nil {
			return nil, fmt.Errorf("signature %d: %w", i, err)
		}
		if seen[addr] {
			return nil, fmt.Errorf("signer %s repeated: %w", addr.Hex(), domain.ErrInvalidSignature)
		}
		seen[addr] = true
		out = append(out, addr)
	}
	return out, nil
}

// NewEnvelope encodes an instruction of type typ with args and signs it
// with every signer, the first being the caller.
func NewEnvelope(typ string, args any, nonce uint64, signers ...*crypto.Signer) (*Envelope, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("executor: encode args: %w", err)
	}
	instr, err := json.Marshal(Instruction{Type: typ, Args: raw})
	if err != nil {
		return nil, fmt.Errorf("executor: encode instruction: %w", err)
	}
	env := &Envelope{Instruction: instr, Nonce: nonce}
	digest := env.Digest()
	for _, s := range signers {
		sig, err := s.SignHex(digest)
		if err != nil {
			return nil, err
		}
		env.Signatures = append(env.Signatures, sig)
	}
	return env, nil
}
