// Package executor turns signed transaction envelopes into service calls:
// it recovers the signer set, rejects replays and dispatches by type.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"

	"github.com/alanyoungcy/marketvault/internal/domain"
	"github.com/alanyoungcy/marketvault/internal/ledger"
	"github.com/alanyoungcy/marketvault/internal/service"
)

// Services are the operation backends the executor dispatches to.
type Services struct {
	Markets     *service.MarketService
	Vaults      *service.VaultService
	Resolutions *service.ResolutionService
	Tokens      *service.TokenService
}

// Result is what a successful submission returns.
type Result struct {
	Type    string           `json:"type"`
	Digest  common.Hash      `json:"digest"`
	Signers []common.Address `json:"signers"`
	Receipt *ledger.Receipt  `json:"receipt"`
	Output  any              `json:"output,omitempty"`
}

type handler func(ctx context.Context, signers service.Signers, raw json.RawMessage) (any, *ledger.Receipt, error)

// Executor verifies and runs envelopes.
type Executor struct {
	svc      Services
	replay   ReplayGuard
	audit    domain.AuditStore
	validate *validator.Validate
	handlers map[string]handler
	logger   *slog.Logger
}

// New creates an Executor. audit may be nil.
func New(svc Services, replay ReplayGuard, audit domain.AuditStore, logger *slog.Logger) *Executor {
	e := &Executor{
		svc:      svc,
		replay:   replay,
		audit:    audit,
		validate: validator.New(),
		logger:   logger.With(slog.String("component", "executor")),
	}
	e.handlers = e.routes()
	return e
}

// Types lists the instruction types the executor accepts.
func (e *Executor) Types() []string {
	out := make([]string, 0, len(e.handlers))
	for t := range e.handlers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Submit verifies env and executes its instruction as one transaction.
func (e *Executor) Submit(ctx context.Context, env *Envelope) (*Result, error) {
	if env == nil || len(env.Instruction) == 0 {
		return nil, fmt.Errorf("executor: empty envelope: %w", domain.ErrBadInstruction)
	}
	signers, err := env.Signers()
	if err != nil {
		return nil, fmt.Errorf("executor: %w", err)
	}
	var instr Instruction
	if err := json.Unmarshal(env.Instruction, &instr); err != nil {
		return nil, fmt.Errorf("executor: %w: %w", domain.ErrBadInstruction, err)
	}
	h, ok := e.handlers[instr.Type]
	if !ok {
		return nil, fmt.Errorf("executor: %q: %w", instr.Type, domain.ErrUnknownOperation)
	}

	digest := env.Digest()
	fresh, err := e.replay.Claim(ctx, digest)
	if err != nil {
		return nil, fmt.Errorf("executor: replay guard: %w", err)
	}
	if !fresh {
		return nil, fmt.Errorf("executor: %s: %w", digest.Hex(), domain.ErrReplay)
	}

	out, receipt, err := h(ctx, signers, instr.Args)
	e.record(ctx, instr.Type, digest, signers, receipt, err)
	if err != nil {
		return nil, err
	}
	return &Result{
		Type:    instr.Type,
		Digest:  digest,
		Signers: signers,
		Receipt: receipt,
		Output:  out,
	}, nil
}

func (e *Executor) record(ctx context.Context, typ string, digest common.Hash, signers []common.Address, receipt *ledger.Receipt, err error) {
	detail := map[string]any{
		"type":   typ,
		"digest": digest.Hex(),
		"caller": signers[0].Hex(),
	}
	if err != nil {
		detail["error"] = err.Error()
		if pe, ok := domain.AsProgramError(err); ok {
			detail["code"] = pe.Code
		}
		e.logger.InfoContext(ctx, "transaction rejected",
			slog.String("type", typ),
			slog.String("digest", digest.Hex()),
			slog.String("error", err.Error()),
		)
	} else if receipt != nil {
		detail["tx"] = receipt.ID
		detail["slot"] = receipt.Slot
	}
	if e.audit == nil {
		return
	}
	event := "tx_committed"
	if err != nil {
		event = "tx_rejected"
	}
	if aerr := e.audit.Log(ctx, event, detail); aerr != nil {
		e.logger.WarnContext(ctx, "audit log failed", slog.String("error", aerr.Error()))
	}
}

// bind decodes and checks the arguments of one instruction type.
func bind[A any](v *validator.Validate, fn func(ctx context.Context, s service.Signers, args A) (any, *ledger.Receipt, error)) handler {
	return func(ctx context.Context, s service.Signers, raw json.RawMessage) (any, *ledger.Receipt, error) {
		var args A
		if len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
			dec := json.NewDecoder(bytes.NewReader(raw))
			dec.DisallowUnknownFields()
			if err := dec.Decode(&args); err != nil {
				return nil, nil, fmt.Errorf("%w: %w", domain.ErrBadInstruction, err)
			}
		}
		if err := v.Struct(args); err != nil {
			var verrs validator.ValidationErrors
			if errors.As(err, &verrs) && len(verrs) > 0 {
				return nil, nil, fmt.Errorf("%w: field %s fails %q", domain.ErrBadInstruction, verrs[0].Field(), verrs[0].Tag())
			}
			return nil, nil, fmt.Errorf("%w: %w", domain.ErrBadInstruction, err)
		}
		return fn(ctx, s, args)
	}
}

func receiptOnly(r *ledger.Receipt, err error) (any, *ledger.Receipt, error) {
	return nil, r, err
}
