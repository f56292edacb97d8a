// Package normalizer converts raw decoded program events into canonical
// NormalizedEvent records. It is a pure transformation: no storage access,
// no side effects.
package normalizer

import (
	"fmt"
	"math/big"
	"strconv"
	"time"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"

	"solana-lending-indexer/internal/domain"
)

// NormalizationError reports a malformed payload for a known event kind.
// The caller logs and skips the event; it never stops the ingestion loop.
type NormalizationError struct {
	Kind      string
	Signature string
	Reason    string
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalize %s (%s): %s", e.Kind, e.Signature, e.Reason)
}

// Normalizer maps raw events to normalized records.
type Normalizer struct {
	// now supplies the ingestion-time fallback for events whose payload
	// carries no timestamp. Injected for tests.
	now func() int64
}

// New creates a Normalizer using wall-clock time as the fallback source.
func New() *Normalizer {
	return &Normalizer{now: func() int64 { return time.Now().Unix() }}
}

// WithClock overrides the ingestion-time source.
func (n *Normalizer) WithClock(now func() int64) *Normalizer {
	n.now = now
	return n
}

// Normalize converts a raw event into its canonical form.
// Unrecognized kinds become KindUnknown records (still logged, no position
// effect). Known kinds with missing or malformed required fields return a
// *NormalizationError.
func (n *Normalizer) Normalize(raw *domain.RawEvent) (*domain.NormalizedEvent, error) {
	if raw == nil || raw.Signature == "" {
		return nil, &NormalizationError{Kind: "?", Signature: "?", Reason: "missing signature"}
	}

	e := &domain.NormalizedEvent{
		Signature:  raw.Signature,
		Slot:       raw.Slot,
		Raw:        raw.Fields,
		ObservedAt: n.observedAt(raw.Fields),
	}

	fail := func(reason string) (*domain.NormalizedEvent, error) {
		return nil, &NormalizationError{Kind: raw.Kind, Signature: raw.Signature, Reason: reason}
	}

	switch domain.EventKind(raw.Kind) {
	case domain.KindPoolCreated:
		e.Kind = domain.KindPoolCreated
		pool, err := requireAddress(raw.Fields, "pool")
		if err != nil {
			return fail(err.Error())
		}
		mint, err := requireAddress(raw.Fields, "mint")
		if err != nil {
			return fail(err.Error())
		}
		e.Pool = &pool
		e.Mint = &mint

	case domain.KindDeposited:
		e.Kind = domain.KindDeposited
		if err := n.fillUserPoolMint(e, raw.Fields); err != nil {
			return fail(err.Error())
		}
		amount, err := requireAmount(raw.Fields, "deposit_amount")
		if err != nil {
			return fail(err.Error())
		}
		e.Amount = amount

	case domain.KindWithdrawn, domain.KindBorrowed, domain.KindRepaid:
		e.Kind = domain.EventKind(raw.Kind)
		if err := n.fillUserPoolMint(e, raw.Fields); err != nil {
			return fail(err.Error())
		}
		amount, err := requireAmount(raw.Fields, "amount")
		if err != nil {
			return fail(err.Error())
		}
		e.Amount = amount

	case domain.KindLiquidated:
		e.Kind = domain.KindLiquidated
		borrower, err := requireAddress(raw.Fields, "borrower")
		if err != nil {
			return fail(err.Error())
		}
		if !isOnCurve(borrower) {
			return fail("borrower address is not an ed25519 point")
		}
		debtPool, err := requireAddress(raw.Fields, "debt_pool")
		if err != nil {
			return fail(err.Error())
		}
		collateralPool, err := requireAddress(raw.Fields, "collateral_pool")
		if err != nil {
			return fail(err.Error())
		}
		debtRepaid, err := requireAmount(raw.Fields, "debt_repaid")
		if err != nil {
			return fail(err.Error())
		}
		// The deployed IDL misspells this field.
		collateralSeized, err := requireAmount(raw.Fields, "collateral_seized", "collater_seized")
		if err != nil {
			return fail(err.Error())
		}
		e.Borrower = &borrower
		e.User = &borrower
		e.DebtPool = &debtPool
		e.CollateralPool = &collateralPool
		e.DebtRepaid = debtRepaid
		e.CollateralSeized = collateralSeized

	default:
		// Unknown kinds are logged for audit but never reconciled.
		e.Kind = domain.KindUnknown
		if user, err := optionalAddress(raw.Fields, "user"); err == nil && user != "" {
			e.User = &user
		}
		if pool, err := optionalAddress(raw.Fields, "pool"); err == nil && pool != "" {
			e.Pool = &pool
		}
		if mint, err := optionalAddress(raw.Fields, "mint"); err == nil && mint != "" {
			e.Mint = &mint
		}
	}

	return e, nil
}

// fillUserPoolMint resolves the three addresses shared by deposit,
// withdraw, borrow and repay payloads. The user signs the transaction, so
// its key must be a real ed25519 point; pool and mint may be off-curve PDAs.
func (n *Normalizer) fillUserPoolMint(e *domain.NormalizedEvent, fields map[string]any) error {
	user, err := requireAddress(fields, "user")
	if err != nil {
		return err
	}
	if !isOnCurve(user) {
		return fmt.Errorf("user address is not an ed25519 point")
	}
	pool, err := requireAddress(fields, "pool")
	if err != nil {
		return err
	}
	mint, err := requireAddress(fields, "mint")
	if err != nil {
		return err
	}
	e.User = &user
	e.Pool = &pool
	e.Mint = &mint
	return nil
}

// observedAt resolves the event's own timestamp, falling back to ingestion
// time only when the payload has no timestamp field at all.
func (n *Normalizer) observedAt(fields map[string]any) int64 {
	if fields != nil {
		if v, ok := fields["timestamp"]; ok {
			if ts, ok := toEpochSeconds(v); ok {
				return ts
			}
		}
	}
	return n.now()
}

// toEpochSeconds converts the various shapes a chain timestamp arrives in
// (native numbers, wide integers, decimal strings) to Unix seconds.
func toEpochSeconds(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case uint64:
		return int64(t), true
	case float64:
		return int64(t), true
	case string:
		ts, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return 0, false
		}
		return ts, true
	case *big.Int:
		if !t.IsInt64() {
			return 0, false
		}
		return t.Int64(), true
	case interface{ Int64() (int64, error) }: // json.Number
		ts, err := t.Int64()
		if err != nil {
			return 0, false
		}
		return ts, true
	}
	return 0, false
}

// requireAddress resolves a required base58 address field into canonical
// form (decode + re-encode of the 32-byte key).
func requireAddress(fields map[string]any, name string) (string, error) {
	addr, err := optionalAddress(fields, name)
	if err != nil {
		return "", err
	}
	if addr == "" {
		return "", fmt.Errorf("missing required field %q", name)
	}
	return addr, nil
}

// optionalAddress resolves an address field, returning "" if absent.
func optionalAddress(fields map[string]any, name string) (string, error) {
	if fields == nil {
		return "", nil
	}
	v, ok := fields[name]
	if !ok || v == nil {
		return "", nil
	}

	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("field %q is not an address string", name)
	}

	decoded, err := base58.Decode(s)
	if err != nil {
		return "", fmt.Errorf("field %q is not valid base58: %v", name, err)
	}
	if len(decoded) != 32 {
		return "", fmt.Errorf("field %q is not a 32-byte key", name)
	}

	return base58.Encode(decoded), nil
}

// requireAmount resolves a required unsigned amount field, trying the given
// names in order.
func requireAmount(fields map[string]any, names ...string) (uint64, error) {
	if fields != nil {
		for _, name := range names {
			v, ok := fields[name]
			if !ok || v == nil {
				continue
			}
			amount, ok := toAmount(v)
			if !ok {
				return 0, fmt.Errorf("field %q is not a valid amount", name)
			}
			return amount, nil
		}
	}
	return 0, fmt.Errorf("missing required field %q", names[0])
}

// toAmount converts numeric payload shapes to a uint64 amount.
func toAmount(v any) (uint64, bool) {
	switch t := v.(type) {
	case uint64:
		return t, true
	case int64:
		if t < 0 {
			return 0, false
		}
		return uint64(t), true
	case int:
		if t < 0 {
			return 0, false
		}
		return uint64(t), true
	case float64:
		if t < 0 {
			return 0, false
		}
		return uint64(t), true
	case string:
		amount, err := strconv.ParseUint(t, 10, 64)
		if err != nil {
			return 0, false
		}
		return amount, true
	case *big.Int:
		if t.Sign() < 0 || !t.IsUint64() {
			return 0, false
		}
		return t.Uint64(), true
	case interface{ Int64() (int64, error) }: // json.Number
		n, err := t.Int64()
		if err != nil || n < 0 {
			return 0, false
		}
		return uint64(n), true
	}
	return 0, false
}

// isOnCurve reports whether the base58 address decodes to a valid ed25519
// curve point. Wallet keys that sign transactions always are; program
// derived addresses deliberately are not.
func isOnCurve(addr string) bool {
	decoded, err := base58.Decode(addr)
	if err != nil || len(decoded) != 32 {
		return false
	}
	_, err = new(edwards25519.Point).SetBytes(decoded)
	return err == nil
}
