package domain

// EventKind identifies the type of a normalized lending event.
// The string values match the Anchor event names emitted by the program,
// so they round-trip through the event log and the query surface unchanged.
type EventKind string

const (
	KindPoolCreated EventKind = "CreatePoolEvent"
	KindDeposited   EventKind = "DepositEvent"
	KindWithdrawn   EventKind = "WithdrawEvent"
	KindBorrowed    EventKind = "BorrowEvent"
	KindRepaid      EventKind = "RepayEvent"
	KindLiquidated  EventKind = "LiquidateEvent"

	// KindUnknown marks events the normalizer does not recognize
	// (e.g. InitConfigEvent). They are logged for audit but never
	// change a pool or position.
	KindUnknown EventKind = "UnknownEvent"
)

// String returns the string representation of EventKind.
func (k EventKind) String() string {
	return string(k)
}

// IsValid checks if the kind is one of the known values (including Unknown).
func (k EventKind) IsValid() bool {
	switch k {
	case KindPoolCreated, KindDeposited, KindWithdrawn, KindBorrowed,
		KindRepaid, KindLiquidated, KindUnknown:
		return true
	}
	return false
}

// NormalizedEvent is the canonical typed record of one on-chain event.
// Corresponds to the events table in PostgreSQL. Immutable once appended;
// Signature is the globally unique idempotency key.
type NormalizedEvent struct {
	ID         int64     // BIGSERIAL primary key (0 before append)
	Kind       EventKind // closed event kind enum
	User       *string   // base58 user address (nullable)
	Pool       *string   // base58 pool address (nullable)
	Mint       *string   // base58 mint address (nullable)
	Signature  string    // transaction signature, unique
	Slot       int64     // Solana slot number (0 if unknown)
	ObservedAt int64     // event timestamp, Unix seconds

	// Amount is the payload amount for Deposited/Withdrawn/Borrowed/Repaid.
	Amount uint64

	// Liquidation payload. Both sub-updates key off Borrower.
	Borrower         *string
	DebtPool         *string
	CollateralPool   *string
	DebtRepaid       uint64
	CollateralSeized uint64

	// Raw is the decoded field bag as delivered by the source, kept
	// verbatim for the audit trail (stored as JSONB).
	Raw map[string]any
}

// EventFilter selects events on the query surface. Zero-value fields are
// unconstrained; set fields are ANDed.
type EventFilter struct {
	User      string
	Pool      string
	Kind      EventKind
	Signature string
}
