// Package anchor decodes Anchor-emitted event payloads from Solana
// transaction logs into raw field bags.
package anchor

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"strings"

	"github.com/mr-tron/base58"
)

// programDataPrefix marks log lines carrying a borsh-encoded event.
const programDataPrefix = "Program data: "

// discriminatorLen is the Anchor event discriminator size.
const discriminatorLen = 8

// Field types in the fixed borsh layouts.
type fieldType int

const (
	fieldPubkey fieldType = iota // 32 raw bytes, rendered base58
	fieldU64                     // little-endian uint64
	fieldI64                     // little-endian int64
)

type field struct {
	name string
	typ  fieldType
}

// DecodedEvent is one event recovered from a transaction's logs.
type DecodedEvent struct {
	Name   string
	Fields map[string]any
}

// Decoder maps Anchor event discriminators to their borsh layouts.
type Decoder struct {
	layouts map[[discriminatorLen]byte]eventLayout
}

type eventLayout struct {
	name   string
	fields []field
}

// NewDecoder creates a Decoder for the lending program's event set.
func NewDecoder() *Decoder {
	d := &Decoder{layouts: make(map[[discriminatorLen]byte]eventLayout)}

	d.register("CreatePoolEvent", []field{
		{"pool", fieldPubkey},
		{"mint", fieldPubkey},
		{"timestamp", fieldI64},
	})
	d.register("DepositEvent", []field{
		{"user", fieldPubkey},
		{"pool", fieldPubkey},
		{"mint", fieldPubkey},
		{"deposit_amount", fieldU64},
		{"dtoken_minted", fieldU64},
		{"price_usd_1e6", fieldU64},
		{"collateral_value_usd", fieldU64},
		{"timestamp", fieldI64},
	})
	d.register("WithdrawEvent", []field{
		{"user", fieldPubkey},
		{"pool", fieldPubkey},
		{"mint", fieldPubkey},
		{"amount", fieldU64},
		{"price_usd_1e6", fieldU64},
		{"timestamp", fieldI64},
	})
	d.register("BorrowEvent", []field{
		{"user", fieldPubkey},
		{"pool", fieldPubkey},
		{"mint", fieldPubkey},
		{"amount", fieldU64},
		{"price_usd_1e6", fieldU64},
		{"timestamp", fieldI64},
	})
	d.register("RepayEvent", []field{
		{"user", fieldPubkey},
		{"pool", fieldPubkey},
		{"mint", fieldPubkey},
		{"amount", fieldU64},
		{"remaining_debt", fieldU64},
		{"new_total_borrowed", fieldU64},
		{"timestamp", fieldI64},
	})
	// The program emits no timestamp for liquidations; "collater_seized"
	// is the field name the deployed IDL actually uses.
	d.register("LiquidateEvent", []field{
		{"liquidator", fieldPubkey},
		{"borrower", fieldPubkey},
		{"debt_repaid", fieldU64},
		{"collater_seized", fieldU64},
		{"debt_pool", fieldPubkey},
		{"collateral_pool", fieldPubkey},
	})
	d.register("InitConfigEvent", []field{
		{"config", fieldPubkey},
	})

	return d
}

// register adds a layout keyed by its Anchor discriminator.
func (d *Decoder) register(name string, fields []field) {
	d.layouts[Discriminator(name)] = eventLayout{name: name, fields: fields}
}

// Discriminator computes the 8-byte Anchor event discriminator:
// sha256("event:<Name>")[:8].
func Discriminator(name string) [discriminatorLen]byte {
	sum := sha256.Sum256([]byte("event:" + name))
	var disc [discriminatorLen]byte
	copy(disc[:], sum[:discriminatorLen])
	return disc
}

// DecodeLogs scans transaction log lines for "Program data:" entries and
// decodes each into a DecodedEvent. Payloads with an unrecognized
// discriminator are surfaced as UnknownEvent with the raw data preserved,
// so the audit log never silently drops a delivery.
func (d *Decoder) DecodeLogs(logs []string) []*DecodedEvent {
	var events []*DecodedEvent

	for _, line := range logs {
		idx := strings.Index(line, programDataPrefix)
		if idx < 0 {
			continue
		}

		data, err := base64.StdEncoding.DecodeString(line[idx+len(programDataPrefix):])
		if err != nil || len(data) < discriminatorLen {
			continue
		}

		events = append(events, d.decode(data))
	}

	return events
}

// decode parses one borsh payload.
func (d *Decoder) decode(data []byte) *DecodedEvent {
	var disc [discriminatorLen]byte
	copy(disc[:], data[:discriminatorLen])

	layout, ok := d.layouts[disc]
	if !ok {
		return &DecodedEvent{
			Name: "UnknownEvent",
			Fields: map[string]any{
				"discriminator": hex.EncodeToString(disc[:]),
				"data":          base64.StdEncoding.EncodeToString(data[discriminatorLen:]),
			},
		}
	}

	fields := make(map[string]any, len(layout.fields))
	rest := data[discriminatorLen:]

	for _, f := range layout.fields {
		switch f.typ {
		case fieldPubkey:
			if len(rest) < 32 {
				return truncated(layout.name, disc, data)
			}
			fields[f.name] = base58.Encode(rest[:32])
			rest = rest[32:]
		case fieldU64:
			if len(rest) < 8 {
				return truncated(layout.name, disc, data)
			}
			fields[f.name] = binary.LittleEndian.Uint64(rest[:8])
			rest = rest[8:]
		case fieldI64:
			if len(rest) < 8 {
				return truncated(layout.name, disc, data)
			}
			fields[f.name] = int64(binary.LittleEndian.Uint64(rest[:8]))
			rest = rest[8:]
		}
	}

	return &DecodedEvent{Name: layout.name, Fields: fields}
}

// truncated reports a payload too short for its declared layout. The event
// keeps its name so the normalizer rejects it as malformed rather than
// unknown.
func truncated(name string, disc [discriminatorLen]byte, data []byte) *DecodedEvent {
	return &DecodedEvent{
		Name: name,
		Fields: map[string]any{
			"discriminator": hex.EncodeToString(disc[:]),
			"data":          base64.StdEncoding.EncodeToString(data[discriminatorLen:]),
			"truncated":     true,
		},
	}
}
