package escrow

import (
	"fmt"
	"strings"

	"peerescrow/core/types"
	"peerescrow/crypto"
)

// MaxOrderIDLength bounds the caller-chosen order identifier.
const MaxOrderIDLength = 32

// Initiator names the party that opens an order.
type Initiator uint8

const (
	InitiatorSeller Initiator = iota + 1
	InitiatorBuyer
)

func (i Initiator) String() string {
	switch i {
	case InitiatorSeller:
		return "seller"
	case InitiatorBuyer:
		return "buyer"
	default:
		return "unknown"
	}
}

// Valid reports whether the initiator is one of the supported values.
func (i Initiator) Valid() bool {
	return i == InitiatorSeller || i == InitiatorBuyer
}

// ParseInitiator converts the textual form into an Initiator.
func ParseInitiator(value string) (Initiator, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "seller":
		return InitiatorSeller, nil
	case "buyer":
		return InitiatorBuyer, nil
	default:
		return 0, fmt.Errorf("escrow: unknown initiator %q", value)
	}
}

// FundingSource names where automatic or deposited funds are drawn from.
type FundingSource uint8

const (
	FundingWallet FundingSource = iota + 1
	FundingPool
)

func (f FundingSource) String() string {
	switch f {
	case FundingWallet:
		return "wallet"
	case FundingPool:
		return "pool"
	default:
		return "unknown"
	}
}

// Valid reports whether the funding source is supported.
func (f FundingSource) Valid() bool {
	return f == FundingWallet || f == FundingPool
}

// ParseFundingSource converts the textual form into a FundingSource.
func ParseFundingSource(value string) (FundingSource, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "wallet":
		return FundingWallet, nil
	case "pool", "instant":
		return FundingPool, nil
	default:
		return 0, fmt.Errorf("escrow: unknown funding source %q", value)
	}
}

// CancelWindowKind discriminates the CancelWindow variants.
type CancelWindowKind uint8

const (
	// CancelWindowPending carries the deadline after which the seller may
	// cancel unilaterally.
	CancelWindowPending CancelWindowKind = iota + 1
	// CancelWindowPaidConfirmed records that the buyer confirmed payment;
	// seller cancellation is permanently disabled.
	CancelWindowPaidConfirmed
)

// CancelWindow governs when the seller may cancel an order.
type CancelWindow struct {
	Kind     CancelWindowKind
	Deadline uint64
}

// PendingUntil returns a window that opens for the seller at deadline.
func PendingUntil(deadline uint64) CancelWindow {
	return CancelWindow{Kind: CancelWindowPending, Deadline: deadline}
}

// PaidConfirmed returns the window recorded once the buyer marks payment.
func PaidConfirmed() CancelWindow {
	return CancelWindow{Kind: CancelWindowPaidConfirmed}
}

// IsPaidConfirmed reports whether payment has been marked.
func (w CancelWindow) IsPaidConfirmed() bool {
	return w.Kind == CancelWindowPaidConfirmed
}

// SellerMayCancel reports whether the seller may cancel at now.
func (w CancelWindow) SellerMayCancel(now uint64) bool {
	return w.Kind == CancelWindowPending && w.Deadline <= now
}

func (w CancelWindow) String() string {
	switch w.Kind {
	case CancelWindowPending:
		return fmt.Sprintf("pending(%d)", w.Deadline)
	case CancelWindowPaidConfirmed:
		return "paid_confirmed"
	default:
		return "unset"
	}
}

// OrderStatus tracks the terminal outcome of an order.
type OrderStatus uint8

const (
	OrderOpen OrderStatus = iota + 1
	OrderReleased
	OrderCancelledByBuyer
	OrderCancelledBySeller
	OrderResolved
)

func (s OrderStatus) String() string {
	switch s {
	case OrderOpen:
		return "open"
	case OrderReleased:
		return "released"
	case OrderCancelledByBuyer:
		return "cancelled_by_buyer"
	case OrderCancelledBySeller:
		return "cancelled_by_seller"
	case OrderResolved:
		return "resolved"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status closes the order.
func (s OrderStatus) Terminal() bool {
	return s != OrderOpen
}

// Registry is the per-seller configuration record. Once initialized every field
// is immutable; the pooled balance lives in the registry custody address.
type Registry struct {
	Initialized    bool
	Seller         crypto.Identity
	FeeBps         uint64
	DisputeFee     uint64
	FeeDiscountNFT crypto.Identity
	Arbitrator     crypto.Identity
	FeeRecipient   crypto.Identity
	CreatedAt      uint64
}

// Clone returns a copy of the registry.
func (r *Registry) Clone() *Registry {
	if r == nil {
		return nil
	}
	clone := *r
	return &clone
}

// OrderKey addresses an order: identifiers are unique per seller.
type OrderKey struct {
	Seller crypto.Identity
	ID     string
}

func (k OrderKey) String() string {
	return k.Seller.String() + "/" + k.ID
}

// Order is the per-trade escrow record.
type Order struct {
	ID                string
	Exists            bool
	Seller            crypto.Identity
	Buyer             crypto.Identity
	Partner           crypto.Identity
	Asset             types.AssetRef
	Amount            uint64
	Fee               uint64
	OpenPeerFee       uint64
	CancelWindow      CancelWindow
	AutomaticEscrow   bool
	Funded            bool
	Dispute           bool
	SellerPaidDispute bool
	BuyerPaidDispute  bool
	Initiator         Initiator
	Funding           FundingSource
	Status            OrderStatus
	Winner            crypto.Identity
	CreatedAt         uint64
	ClosedAt          uint64
}

// Key returns the order's address.
func (o *Order) Key() OrderKey {
	return OrderKey{Seller: o.Seller, ID: o.ID}
}

// Clone returns a copy of the order.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	clone := *o
	return &clone
}

// Locked returns the value held in order custody once funded.
func (o *Order) Locked() (uint64, error) {
	return addAmounts(o.Amount, o.Fee)
}

// IsParty reports whether id is the buyer or the seller.
func (o *Order) IsParty(id crypto.Identity) bool {
	return id == o.Buyer || id == o.Seller
}

// SanitizeOrderID trims and validates a caller supplied order identifier.
func SanitizeOrderID(id string) (string, error) {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return "", fmt.Errorf("%w: order id required", ErrInvalidOrderID)
	}
	if len(trimmed) > MaxOrderIDLength {
		return "", fmt.Errorf("%w: order id exceeds %d bytes", ErrInvalidOrderID, MaxOrderIDLength)
	}
	return trimmed, nil
}
