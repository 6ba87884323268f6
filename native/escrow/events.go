package escrow

import (
	"strconv"

	"peerescrow/core/types"
	"peerescrow/crypto"
)

const (
	EventTypeEscrowCreated           = "escrow.created"
	EventTypeEscrowFunded            = "escrow.funded"
	EventTypeEscrowReleased          = "escrow.released"
	EventTypeEscrowCancelDisabled    = "escrow.cancel_disabled"
	EventTypeEscrowCancelledByBuyer  = "escrow.cancelled_by_buyer"
	EventTypeEscrowCancelledBySeller = "escrow.cancelled_by_seller"
	EventTypeEscrowDisputeOpened     = "escrow.dispute_opened"
	EventTypeEscrowDisputeResolved   = "escrow.dispute_resolved"
)

// EventTypes lists every event type the engine emits.
var EventTypes = []string{
	EventTypeEscrowCreated,
	EventTypeEscrowFunded,
	EventTypeEscrowReleased,
	EventTypeEscrowCancelDisabled,
	EventTypeEscrowCancelledByBuyer,
	EventTypeEscrowCancelledBySeller,
	EventTypeEscrowDisputeOpened,
	EventTypeEscrowDisputeResolved,
}

// NewCreatedEvent returns the canonical event payload for a newly created
// order.
func NewCreatedEvent(o *Order) *types.Event {
	evt := newOrderEvent(EventTypeEscrowCreated, o)
	evt.Attributes["initiator"] = o.Initiator.String()
	evt.Attributes["automatic"] = strconv.FormatBool(o.AutomaticEscrow)
	evt.Attributes["deadline"] = strconv.FormatUint(o.CancelWindow.Deadline, 10)
	if !o.Partner.IsZero() {
		evt.Attributes["partner"] = o.Partner.String()
	}
	return evt
}

// NewFundedEvent is emitted when amount plus fee lands in order custody.
func NewFundedEvent(o *Order) *types.Event {
	evt := newOrderEvent(EventTypeEscrowFunded, o)
	evt.Attributes["source"] = o.Funding.String()
	return evt
}

// NewReleasedEvent records the principal paid to the buyer and the fee paid to
// the fee recipient.
func NewReleasedEvent(o *Order, feeRecipient crypto.Identity) *types.Event {
	evt := newOrderEvent(EventTypeEscrowReleased, o)
	evt.Attributes["feeRecipient"] = feeRecipient.String()
	return evt
}

// NewCancelDisabledEvent is emitted the first time the buyer marks payment.
func NewCancelDisabledEvent(o *Order) *types.Event {
	return newOrderEvent(EventTypeEscrowCancelDisabled, o)
}

// NewCancelledByBuyerEvent returns the payload for a buyer cancellation.
func NewCancelledByBuyerEvent(o *Order, actor crypto.Identity) *types.Event {
	return withActor(newOrderEvent(EventTypeEscrowCancelledByBuyer, o), actor)
}

// NewCancelledBySellerEvent returns the payload for a seller cancellation.
func NewCancelledBySellerEvent(o *Order, actor crypto.Identity) *types.Event {
	return withActor(newOrderEvent(EventTypeEscrowCancelledBySeller, o), actor)
}

// NewDisputeOpenedEvent carries the identity that staked the dispute.
func NewDisputeOpenedEvent(o *Order, sender crypto.Identity, stake uint64) *types.Event {
	evt := newOrderEvent(EventTypeEscrowDisputeOpened, o)
	evt.Attributes["sender"] = sender.String()
	evt.Attributes["stake"] = strconv.FormatUint(stake, 10)
	return evt
}

// NewDisputeResolvedEvent carries the winner chosen by the arbitrator.
func NewDisputeResolvedEvent(o *Order, winner, arbitrator crypto.Identity) *types.Event {
	evt := newOrderEvent(EventTypeEscrowDisputeResolved, o)
	evt.Attributes["winner"] = winner.String()
	evt.Attributes["arbitrator"] = arbitrator.String()
	return evt
}

func newOrderEvent(eventType string, o *Order) *types.Event {
	attrs := map[string]string{}
	if o != nil {
		attrs["orderId"] = o.ID
		attrs["seller"] = o.Seller.String()
		attrs["buyer"] = o.Buyer.String()
		attrs["asset"] = o.Asset.String()
		attrs["amount"] = strconv.FormatUint(o.Amount, 10)
		attrs["fee"] = strconv.FormatUint(o.Fee, 10)
		attrs["status"] = o.Status.String()
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

func withActor(evt *types.Event, actor crypto.Identity) *types.Event {
	evt.Attributes["actor"] = actor.String()
	return evt
}
