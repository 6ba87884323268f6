package escrow

import (
	"context"
	"fmt"

	"peerescrow/core/types"
	"peerescrow/crypto"
	"peerescrow/native/bank"
)

// CreateOrderParams covers every creation variant: the initiator signs, and an
// automatic order is funded at creation from the seller's wallet or the pool.
type CreateOrderParams struct {
	OrderID           string
	Seller            crypto.Identity
	Buyer             crypto.Identity
	Partner           crypto.Identity
	Amount            uint64
	SellerWaitingTime int64
	AutomaticEscrow   bool
	Asset             types.AssetRef
	Initiator         Initiator
	Funding           FundingSource
}

func (p *CreateOrderParams) sanitize() error {
	id, err := SanitizeOrderID(p.OrderID)
	if err != nil {
		return err
	}
	p.OrderID = id
	if p.Initiator == 0 {
		p.Initiator = InitiatorSeller
	}
	if p.Funding == 0 {
		p.Funding = FundingWallet
	}
	if !p.Initiator.Valid() {
		return ErrInvalidInitiator
	}
	if !p.Funding.Valid() {
		return ErrInvalidFundingSource
	}
	return nil
}

// CreateOrder opens a new order under the seller's registry.
func (e *Engine) CreateOrder(ctx context.Context, signer crypto.Identity, p CreateOrderParams) (*Order, error) {
	if err := p.sanitize(); err != nil {
		return nil, err
	}
	if p.Amount == 0 {
		return nil, ErrInvalidAmount
	}
	if p.Buyer == p.Seller {
		return nil, ErrInvalidBuyer
	}
	if p.SellerWaitingTime < e.params.MinWaitingTime || p.SellerWaitingTime > e.params.MaxWaitingTime {
		return nil, fmt.Errorf("%w: %ds not within [%d, %d]", ErrInvalidSellerWaitingTime,
			p.SellerWaitingTime, e.params.MinWaitingTime, e.params.MaxWaitingTime)
	}
	initiator := p.Seller
	if p.Initiator == InitiatorBuyer {
		initiator = p.Buyer
	}
	if signer != initiator {
		return nil, fmt.Errorf("%w: order must be signed by the %s", ErrUnauthorized, p.Initiator)
	}
	// A buyer cannot sign for the seller's wallet.
	if p.Initiator == InitiatorBuyer && p.AutomaticEscrow && p.Funding != FundingPool {
		return nil, fmt.Errorf("%w: buyer-initiated automatic orders draw from the pool", ErrInvalidFundingSource)
	}

	key := OrderKey{Seller: p.Seller, ID: p.OrderID}
	custody := OrderAddress(key)
	pool := RegistryAddress(p.Seller)
	locks := []crypto.Identity{pool, custody, p.Seller, p.Buyer}

	var created *Order
	err := e.execute(ctx, "create_order", locks, func(st State, out *outcome) error {
		reg, err := loadRegistry(st, p.Seller)
		if err != nil {
			return err
		}
		if _, exists, err := st.GetOrder(key); err != nil {
			return err
		} else if exists {
			return ErrOrderAlreadyExists
		}
		fee, err := ComputeFee(p.Amount, reg.FeeBps)
		if err != nil {
			return err
		}
		openPeerFee, err := ComputeFee(p.Amount, e.params.OpenPeerFeeBps)
		if err != nil {
			return err
		}
		now := e.now()
		order := &Order{
			ID:              p.OrderID,
			Exists:          true,
			Seller:          p.Seller,
			Buyer:           p.Buyer,
			Partner:         p.Partner,
			Asset:           p.Asset,
			Amount:          p.Amount,
			Fee:             fee,
			OpenPeerFee:     openPeerFee,
			CancelWindow:    PendingUntil(now + uint64(p.SellerWaitingTime)),
			AutomaticEscrow: p.AutomaticEscrow,
			Initiator:       p.Initiator,
			Funding:         p.Funding,
			Status:          OrderOpen,
			CreatedAt:       now,
		}
		locked, err := order.Locked()
		if err != nil {
			return err
		}
		if !p.Asset.IsNative() {
			if err := bank.EnsureHolding(st, custody, p.Asset); err != nil {
				return err
			}
		}
		out.emit(NewCreatedEvent(order))
		if p.AutomaticEscrow {
			if err := fundOrder(st, order, p.Funding, locked); err != nil {
				return err
			}
			out.emit(NewFundedEvent(order))
		}
		if err := st.PutOrder(order); err != nil {
			return err
		}
		created = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created.Clone(), nil
}

// fundOrder moves locked into order custody from the seller's wallet or pool.
func fundOrder(st State, order *Order, source FundingSource, locked uint64) error {
	custody := OrderAddress(order.Key())
	var err error
	switch source {
	case FundingPool:
		err = moveFunds(st, registryAuthority(order.Seller), order.Asset, RegistryAddress(order.Seller), custody, locked)
	case FundingWallet:
		err = moveFunds(st, bank.Personal(order.Seller), order.Asset, order.Seller, custody, locked)
	default:
		err = ErrInvalidFundingSource
	}
	if err != nil {
		return err
	}
	order.Funded = true
	order.Funding = source
	return nil
}

// OrderDepositParams funds an order that was created without automatic
// escrow. Amount is validated but the order's own amount plus fee is moved.
type OrderDepositParams struct {
	Key     OrderKey
	Amount  uint64
	Asset   types.AssetRef
	Instant bool
}

// DepositToOrder funds an existing order from the seller's wallet or, when
// Instant is set, from the seller's pool.
func (e *Engine) DepositToOrder(ctx context.Context, signer crypto.Identity, p OrderDepositParams) (*Order, error) {
	if p.Amount == 0 {
		return nil, ErrInvalidAmount
	}
	key, err := sanitizeKey(p.Key)
	if err != nil {
		return nil, err
	}
	if signer != key.Seller {
		return nil, fmt.Errorf("%w: only the seller may fund an order", ErrUnauthorized)
	}
	source := FundingWallet
	if p.Instant {
		source = FundingPool
	}
	locks := []crypto.Identity{RegistryAddress(key.Seller), OrderAddress(key), key.Seller}

	var funded *Order
	err = e.execute(ctx, "deposit_to_order", locks, func(st State, out *outcome) error {
		order, err := loadOpenOrder(st, key)
		if err != nil {
			return err
		}
		if order.Asset != p.Asset {
			return fmt.Errorf("%w: order holds %s, deposit names %s", ErrAssetMismatch, order.Asset, p.Asset)
		}
		if order.Funded {
			return ErrAlreadyFunded
		}
		locked, err := order.Locked()
		if err != nil {
			return err
		}
		if err := fundOrder(st, order, source, locked); err != nil {
			return err
		}
		if err := st.PutOrder(order); err != nil {
			return err
		}
		out.emit(NewFundedEvent(order))
		funded = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return funded.Clone(), nil
}

// MarkAsPaid records the buyer's payment confirmation, permanently disabling
// seller cancellation. Repeated calls succeed without emitting again.
func (e *Engine) MarkAsPaid(ctx context.Context, signer crypto.Identity, key OrderKey) (*Order, error) {
	key, err := sanitizeKey(key)
	if err != nil {
		return nil, err
	}
	var marked *Order
	err = e.execute(ctx, "mark_as_paid", []crypto.Identity{OrderAddress(key)}, func(st State, out *outcome) error {
		order, err := loadOpenOrder(st, key)
		if err != nil {
			return err
		}
		if signer != order.Buyer {
			return fmt.Errorf("%w: only the buyer may mark payment", ErrUnauthorized)
		}
		marked = order
		if order.CancelWindow.IsPaidConfirmed() {
			return nil
		}
		order.CancelWindow = PaidConfirmed()
		if err := st.PutOrder(order); err != nil {
			return err
		}
		out.emit(NewCancelDisabledEvent(order))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return marked.Clone(), nil
}

// ReleaseParams names the parties the seller expects the release to pay.
type ReleaseParams struct {
	Key          OrderKey
	Buyer        crypto.Identity
	FeeRecipient crypto.Identity
}

// Release pays the principal to the buyer and the fee to the registry's fee
// recipient, closing the order.
func (e *Engine) Release(ctx context.Context, signer crypto.Identity, p ReleaseParams) (*Order, error) {
	key, err := sanitizeKey(p.Key)
	if err != nil {
		return nil, err
	}
	reg, snap, err := e.snapshot(ctx, key)
	if err != nil {
		return nil, err
	}
	var released *Order
	err = e.execute(ctx, "release", orderLocks(reg, snap), func(st State, out *outcome) error {
		order, err := loadOpenOrder(st, key)
		if err != nil {
			return err
		}
		if signer != order.Seller {
			return fmt.Errorf("%w: only the seller may release funds", ErrUnauthorized)
		}
		if !order.CancelWindow.IsPaidConfirmed() {
			return ErrCannotReleaseFundsYet
		}
		if p.FeeRecipient != reg.FeeRecipient {
			return ErrInvalidFeeRecipient
		}
		if p.Buyer != order.Buyer {
			return ErrInvalidBuyer
		}
		if !order.Funded {
			return ErrOrderNotFunded
		}
		custody := OrderAddress(key)
		auth := orderAuthority(key)
		if err := moveFunds(st, auth, order.Asset, custody, order.Buyer, order.Amount); err != nil {
			return err
		}
		if err := moveFunds(st, auth, order.Asset, custody, reg.FeeRecipient, order.Fee); err != nil {
			return err
		}
		e.close(order, OrderReleased)
		if err := st.PutOrder(order); err != nil {
			return err
		}
		out.settle(order.Asset, "release", order.Amount)
		out.settle(order.Asset, "fee", order.Fee)
		out.emit(NewReleasedEvent(order, reg.FeeRecipient))
		released = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return released.Clone(), nil
}

// BuyerCancel lets the buyer abandon the trade at any time before settlement.
// Funded value returns to the seller.
func (e *Engine) BuyerCancel(ctx context.Context, signer crypto.Identity, key OrderKey) (*Order, error) {
	return e.cancel(ctx, signer, key, InitiatorBuyer)
}

// SellerCancel lets the seller reclaim the order once its waiting window has
// elapsed and payment has not been marked.
func (e *Engine) SellerCancel(ctx context.Context, signer crypto.Identity, key OrderKey) (*Order, error) {
	return e.cancel(ctx, signer, key, InitiatorSeller)
}

func (e *Engine) cancel(ctx context.Context, signer crypto.Identity, key OrderKey, by Initiator) (*Order, error) {
	key, err := sanitizeKey(key)
	if err != nil {
		return nil, err
	}
	op := "buyer_cancel"
	if by == InitiatorSeller {
		op = "seller_cancel"
	}
	_, snap, err := e.snapshot(ctx, key)
	if err != nil {
		return nil, err
	}
	var cancelled *Order
	err = e.execute(ctx, op, orderLocks(nil, snap), func(st State, out *outcome) error {
		order, err := loadOpenOrder(st, key)
		if err != nil {
			return err
		}
		switch by {
		case InitiatorBuyer:
			if signer != order.Buyer {
				return fmt.Errorf("%w: only the buyer may cancel as buyer", ErrUnauthorized)
			}
		case InitiatorSeller:
			if signer != order.Seller {
				return fmt.Errorf("%w: only the seller may cancel as seller", ErrUnauthorized)
			}
			if !order.CancelWindow.SellerMayCancel(e.now()) {
				return ErrCannotCancelYet
			}
		}
		if order.Funded {
			locked, err := order.Locked()
			if err != nil {
				return err
			}
			if err := moveFunds(st, orderAuthority(key), order.Asset, OrderAddress(key), order.Seller, locked); err != nil {
				return err
			}
			out.settle(order.Asset, "refund", locked)
		}
		if by == InitiatorBuyer {
			e.close(order, OrderCancelledByBuyer)
			out.emit(NewCancelledByBuyerEvent(order, signer))
		} else {
			e.close(order, OrderCancelledBySeller)
			out.emit(NewCancelledBySellerEvent(order, signer))
		}
		if err := st.PutOrder(order); err != nil {
			return err
		}
		cancelled = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cancelled.Clone(), nil
}

func (e *Engine) close(order *Order, status OrderStatus) {
	order.Exists = false
	order.Status = status
	order.ClosedAt = e.now()
}

// Order returns the order record, including closed orders.
func (e *Engine) Order(ctx context.Context, key OrderKey) (*Order, error) {
	key, err := sanitizeKey(key)
	if err != nil {
		return nil, err
	}
	var order *Order
	err = e.view(ctx, func(st State) error {
		record, ok, err := st.GetOrder(key)
		if err != nil {
			return err
		}
		if !ok {
			return ErrEscrowNotFound
		}
		order = record
		return nil
	})
	return order, err
}
