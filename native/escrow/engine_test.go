package escrow_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"peerescrow/core/events"
	"peerescrow/core/state"
	"peerescrow/core/types"
	"peerescrow/crypto"
	"peerescrow/native/escrow"
	"peerescrow/storage"
)

const (
	startTime    = int64(1_700_000_000)
	waitingTime  = int64(escrow.MinSellerWaitingTime)
	tradeAmount  = uint64(1_000_000)
	tradeFee     = uint64(10_000)
	feeBps       = uint64(100)
	disputeStake = uint64(escrow.DefaultDisputeStake)
)

type harness struct {
	t        *testing.T
	ctx      context.Context
	ledger   *state.Ledger
	engine   *escrow.Engine
	recorder *events.Recorder
	clock    int64

	seller       crypto.Identity
	buyer        crypto.Identity
	arbitrator   crypto.Identity
	feeRecipient crypto.Identity
	stranger     crypto.Identity
}

func identity(tag byte) crypto.Identity {
	return crypto.DeriveIdentity("test", []byte{tag})
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ledger := state.NewLedger(storage.NewMemDB())
	h := &harness{
		t:            t,
		ctx:          context.Background(),
		ledger:       ledger,
		engine:       escrow.NewEngine(ledger.EscrowHost()),
		recorder:     &events.Recorder{},
		clock:        startTime,
		seller:       identity(1),
		buyer:        identity(2),
		arbitrator:   identity(3),
		feeRecipient: identity(4),
		stranger:     identity(5),
	}
	h.engine.SetEmitter(h.recorder)
	h.engine.SetNowFunc(func() int64 { return h.clock })
	return h
}

func (h *harness) mint(to crypto.Identity, asset types.AssetRef, amount uint64) {
	h.t.Helper()
	if err := h.ledger.Mint(h.ctx, to, asset, amount); err != nil {
		h.t.Fatalf("mint: %v", err)
	}
}

func (h *harness) balance(id crypto.Identity, asset types.AssetRef) uint64 {
	h.t.Helper()
	bal, err := h.engine.Balance(h.ctx, id, asset)
	if err != nil {
		h.t.Fatalf("balance: %v", err)
	}
	return bal
}

func (h *harness) initialize(disputeFee uint64) {
	h.t.Helper()
	_, err := h.engine.Initialize(h.ctx, h.seller, escrow.InitializeParams{
		Seller:       h.seller,
		FeeBps:       feeBps,
		DisputeFee:   disputeFee,
		Arbitrator:   h.arbitrator,
		FeeRecipient: h.feeRecipient,
	})
	if err != nil {
		h.t.Fatalf("initialize: %v", err)
	}
}

func (h *harness) orderParams(id string) escrow.CreateOrderParams {
	return escrow.CreateOrderParams{
		OrderID:           id,
		Seller:            h.seller,
		Buyer:             h.buyer,
		Amount:            tradeAmount,
		SellerWaitingTime: waitingTime,
		AutomaticEscrow:   true,
		Initiator:         escrow.InitiatorSeller,
		Funding:           escrow.FundingWallet,
	}
}

func (h *harness) createFunded(id string) escrow.OrderKey {
	h.t.Helper()
	order, err := h.engine.CreateOrder(h.ctx, h.seller, h.orderParams(id))
	if err != nil {
		h.t.Fatalf("create order: %v", err)
	}
	return order.Key()
}

func (h *harness) key(id string) escrow.OrderKey {
	return escrow.OrderKey{Seller: h.seller, ID: id}
}

func (h *harness) nativeTotal(ids ...crypto.Identity) uint64 {
	var total uint64
	for _, id := range ids {
		total += h.balance(id, types.NativeAsset)
	}
	return total
}

func expectErr(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
}

func TestInitializeGuards(t *testing.T) {
	h := newHarness(t)
	params := escrow.InitializeParams{Seller: h.seller, FeeBps: feeBps, Arbitrator: h.arbitrator, FeeRecipient: h.feeRecipient}
	_, err := h.engine.Initialize(h.ctx, h.stranger, params)
	expectErr(t, err, escrow.ErrUnauthorized)

	bad := params
	bad.FeeBps = escrow.BpsDenominator + 1
	_, err = h.engine.Initialize(h.ctx, h.seller, bad)
	expectErr(t, err, escrow.ErrInvalidFeeBps)

	reg, err := h.engine.Initialize(h.ctx, h.seller, params)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if !reg.Initialized || reg.FeeBps != feeBps || reg.CreatedAt != uint64(startTime) {
		t.Fatalf("unexpected registry %+v", reg)
	}
	params.FeeBps = 1
	_, err = h.engine.Initialize(h.ctx, h.seller, params)
	expectErr(t, err, escrow.ErrAlreadyInitialized)

	stored, err := h.engine.Registry(h.ctx, h.seller)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	if stored.FeeBps != feeBps {
		t.Fatalf("registry fields must be immutable, fee bps %d", stored.FeeBps)
	}
}

func TestCreateOrderValidation(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.CreateOrder(h.ctx, h.seller, h.orderParams("o-1"))
	expectErr(t, err, escrow.ErrRegistryNotInitialized)

	h.initialize(0)
	h.mint(h.seller, types.NativeAsset, 10*tradeAmount)

	cases := []struct {
		name   string
		signer crypto.Identity
		mutate func(*escrow.CreateOrderParams)
		want   error
	}{
		{"zero amount", h.seller, func(p *escrow.CreateOrderParams) { p.Amount = 0 }, escrow.ErrInvalidAmount},
		{"buyer is seller", h.seller, func(p *escrow.CreateOrderParams) { p.Buyer = h.seller }, escrow.ErrInvalidBuyer},
		{"window too short", h.seller, func(p *escrow.CreateOrderParams) { p.SellerWaitingTime = 899 }, escrow.ErrInvalidSellerWaitingTime},
		{"window too long", h.seller, func(p *escrow.CreateOrderParams) { p.SellerWaitingTime = 86_401 }, escrow.ErrInvalidSellerWaitingTime},
		{"empty id", h.seller, func(p *escrow.CreateOrderParams) { p.OrderID = " " }, escrow.ErrInvalidOrderID},
		{"long id", h.seller, func(p *escrow.CreateOrderParams) { p.OrderID = "0123456789abcdef0123456789abcdef!" }, escrow.ErrInvalidOrderID},
		{"wrong signer", h.buyer, func(*escrow.CreateOrderParams) {}, escrow.ErrUnauthorized},
		{"buyer automatic from wallet", h.buyer, func(p *escrow.CreateOrderParams) { p.Initiator = escrow.InitiatorBuyer }, escrow.ErrInvalidFundingSource},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			params := h.orderParams("o-1")
			tc.mutate(&params)
			_, err := h.engine.CreateOrder(h.ctx, tc.signer, params)
			expectErr(t, err, tc.want)
		})
	}

	for _, waiting := range []int64{900, 86_400} {
		params := h.orderParams("edge")
		params.OrderID = fmt.Sprintf("edge-%d", waiting)
		params.SellerWaitingTime = waiting
		params.AutomaticEscrow = false
		if _, err := h.engine.CreateOrder(h.ctx, h.seller, params); err != nil {
			t.Fatalf("waiting time %d should be accepted: %v", waiting, err)
		}
	}

	h.createFunded("dup")
	_, err = h.engine.CreateOrder(h.ctx, h.seller, h.orderParams("dup"))
	expectErr(t, err, escrow.ErrOrderAlreadyExists)
	if got := len(h.recorder.OfType(escrow.EventTypeEscrowCreated)); got != 3 {
		t.Fatalf("expected 3 created events, got %d", got)
	}
}

func TestReleaseHappyPath(t *testing.T) {
	h := newHarness(t)
	h.initialize(0)
	h.mint(h.seller, types.NativeAsset, 2_000_000)
	parties := []crypto.Identity{h.seller, h.buyer, h.feeRecipient, escrow.OrderAddress(h.key("trade-1"))}
	before := h.nativeTotal(parties...)

	key := h.createFunded("trade-1")
	order, err := h.engine.Order(h.ctx, key)
	if err != nil {
		t.Fatalf("order: %v", err)
	}
	if order.Fee != tradeFee || order.OpenPeerFee != 3_000 || !order.Funded {
		t.Fatalf("unexpected order %+v", order)
	}
	if order.CancelWindow != escrow.PendingUntil(uint64(startTime+waitingTime)) {
		t.Fatalf("unexpected cancel window %s", order.CancelWindow)
	}
	if got := h.balance(escrow.OrderAddress(key), types.NativeAsset); got != tradeAmount+tradeFee {
		t.Fatalf("custody holds %d, want %d", got, tradeAmount+tradeFee)
	}
	if got := h.balance(h.seller, types.NativeAsset); got != 2_000_000-1_010_000 {
		t.Fatalf("seller balance %d", got)
	}

	_, err = h.engine.Release(h.ctx, h.seller, escrow.ReleaseParams{Key: key, Buyer: h.buyer, FeeRecipient: h.feeRecipient})
	expectErr(t, err, escrow.ErrCannotReleaseFundsYet)

	_, err = h.engine.MarkAsPaid(h.ctx, h.seller, key)
	expectErr(t, err, escrow.ErrUnauthorized)
	for i := 0; i < 2; i++ {
		if _, err := h.engine.MarkAsPaid(h.ctx, h.buyer, key); err != nil {
			t.Fatalf("mark as paid #%d: %v", i, err)
		}
	}
	if got := len(h.recorder.OfType(escrow.EventTypeEscrowCancelDisabled)); got != 1 {
		t.Fatalf("cancel disabled must be emitted once, got %d", got)
	}

	_, err = h.engine.Release(h.ctx, h.buyer, escrow.ReleaseParams{Key: key, Buyer: h.buyer, FeeRecipient: h.feeRecipient})
	expectErr(t, err, escrow.ErrUnauthorized)
	_, err = h.engine.Release(h.ctx, h.seller, escrow.ReleaseParams{Key: key, Buyer: h.buyer, FeeRecipient: h.stranger})
	expectErr(t, err, escrow.ErrInvalidFeeRecipient)
	_, err = h.engine.Release(h.ctx, h.seller, escrow.ReleaseParams{Key: key, Buyer: h.stranger, FeeRecipient: h.feeRecipient})
	expectErr(t, err, escrow.ErrInvalidBuyer)

	released, err := h.engine.Release(h.ctx, h.seller, escrow.ReleaseParams{Key: key, Buyer: h.buyer, FeeRecipient: h.feeRecipient})
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if released.Exists || released.Status != escrow.OrderReleased {
		t.Fatalf("released order still live: %+v", released)
	}
	if got := h.balance(h.buyer, types.NativeAsset); got != tradeAmount {
		t.Fatalf("buyer received %d, want %d", got, tradeAmount)
	}
	if got := h.balance(h.feeRecipient, types.NativeAsset); got != tradeFee {
		t.Fatalf("fee recipient received %d, want %d", got, tradeFee)
	}
	if got := h.balance(escrow.OrderAddress(key), types.NativeAsset); got != 0 {
		t.Fatalf("custody retains %d", got)
	}
	if after := h.nativeTotal(parties...); after != before {
		t.Fatalf("funds not conserved: %d -> %d", before, after)
	}

	_, err = h.engine.Release(h.ctx, h.seller, escrow.ReleaseParams{Key: key, Buyer: h.buyer, FeeRecipient: h.feeRecipient})
	expectErr(t, err, escrow.ErrEscrowNotFound)
	_, err = h.engine.CreateOrder(h.ctx, h.seller, h.orderParams("trade-1"))
	expectErr(t, err, escrow.ErrOrderAlreadyExists)

	released, err = h.engine.Order(h.ctx, key)
	if err != nil || released.Status != escrow.OrderReleased {
		t.Fatalf("closed order should remain queryable: %v", err)
	}
	evts := h.recorder.OfType(escrow.EventTypeEscrowReleased)
	if len(evts) != 1 || evts[0].Attributes["orderId"] != "trade-1" || evts[0].Attributes["feeRecipient"] != h.feeRecipient.String() {
		t.Fatalf("unexpected released events %+v", evts)
	}
}

func TestCreateOrderFailsAtomicallyOnShortfall(t *testing.T) {
	h := newHarness(t)
	h.initialize(0)
	h.mint(h.seller, types.NativeAsset, tradeAmount)
	_, err := h.engine.CreateOrder(h.ctx, h.seller, h.orderParams("short"))
	expectErr(t, err, escrow.ErrInsufficientFunds)
	if _, err := h.engine.Order(h.ctx, h.key("short")); !errors.Is(err, escrow.ErrEscrowNotFound) {
		t.Fatalf("failed creation must not persist the order: %v", err)
	}
	if len(h.recorder.Events()) != 0 {
		t.Fatalf("failed operations must not emit events")
	}
}

func TestSellerCancelWindow(t *testing.T) {
	h := newHarness(t)
	h.initialize(0)
	h.mint(h.seller, types.NativeAsset, 2*(tradeAmount+tradeFee))
	key := h.createFunded("early")

	_, err := h.engine.SellerCancel(h.ctx, h.seller, key)
	expectErr(t, err, escrow.ErrCannotCancelYet)
	_, err = h.engine.SellerCancel(h.ctx, h.buyer, key)
	expectErr(t, err, escrow.ErrUnauthorized)

	h.clock = startTime + waitingTime
	cancelled, err := h.engine.SellerCancel(h.ctx, h.seller, key)
	if err != nil {
		t.Fatalf("seller cancel: %v", err)
	}
	if cancelled.Status != escrow.OrderCancelledBySeller {
		t.Fatalf("unexpected status %s", cancelled.Status)
	}
	if got := h.balance(h.seller, types.NativeAsset); got != 2*(tradeAmount+tradeFee) {
		t.Fatalf("seller not refunded, balance %d", got)
	}
	evts := h.recorder.OfType(escrow.EventTypeEscrowCancelledBySeller)
	if len(evts) != 1 || evts[0].Attributes["actor"] != h.seller.String() {
		t.Fatalf("unexpected cancel events %+v", evts)
	}

	paid := h.createFunded("paid")
	if _, err := h.engine.MarkAsPaid(h.ctx, h.buyer, paid); err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	h.clock += 10 * waitingTime
	_, err = h.engine.SellerCancel(h.ctx, h.seller, paid)
	expectErr(t, err, escrow.ErrCannotCancelYet)
}

func TestBuyerCancel(t *testing.T) {
	h := newHarness(t)
	h.initialize(0)
	h.mint(h.seller, types.NativeAsset, tradeAmount+tradeFee)
	key := h.createFunded("funded")
	if _, err := h.engine.MarkAsPaid(h.ctx, h.buyer, key); err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	_, err := h.engine.BuyerCancel(h.ctx, h.seller, key)
	expectErr(t, err, escrow.ErrUnauthorized)
	if _, err := h.engine.BuyerCancel(h.ctx, h.buyer, key); err != nil {
		t.Fatalf("buyer cancel: %v", err)
	}
	if got := h.balance(h.seller, types.NativeAsset); got != tradeAmount+tradeFee {
		t.Fatalf("buyer cancel must refund the seller, balance %d", got)
	}
	if got := h.balance(h.buyer, types.NativeAsset); got != 0 {
		t.Fatalf("buyer must not receive funds on cancel, balance %d", got)
	}
	_, err = h.engine.BuyerCancel(h.ctx, h.buyer, key)
	expectErr(t, err, escrow.ErrEscrowNotFound)

	params := h.orderParams("unfunded")
	params.AutomaticEscrow = false
	if _, err := h.engine.CreateOrder(h.ctx, h.seller, params); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := h.engine.BuyerCancel(h.ctx, h.buyer, h.key("unfunded")); err != nil {
		t.Fatalf("cancel of an unfunded order should close it: %v", err)
	}
	if got := len(h.recorder.OfType(escrow.EventTypeEscrowCancelledByBuyer)); got != 2 {
		t.Fatalf("expected 2 buyer cancel events, got %d", got)
	}
}

func TestDepositToOrder(t *testing.T) {
	h := newHarness(t)
	h.initialize(0)
	usdc := types.AssetFromLabel("USDC")
	h.mint(h.seller, usdc, 3*tradeAmount)

	params := h.orderParams("manual")
	params.AutomaticEscrow = false
	params.Asset = usdc
	order, err := h.engine.CreateOrder(h.ctx, h.seller, params)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if order.Funded {
		t.Fatalf("manual orders start unfunded")
	}
	if _, err := h.engine.MarkAsPaid(h.ctx, h.buyer, order.Key()); err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	_, err = h.engine.Release(h.ctx, h.seller, escrow.ReleaseParams{Key: order.Key(), Buyer: h.buyer, FeeRecipient: h.feeRecipient})
	expectErr(t, err, escrow.ErrOrderNotFunded)

	deposit := escrow.OrderDepositParams{Key: order.Key(), Amount: 1, Asset: usdc}
	_, err = h.engine.DepositToOrder(h.ctx, h.seller, escrow.OrderDepositParams{Key: order.Key(), Amount: 0, Asset: usdc})
	expectErr(t, err, escrow.ErrInvalidAmount)
	_, err = h.engine.DepositToOrder(h.ctx, h.buyer, deposit)
	expectErr(t, err, escrow.ErrUnauthorized)
	_, err = h.engine.DepositToOrder(h.ctx, h.seller, escrow.OrderDepositParams{Key: order.Key(), Amount: 1})
	expectErr(t, err, escrow.ErrAssetMismatch)

	funded, err := h.engine.DepositToOrder(h.ctx, h.seller, deposit)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if !funded.Funded || funded.Funding != escrow.FundingWallet {
		t.Fatalf("unexpected order after deposit %+v", funded)
	}
	if got := h.balance(escrow.OrderAddress(order.Key()), usdc); got != tradeAmount+tradeFee {
		t.Fatalf("custody holds %d, want order amount plus fee regardless of the supplied amount", got)
	}
	_, err = h.engine.DepositToOrder(h.ctx, h.seller, deposit)
	expectErr(t, err, escrow.ErrAlreadyFunded)

	if _, err := h.engine.Release(h.ctx, h.seller, escrow.ReleaseParams{Key: order.Key(), Buyer: h.buyer, FeeRecipient: h.feeRecipient}); err != nil {
		t.Fatalf("release: %v", err)
	}
	if got := h.balance(h.buyer, usdc); got != tradeAmount {
		t.Fatalf("buyer token balance %d", got)
	}
	if got := h.balance(h.feeRecipient, usdc); got != tradeFee {
		t.Fatalf("fee recipient token balance %d", got)
	}
	if got := len(h.recorder.OfType(escrow.EventTypeEscrowFunded)); got != 1 {
		t.Fatalf("expected one funded event, got %d", got)
	}
}

func TestPoolFundedBuyerOrder(t *testing.T) {
	h := newHarness(t)
	h.initialize(0)
	usdc := types.AssetFromLabel("USDC")
	h.mint(h.seller, usdc, 5*tradeAmount)

	total, err := h.engine.DepositToPool(h.ctx, h.seller, escrow.PoolDepositParams{Seller: h.seller, Amount: 2 * tradeAmount, Asset: usdc})
	if err != nil {
		t.Fatalf("deposit to pool: %v", err)
	}
	if total != 2*tradeAmount+feeBps {
		t.Fatalf("pool deposit debits amount plus the flat fee_bps surcharge, got %d", total)
	}
	pool, err := h.engine.PoolBalance(h.ctx, h.seller, usdc)
	if err != nil || pool != total {
		t.Fatalf("pool balance %d (%v), want %d", pool, err, total)
	}

	params := h.orderParams("instant")
	params.Asset = usdc
	params.Initiator = escrow.InitiatorBuyer
	params.Funding = escrow.FundingPool
	order, err := h.engine.CreateOrder(h.ctx, h.buyer, params)
	if err != nil {
		t.Fatalf("buyer create: %v", err)
	}
	if !order.Funded || order.Funding != escrow.FundingPool {
		t.Fatalf("pool order not funded: %+v", order)
	}
	if pool, _ = h.engine.PoolBalance(h.ctx, h.seller, usdc); pool != total-(tradeAmount+tradeFee) {
		t.Fatalf("pool balance after instant order %d", pool)
	}

	err = h.engine.WithdrawFromPool(h.ctx, h.buyer, escrow.PoolWithdrawParams{Seller: h.seller, Amount: 1, Asset: usdc})
	expectErr(t, err, escrow.ErrUnauthorized)
	err = h.engine.WithdrawFromPool(h.ctx, h.seller, escrow.PoolWithdrawParams{Seller: h.seller, Amount: pool + 1, Asset: usdc})
	expectErr(t, err, escrow.ErrInsufficientFunds)
	err = h.engine.WithdrawFromPool(h.ctx, h.seller, escrow.PoolWithdrawParams{Seller: h.seller, Amount: 0, Asset: usdc})
	expectErr(t, err, escrow.ErrInvalidAmount)
	if err := h.engine.WithdrawFromPool(h.ctx, h.seller, escrow.PoolWithdrawParams{Seller: h.seller, Amount: pool, Asset: usdc}); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got := h.balance(h.seller, usdc); got != 5*tradeAmount-total+pool {
		t.Fatalf("seller token balance %d", got)
	}
}

func TestDepositToPoolNativeShortfall(t *testing.T) {
	h := newHarness(t)
	h.initialize(0)
	h.mint(h.stranger, types.NativeAsset, tradeAmount)
	_, err := h.engine.DepositToPool(h.ctx, h.stranger, escrow.PoolDepositParams{Seller: h.seller, Amount: tradeAmount})
	expectErr(t, err, escrow.ErrInsufficientFunds)
	_, err = h.engine.DepositToPool(h.ctx, h.stranger, escrow.PoolDepositParams{Seller: h.seller})
	expectErr(t, err, escrow.ErrInvalidAmount)
	if _, err := h.engine.DepositToPool(h.ctx, h.stranger, escrow.PoolDepositParams{Seller: h.seller, Amount: tradeAmount - feeBps}); err != nil {
		t.Fatalf("third parties may fund a seller pool: %v", err)
	}
}

func TestTokenOrderCancellationsRefundSellerHolding(t *testing.T) {
	h := newHarness(t)
	h.initialize(0)
	usdc := types.AssetFromLabel("USDC")
	minted := 10 * (tradeAmount + tradeFee)
	h.mint(h.seller, usdc, minted)

	tokenOrder := func(id string) escrow.OrderKey {
		params := h.orderParams(id)
		params.Asset = usdc
		order, err := h.engine.CreateOrder(h.ctx, h.seller, params)
		if err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
		if got := h.balance(escrow.OrderAddress(order.Key()), usdc); got != tradeAmount+tradeFee {
			t.Fatalf("%s custody holds %d", id, got)
		}
		return order.Key()
	}

	byBuyer := tokenOrder("usdc-buyer-cancel")
	if _, err := h.engine.BuyerCancel(h.ctx, h.buyer, byBuyer); err != nil {
		t.Fatalf("buyer cancel: %v", err)
	}
	if got := h.balance(h.seller, usdc); got != minted {
		t.Fatalf("seller holding after buyer cancel %d, want %d", got, minted)
	}
	if got := h.balance(escrow.OrderAddress(byBuyer), usdc); got != 0 {
		t.Fatalf("custody retains %d after buyer cancel", got)
	}

	bySeller := tokenOrder("usdc-seller-cancel")
	h.clock = startTime + waitingTime
	cancelled, err := h.engine.SellerCancel(h.ctx, h.seller, bySeller)
	if err != nil {
		t.Fatalf("seller cancel: %v", err)
	}
	if cancelled.Status != escrow.OrderCancelledBySeller {
		t.Fatalf("unexpected status %s", cancelled.Status)
	}
	if got := h.balance(h.seller, usdc); got != minted {
		t.Fatalf("seller holding after seller cancel %d, want %d", got, minted)
	}
	if got := h.balance(escrow.OrderAddress(bySeller), usdc); got != 0 {
		t.Fatalf("custody retains %d after seller cancel", got)
	}
	if got := h.balance(h.buyer, usdc); got != 0 {
		t.Fatalf("buyer must not receive tokens on cancel, holds %d", got)
	}
	if got := h.nativeTotal(h.seller, h.buyer, escrow.OrderAddress(byBuyer), escrow.OrderAddress(bySeller)); got != 0 {
		t.Fatalf("token cancellations must not touch native balances, moved %d", got)
	}
}

func TestInstantDepositToOrderDrawsFromPool(t *testing.T) {
	h := newHarness(t)
	h.initialize(0)
	usdc := types.AssetFromLabel("USDC")
	h.mint(h.seller, usdc, 5*tradeAmount)
	pool, err := h.engine.DepositToPool(h.ctx, h.seller, escrow.PoolDepositParams{Seller: h.seller, Amount: 2 * tradeAmount, Asset: usdc})
	if err != nil {
		t.Fatalf("deposit to pool: %v", err)
	}
	wallet := h.balance(h.seller, usdc)

	manual := func(id string) escrow.OrderKey {
		params := h.orderParams(id)
		params.Asset = usdc
		params.AutomaticEscrow = false
		order, err := h.engine.CreateOrder(h.ctx, h.seller, params)
		if err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
		return order.Key()
	}

	key := manual("instant-deposit")
	funded, err := h.engine.DepositToOrder(h.ctx, h.seller, escrow.OrderDepositParams{Key: key, Amount: tradeAmount, Asset: usdc, Instant: true})
	if err != nil {
		t.Fatalf("instant deposit: %v", err)
	}
	if !funded.Funded || funded.Funding != escrow.FundingPool {
		t.Fatalf("unexpected order after instant deposit %+v", funded)
	}
	after, err := h.engine.PoolBalance(h.ctx, h.seller, usdc)
	if err != nil {
		t.Fatalf("pool balance: %v", err)
	}
	if after != pool-(tradeAmount+tradeFee) {
		t.Fatalf("pool debited %d, want amount plus fee %d", pool-after, tradeAmount+tradeFee)
	}
	if got := h.balance(escrow.OrderAddress(key), usdc); got != tradeAmount+tradeFee {
		t.Fatalf("custody holds %d", got)
	}
	if got := h.balance(h.seller, usdc); got != wallet {
		t.Fatalf("instant deposit must not touch the wallet: %d -> %d", wallet, got)
	}

	short := manual("instant-short")
	_, err = h.engine.DepositToOrder(h.ctx, h.seller, escrow.OrderDepositParams{Key: short, Amount: tradeAmount, Asset: usdc, Instant: true})
	expectErr(t, err, escrow.ErrInsufficientFunds)
	order, err := h.engine.Order(h.ctx, short)
	if err != nil || order.Funded {
		t.Fatalf("failed instant deposit must leave the order unfunded: %+v %v", order, err)
	}
	if got, _ := h.engine.PoolBalance(h.ctx, h.seller, usdc); got != after {
		t.Fatalf("failed instant deposit moved pool funds: %d -> %d", after, got)
	}
}
