package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"peerescrow/core/types"
	"peerescrow/crypto"
	"peerescrow/native/escrow"
)

func parseIdentity(field, value string) (crypto.Identity, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return crypto.ZeroIdentity, fmt.Errorf("%s required", field)
	}
	id, err := crypto.ParseIdentity(trimmed)
	if err != nil {
		return crypto.ZeroIdentity, fmt.Errorf("invalid %s: %w", field, err)
	}
	return id, nil
}

func parseOptionalIdentity(field, value string) (crypto.Identity, error) {
	if strings.TrimSpace(value) == "" {
		return crypto.ZeroIdentity, nil
	}
	return parseIdentity(field, value)
}

func parseAmount(field, value string) (uint64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, fmt.Errorf("%s required", field)
	}
	amount, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", field, err)
	}
	return amount, nil
}

func parseOptionalAmount(field, value string) (uint64, error) {
	if strings.TrimSpace(value) == "" {
		return 0, nil
	}
	return parseAmount(field, value)
}

func parseAsset(value string) (types.AssetRef, error) {
	asset, err := types.ParseAssetRef(value)
	if err != nil {
		return types.NativeAsset, fmt.Errorf("invalid asset: %w", err)
	}
	return asset, nil
}

func decodeParams(raw json.RawMessage, out interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

type orderRefParams struct {
	Seller  string `json:"seller"`
	OrderID string `json:"orderId"`
}

func (p orderRefParams) key() (escrow.OrderKey, error) {
	seller, err := parseIdentity("seller", p.Seller)
	if err != nil {
		return escrow.OrderKey{}, err
	}
	id, err := escrow.SanitizeOrderID(p.OrderID)
	if err != nil {
		return escrow.OrderKey{}, err
	}
	return escrow.OrderKey{Seller: seller, ID: id}, nil
}

type initializeParams struct {
	FeeBps         uint64 `json:"feeBps"`
	DisputeFee     string `json:"disputeFee"`
	FeeDiscountNFT string `json:"feeDiscountNft,omitempty"`
	Arbitrator     string `json:"arbitrator"`
	FeeRecipient   string `json:"feeRecipient"`
}

type createOrderParams struct {
	OrderID           string `json:"orderId"`
	Seller            string `json:"seller"`
	Buyer             string `json:"buyer"`
	Partner           string `json:"partner,omitempty"`
	Amount            string `json:"amount"`
	SellerWaitingTime int64  `json:"sellerWaitingTime"`
	AutomaticEscrow   bool   `json:"automaticEscrow"`
	Asset             string `json:"asset,omitempty"`
	Initiator         string `json:"initiator"`
	Funding           string `json:"funding"`
}

func (p createOrderParams) toEngine() (escrow.CreateOrderParams, error) {
	var out escrow.CreateOrderParams
	seller, err := parseIdentity("seller", p.Seller)
	if err != nil {
		return out, err
	}
	buyer, err := parseIdentity("buyer", p.Buyer)
	if err != nil {
		return out, err
	}
	partner, err := parseOptionalIdentity("partner", p.Partner)
	if err != nil {
		return out, err
	}
	amount, err := parseAmount("amount", p.Amount)
	if err != nil {
		return out, err
	}
	asset, err := parseAsset(p.Asset)
	if err != nil {
		return out, err
	}
	// The engine parsers default empty values for the CLI; over the wire the
	// caller must say who initiates and where the funds come from.
	if strings.TrimSpace(p.Initiator) == "" {
		return out, fmt.Errorf("initiator required")
	}
	if strings.TrimSpace(p.Funding) == "" {
		return out, fmt.Errorf("funding required")
	}
	initiator, err := escrow.ParseInitiator(p.Initiator)
	if err != nil {
		return out, err
	}
	funding, err := escrow.ParseFundingSource(p.Funding)
	if err != nil {
		return out, err
	}
	return escrow.CreateOrderParams{
		OrderID:           p.OrderID,
		Seller:            seller,
		Buyer:             buyer,
		Partner:           partner,
		Amount:            amount,
		SellerWaitingTime: p.SellerWaitingTime,
		AutomaticEscrow:   p.AutomaticEscrow,
		Asset:             asset,
		Initiator:         initiator,
		Funding:           funding,
	}, nil
}

type poolParams struct {
	Seller string `json:"seller"`
	Amount string `json:"amount"`
	Asset  string `json:"asset,omitempty"`
}

type orderDepositParams struct {
	orderRefParams
	Amount  string `json:"amount"`
	Asset   string `json:"asset,omitempty"`
	Instant bool   `json:"instant,omitempty"`
}

type releaseParams struct {
	orderRefParams
	Buyer        string `json:"buyer"`
	FeeRecipient string `json:"feeRecipient"`
}

type resolveParams struct {
	orderRefParams
	Winner string `json:"winner"`
}

type balanceParams struct {
	Owner string `json:"owner"`
	Asset string `json:"asset,omitempty"`
}

type listEventsParams struct {
	Type  string `json:"type,omitempty"`
	After uint64 `json:"after,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

type partyParams struct {
	Party string `json:"party"`
	Limit int    `json:"limit,omitempty"`
}

type mintParams struct {
	To     string `json:"to"`
	Amount string `json:"amount"`
	Asset  string `json:"asset,omitempty"`
}

func formatRegistry(reg *escrow.Registry) RegistryJSON {
	out := RegistryJSON{
		Seller:       reg.Seller.String(),
		Address:      escrow.RegistryAddress(reg.Seller).String(),
		FeeBps:       reg.FeeBps,
		DisputeFee:   strconv.FormatUint(reg.DisputeFee, 10),
		Arbitrator:   reg.Arbitrator.String(),
		FeeRecipient: reg.FeeRecipient.String(),
		CreatedAt:    reg.CreatedAt,
	}
	if !reg.FeeDiscountNFT.IsZero() {
		out.FeeDiscountNFT = reg.FeeDiscountNFT.String()
	}
	return out
}

func formatOrder(o *escrow.Order) OrderJSON {
	out := OrderJSON{
		ID:                o.ID,
		Address:           escrow.OrderAddress(o.Key()).String(),
		Exists:            o.Exists,
		Seller:            o.Seller.String(),
		Buyer:             o.Buyer.String(),
		Asset:             o.Asset.String(),
		Amount:            strconv.FormatUint(o.Amount, 10),
		Fee:               strconv.FormatUint(o.Fee, 10),
		OpenPeerFee:       strconv.FormatUint(o.OpenPeerFee, 10),
		CancelWindow:      o.CancelWindow.String(),
		AutomaticEscrow:   o.AutomaticEscrow,
		Funded:            o.Funded,
		Dispute:           o.Dispute,
		SellerPaidDispute: o.SellerPaidDispute,
		BuyerPaidDispute:  o.BuyerPaidDispute,
		Initiator:         o.Initiator.String(),
		Funding:           o.Funding.String(),
		Status:            o.Status.String(),
		CreatedAt:         o.CreatedAt,
		ClosedAt:          o.ClosedAt,
	}
	if !o.Partner.IsZero() {
		out.Partner = o.Partner.String()
	}
	if !o.Winner.IsZero() {
		out.Winner = o.Winner.String()
	}
	return out
}
