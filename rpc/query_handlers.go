package rpc

import (
	"context"
	"net/http"
	"strconv"

	"peerescrow/crypto"
	"peerescrow/native/escrow"
	"peerescrow/services/indexer"
)

type orderAction func(ctx context.Context, signer crypto.Identity, key escrow.OrderKey) (*escrow.Order, error)

type sellerParams struct {
	Seller string `json:"seller"`
	Asset  string `json:"asset,omitempty"`
}

// EventJSON is the wire form of an indexed event.
type EventJSON struct {
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	CreatedAt  int64             `json:"createdAt"`
}

func (s *Server) handleGetRegistry(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params sellerParams
	if !unsigned(w, req, &params) {
		return
	}
	seller, err := parseIdentity("seller", params.Seller)
	if err != nil {
		invalidParams(w, req.ID, err)
		return
	}
	reg, err := s.engine.Registry(r.Context(), seller)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatRegistry(reg))
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params orderRefParams
	if !unsigned(w, req, &params) {
		return
	}
	key, err := params.key()
	if err != nil {
		invalidParams(w, req.ID, err)
		return
	}
	order, err := s.engine.Order(r.Context(), key)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatOrder(order))
}

func (s *Server) handleGetPoolBalance(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params sellerParams
	if !unsigned(w, req, &params) {
		return
	}
	seller, err := parseIdentity("seller", params.Seller)
	if err != nil {
		invalidParams(w, req.ID, err)
		return
	}
	asset, err := parseAsset(params.Asset)
	if err != nil {
		invalidParams(w, req.ID, err)
		return
	}
	balance, err := s.engine.PoolBalance(r.Context(), seller, asset)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, BalanceJSON{Owner: escrow.RegistryAddress(seller).String(), Asset: asset.String(), Balance: strconv.FormatUint(balance, 10)})
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params balanceParams
	if !unsigned(w, req, &params) {
		return
	}
	owner, err := parseIdentity("owner", params.Owner)
	if err != nil {
		invalidParams(w, req.ID, err)
		return
	}
	asset, err := parseAsset(params.Asset)
	if err != nil {
		invalidParams(w, req.ID, err)
		return
	}
	balance, err := s.engine.Balance(r.Context(), owner, asset)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, BalanceJSON{Owner: owner.String(), Asset: asset.String(), Balance: strconv.FormatUint(balance, 10)})
}

func (s *Server) requireIndex(w http.ResponseWriter, req *RPCRequest) bool {
	if s.index == nil {
		writeError(w, http.StatusServiceUnavailable, req.ID, codeServerError, "index_unavailable", "event indexer disabled")
		return false
	}
	return true
}

func (s *Server) handleOrderHistory(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if !s.requireIndex(w, req) {
		return
	}
	var params orderRefParams
	if !unsigned(w, req, &params) {
		return
	}
	key, err := params.key()
	if err != nil {
		invalidParams(w, req.ID, err)
		return
	}
	records, err := s.index.OrderHistory(r.Context(), key.Seller.String(), key.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeEscrowInternal, "internal_error", err.Error())
		return
	}
	writeResult(w, req.ID, formatEvents(records))
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if !s.requireIndex(w, req) {
		return
	}
	var params listEventsParams
	if !unsigned(w, req, &params) {
		return
	}
	records, err := s.index.ListEvents(r.Context(), indexer.EventFilter{Type: params.Type, After: params.After, Limit: params.Limit})
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeEscrowInternal, "internal_error", err.Error())
		return
	}
	writeResult(w, req.ID, formatEvents(records))
}

func (s *Server) handleOrdersByParty(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if !s.requireIndex(w, req) {
		return
	}
	var params partyParams
	if !unsigned(w, req, &params) {
		return
	}
	party, err := parseIdentity("party", params.Party)
	if err != nil {
		invalidParams(w, req.ID, err)
		return
	}
	orders, err := s.index.OrdersByParty(r.Context(), party.String(), params.Limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeEscrowInternal, "internal_error", err.Error())
		return
	}
	writeResult(w, req.ID, orders)
}

func formatEvents(records []indexer.EventRecord) []EventJSON {
	out := make([]EventJSON, 0, len(records))
	for _, rec := range records {
		attrs, err := rec.AttributeMap()
		if err != nil {
			attrs = map[string]string{}
		}
		out = append(out, EventJSON{
			Sequence:   rec.Sequence,
			Type:       rec.Type,
			Attributes: attrs,
			CreatedAt:  rec.CreatedAt.Unix(),
		})
	}
	return out
}
