package rpc

import (
	"fmt"
	"net/http"
	"strconv"

	"peerescrow/native/escrow"
)

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params initializeParams
	signer, ok := s.signed(w, r, req, &params)
	if !ok {
		return
	}
	disputeFee, err := parseOptionalAmount("disputeFee", params.DisputeFee)
	if err != nil {
		invalidParams(w, req.ID, err)
		return
	}
	nft, err := parseOptionalIdentity("feeDiscountNft", params.FeeDiscountNFT)
	if err != nil {
		invalidParams(w, req.ID, err)
		return
	}
	arbitrator, err := parseIdentity("arbitrator", params.Arbitrator)
	if err != nil {
		invalidParams(w, req.ID, err)
		return
	}
	feeRecipient, err := parseIdentity("feeRecipient", params.FeeRecipient)
	if err != nil {
		invalidParams(w, req.ID, err)
		return
	}
	reg, err := s.engine.Initialize(r.Context(), signer, escrow.InitializeParams{
		Seller:         signer,
		FeeBps:         params.FeeBps,
		DisputeFee:     disputeFee,
		FeeDiscountNFT: nft,
		Arbitrator:     arbitrator,
		FeeRecipient:   feeRecipient,
	})
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatRegistry(reg))
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params createOrderParams
	signer, ok := s.signed(w, r, req, &params)
	if !ok {
		return
	}
	create, err := params.toEngine()
	if err != nil {
		invalidParams(w, req.ID, err)
		return
	}
	order, err := s.engine.CreateOrder(r.Context(), signer, create)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatOrder(order))
}

func (s *Server) handleDepositToPool(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params poolParams
	signer, ok := s.signed(w, r, req, &params)
	if !ok {
		return
	}
	seller, err := parseIdentity("seller", params.Seller)
	if err != nil {
		invalidParams(w, req.ID, err)
		return
	}
	amount, err := parseAmount("amount", params.Amount)
	if err != nil {
		invalidParams(w, req.ID, err)
		return
	}
	asset, err := parseAsset(params.Asset)
	if err != nil {
		invalidParams(w, req.ID, err)
		return
	}
	total, err := s.engine.DepositToPool(r.Context(), signer, escrow.PoolDepositParams{Seller: seller, Amount: amount, Asset: asset})
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, PoolDepositJSON{Seller: seller.String(), Asset: asset.String(), Debited: strconv.FormatUint(total, 10)})
}

func (s *Server) handleWithdrawFromPool(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params poolParams
	signer, ok := s.signed(w, r, req, &params)
	if !ok {
		return
	}
	seller, err := parseIdentity("seller", params.Seller)
	if err != nil {
		invalidParams(w, req.ID, err)
		return
	}
	amount, err := parseAmount("amount", params.Amount)
	if err != nil {
		invalidParams(w, req.ID, err)
		return
	}
	asset, err := parseAsset(params.Asset)
	if err != nil {
		invalidParams(w, req.ID, err)
		return
	}
	if err := s.engine.WithdrawFromPool(r.Context(), signer, escrow.PoolWithdrawParams{Seller: seller, Amount: amount, Asset: asset}); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	balance, err := s.engine.PoolBalance(r.Context(), seller, asset)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, BalanceJSON{Owner: escrow.RegistryAddress(seller).String(), Asset: asset.String(), Balance: strconv.FormatUint(balance, 10)})
}

func (s *Server) handleDepositToOrder(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params orderDepositParams
	signer, ok := s.signed(w, r, req, &params)
	if !ok {
		return
	}
	key, err := params.key()
	if err != nil {
		invalidParams(w, req.ID, err)
		return
	}
	amount, err := parseAmount("amount", params.Amount)
	if err != nil {
		invalidParams(w, req.ID, err)
		return
	}
	asset, err := parseAsset(params.Asset)
	if err != nil {
		invalidParams(w, req.ID, err)
		return
	}
	order, err := s.engine.DepositToOrder(r.Context(), signer, escrow.OrderDepositParams{
		Key:     key,
		Amount:  amount,
		Asset:   asset,
		Instant: params.Instant,
	})
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatOrder(order))
}

func (s *Server) handleMarkAsPaid(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleOrderAction(w, r, req, s.engine.MarkAsPaid)
}

func (s *Server) handleBuyerCancel(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleOrderAction(w, r, req, s.engine.BuyerCancel)
}

func (s *Server) handleSellerCancel(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleOrderAction(w, r, req, s.engine.SellerCancel)
}

func (s *Server) handleOpenDispute(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleOrderAction(w, r, req, s.engine.OpenDispute)
}

func (s *Server) handleOrderAction(w http.ResponseWriter, r *http.Request, req *RPCRequest, action orderAction) {
	var params orderRefParams
	signer, ok := s.signed(w, r, req, &params)
	if !ok {
		return
	}
	key, err := params.key()
	if err != nil {
		invalidParams(w, req.ID, err)
		return
	}
	order, err := action(r.Context(), signer, key)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatOrder(order))
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params releaseParams
	signer, ok := s.signed(w, r, req, &params)
	if !ok {
		return
	}
	key, err := params.key()
	if err != nil {
		invalidParams(w, req.ID, err)
		return
	}
	buyer, err := parseIdentity("buyer", params.Buyer)
	if err != nil {
		invalidParams(w, req.ID, err)
		return
	}
	feeRecipient, err := parseIdentity("feeRecipient", params.FeeRecipient)
	if err != nil {
		invalidParams(w, req.ID, err)
		return
	}
	order, err := s.engine.Release(r.Context(), signer, escrow.ReleaseParams{Key: key, Buyer: buyer, FeeRecipient: feeRecipient})
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatOrder(order))
}

func (s *Server) handleResolveDispute(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params resolveParams
	signer, ok := s.signed(w, r, req, &params)
	if !ok {
		return
	}
	key, err := params.key()
	if err != nil {
		invalidParams(w, req.ID, err)
		return
	}
	winner, err := parseIdentity("winner", params.Winner)
	if err != nil {
		invalidParams(w, req.ID, err)
		return
	}
	order, err := s.engine.ResolveDispute(r.Context(), signer, key, winner)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatOrder(order))
}

func (s *Server) handleDevMint(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if s.faucet == nil {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", "faucet disabled")
		return
	}
	var params mintParams
	if !unsigned(w, req, &params) {
		return
	}
	to, err := parseIdentity("to", params.To)
	if err != nil {
		invalidParams(w, req.ID, err)
		return
	}
	amount, err := parseAmount("amount", params.Amount)
	if err != nil {
		invalidParams(w, req.ID, err)
		return
	}
	asset, err := parseAsset(params.Asset)
	if err != nil {
		invalidParams(w, req.ID, err)
		return
	}
	if err := s.faucet.Mint(r.Context(), to, asset, amount); err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeEscrowInternal, "internal_error", fmt.Sprintf("mint: %v", err))
		return
	}
	balance, err := s.engine.Balance(r.Context(), to, asset)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, BalanceJSON{Owner: to.String(), Asset: asset.String(), Balance: strconv.FormatUint(balance, 10)})
}
