package escrow

import (
	"errors"

	"peerescrow/native/bank"
)

var (
	ErrNotConfigured = errors.New("escrow: engine not configured")

	ErrInvalidAmount            = errors.New("escrow: invalid amount")
	ErrInvalidSellerWaitingTime = errors.New("escrow: seller waiting time out of range")
	ErrInvalidBuyer             = errors.New("escrow: invalid buyer")
	ErrInvalidWinner            = errors.New("escrow: winner must be the buyer or the seller")
	ErrInvalidFeeRecipient      = errors.New("escrow: fee recipient does not match registry")
	ErrInvalidFeeBps            = errors.New("escrow: fee bps exceeds 10000")
	ErrInvalidFundingSource     = errors.New("escrow: invalid funding source")
	ErrInvalidInitiator         = errors.New("escrow: invalid initiator")
	ErrInvalidOrderID           = errors.New("escrow: invalid order id")
	ErrAssetMismatch            = errors.New("escrow: asset does not match order")
	ErrArithmeticOverflow       = bank.ErrOverflow

	ErrRegistryNotInitialized = errors.New("escrow: registry not initialized")
	ErrAlreadyInitialized     = errors.New("escrow: registry already initialized")
	ErrEscrowNotFound         = errors.New("escrow: escrow not found")
	ErrOrderAlreadyExists     = errors.New("escrow: order already exists")
	ErrCannotReleaseFundsYet  = errors.New("escrow: payment not marked, cannot release funds yet")
	ErrCannotCancelYet        = errors.New("escrow: seller cannot cancel yet")
	ErrCannotOpenDisputeYet   = errors.New("escrow: payment not marked, cannot open dispute yet")
	ErrDisputeNotOpen         = errors.New("escrow: dispute not open")
	ErrDisputeAlreadyPaid     = errors.New("escrow: caller already staked this dispute")
	ErrAlreadyFunded          = errors.New("escrow: order already funded")
	ErrOrderNotFunded         = errors.New("escrow: order custody not funded")

	ErrUnauthorized            = errors.New("escrow: signer not authorized")
	ErrInvalidDisputeInitiator = errors.New("escrow: dispute initiator must be the buyer or the seller")

	ErrInsufficientFunds           = bank.ErrInsufficientFunds
	ErrInsufficientFundsForDispute = errors.New("escrow: insufficient funds for dispute")
	ErrAccountError                = bank.ErrHoldingNotFound
)

// ErrorClass groups failures for callers that map them onto transport codes.
type ErrorClass uint8

const (
	ClassInternal ErrorClass = iota
	ClassValidation
	ClassState
	ClassAuthorization
	ClassBalance
)

func (c ErrorClass) String() string {
	switch c {
	case ClassValidation:
		return "validation"
	case ClassState:
		return "state"
	case ClassAuthorization:
		return "authorization"
	case ClassBalance:
		return "balance"
	default:
		return "internal"
	}
}

var errorClasses = []struct {
	class ErrorClass
	errs  []error
}{
	{ClassValidation, []error{
		ErrInvalidAmount, ErrInvalidSellerWaitingTime, ErrInvalidBuyer, ErrInvalidWinner,
		ErrInvalidFeeRecipient, ErrInvalidFeeBps, ErrInvalidFundingSource, ErrInvalidInitiator,
		ErrInvalidOrderID, ErrAssetMismatch, ErrArithmeticOverflow, bank.ErrSelfTransfer,
	}},
	{ClassState, []error{
		ErrRegistryNotInitialized, ErrAlreadyInitialized, ErrEscrowNotFound, ErrOrderAlreadyExists,
		ErrCannotReleaseFundsYet, ErrCannotCancelYet, ErrCannotOpenDisputeYet, ErrDisputeNotOpen,
		ErrDisputeAlreadyPaid, ErrAlreadyFunded, ErrOrderNotFunded,
	}},
	{ClassAuthorization, []error{ErrUnauthorized, ErrInvalidDisputeInitiator, bank.ErrUnauthorized}},
	{ClassBalance, []error{ErrInsufficientFunds, ErrInsufficientFundsForDispute, ErrAccountError}},
}

// Classify reports the class of err. Unknown errors are internal.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassInternal
	}
	for _, group := range errorClasses {
		for _, target := range group.errs {
			if errors.Is(err, target) {
				return group.class
			}
		}
	}
	return ClassInternal
}

// IsNotFound reports whether err denotes a missing registry or order.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEscrowNotFound) || errors.Is(err, ErrRegistryNotInitialized)
}
