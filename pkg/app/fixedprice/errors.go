package fixedprice

import (
	"errors"

	"github.com/uhyunpark/nftmarket/params"
	"github.com/uhyunpark/nftmarket/pkg/app/core/escrow"
	"github.com/uhyunpark/nftmarket/pkg/app/core/orderbook"
)

// Named transition errors. The message of each sentinel is its stable code.
var (
	ErrNotAllowedPaymentToken  = errors.New("NotAllowedPaymentToken")
	ErrExpired                 = errors.New("ExpiredError")
	ErrNotEqualAmount          = errors.New("NotEqualAmountError")
	ErrNotAllowedToCancelOrder = errors.New("NotAllowedToCancelOrder")
	ErrInvalidSignature        = errors.New("InvalidSignatureError")
	ErrInsufficientAllowance   = errors.New("InsufficientAllowanceError")
	ErrInsufficientEscrow      = escrow.ErrInsufficientEscrow
	ErrNotFound                = orderbook.ErrNotFound

	ErrPaused                        = errors.New("PausedError")
	ErrNotPaused                     = errors.New("NotPausedError")
	ErrNotContractOwner              = errors.New("NotContractOwnerError")
	ErrNotContractOwnershipRecipient = errors.New("NotContractOwnershipRecipientError")
	ErrNotTokenOwner                 = errors.New("NotTokenOwnerError")
	ErrNotSpender                    = errors.New("NotSpenderError")
	ErrZeroAddressDestination        = errors.New("ZeroAddressDestinationError")
	ErrInvalidExpiration             = errors.New("InvalidExpirationError")
	ErrZeroPrice                     = errors.New("ZeroPriceError")
	ErrPriceOverflow                 = errors.New("PriceOverflowError")
	ErrInvalidSide                   = errors.New("InvalidSideError")
	ErrInvalidFeeBps                 = params.ErrInvalidFeeBps
	ErrTransferFailed                = errors.New("TransferFailedError")

	// envelope level, produced by App before the engine runs
	ErrInvalidTx    = errors.New("InvalidTxError")
	ErrInvalidNonce = errors.New("InvalidNonceError")
)

// codes is append-only: a sentinel's position is its numeric result code.
var codes = []error{
	ErrNotAllowedPaymentToken,
	ErrExpired,
	ErrNotEqualAmount,
	ErrNotAllowedToCancelOrder,
	ErrInvalidSignature,
	ErrInsufficientAllowance,
	ErrInsufficientEscrow,
	ErrNotFound,
	ErrPaused,
	ErrNotPaused,
	ErrNotContractOwner,
	ErrNotContractOwnershipRecipient,
	ErrNotTokenOwner,
	ErrNotSpender,
	ErrZeroAddressDestination,
	ErrInvalidExpiration,
	ErrZeroPrice,
	ErrPriceOverflow,
	ErrInvalidSide,
	ErrInvalidFeeBps,
	ErrTransferFailed,
	ErrInvalidTx,
	ErrInvalidNonce,
}

// CodeInternal is returned for errors outside the taxonomy.
const CodeInternal uint32 = 255

// ErrorCode maps err to its stable name, "" for nil and "InternalError"
// for anything unnamed.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range codes {
		if errors.Is(err, c) {
			return c.Error()
		}
	}
	return "InternalError"
}

// CodeOf maps err to a numeric result code; 0 means success.
func CodeOf(err error) uint32 {
	if err == nil {
		return 0
	}
	for i, c := range codes {
		if errors.Is(err, c) {
			return uint32(i + 1)
		}
	}
	return CodeInternal
}
