package model

import "errors"

// Sentinel errors surfaced by the pipeline and the send API. The HTTP layer
// maps these to status codes; everything else is handled locally and
// acknowledged.
var (
	ErrTenantNotFound   = errors.New("tenant not found")
	ErrTenantInactive   = errors.New("tenant inactive")
	ErrSignatureInvalid = errors.New("signature invalid")
	ErrDuplicateMessage = errors.New("duplicate message")
	ErrRateLimited      = errors.New("rate limited")
	ErrQuotaExceeded    = errors.New("monthly conversation quota exceeded")
	ErrInvalidTransition = errors.New("invalid order status transition")
)

// ErrorCode is the structured code attached to send-path failures.
type ErrorCode string

const (
	CodeNoBranchSelected      ErrorCode = "NO_BRANCH_SELECTED"
	CodeMissingPaymentMethod  ErrorCode = "MISSING_PAYMENT_METHOD"
	CodeInvalidItems          ErrorCode = "INVALID_ITEMS"
	CodeAPIError              ErrorCode = "API_ERROR"
	CodeConfigMissing         ErrorCode = "CONFIG_MISSING"
	CodeMerchantNotConfigured ErrorCode = "MERCHANT_NOT_CONFIGURED"
	CodeCustomerInfoMissing   ErrorCode = "CUSTOMER_INFO_MISSING"
)

// SubmitError carries a structured code from order submission back to the
// state machine, which maps it to a user-facing catalog message.
type SubmitError struct {
	Code    ErrorCode
	Message string
}

func (e *SubmitError) Error() string {
	return string(e.Code) + ": " + e.Message
}

// AsSubmitError unwraps err into a SubmitError, defaulting to API_ERROR.
func AsSubmitError(err error) *SubmitError {
	var se *SubmitError
	if errors.As(err, &se) {
		return se
	}
	return &SubmitError{Code: CodeAPIError, Message: err.Error()}
}
