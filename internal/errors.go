package internal

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type ErrorType string

const (
	ErrorTypeValidation   ErrorType = "VALIDATION_ERROR"
	ErrorTypeNotFound     ErrorType = "NOT_FOUND"
	ErrorTypeUnauthorized ErrorType = "UNAUTHORIZED"
	ErrorTypeForbidden    ErrorType = "FORBIDDEN"
	ErrorTypeConflict     ErrorType = "CONFLICT"
	ErrorTypeUnavailable  ErrorType = "UNAVAILABLE"
	ErrorTypeInternal     ErrorType = "INTERNAL_ERROR"
	ErrorTypeExternal     ErrorType = "EXTERNAL_ERROR"
)

type ErrorCode string

const (
	ErrCodeValidationFailed  ErrorCode = "VALIDATION_FAILED"
	ErrCodeInvalidAmount     ErrorCode = "INVALID_AMOUNT"
	ErrCodeInvalidPercentage ErrorCode = "INVALID_PERCENTAGE"
	ErrCodeInvalidPhone      ErrorCode = "INVALID_PHONE"
	ErrCodeInvalidPurpose    ErrorCode = "INVALID_PURPOSE"
	ErrCodeMalformedCallback ErrorCode = "MALFORMED_CALLBACK"
	ErrCodeInvalidSignature  ErrorCode = "INVALID_CALLBACK_SIGNATURE"

	ErrCodePaymentNotFound        ErrorCode = "PAYMENT_NOT_FOUND"
	ErrCodeInvalidStateTransition ErrorCode = "INVALID_STATE_TRANSITION"
	ErrCodeNoProviderConfigured   ErrorCode = "NO_PROVIDER_CONFIGURED"
	ErrCodeUpstreamProvider       ErrorCode = "UPSTREAM_PROVIDER_ERROR"
	ErrCodeProviderNotFound       ErrorCode = "PROVIDER_NOT_FOUND"
	ErrCodeUnsupportedProvider    ErrorCode = "UNSUPPORTED_PROVIDER"
	ErrCodeSelectionConflict      ErrorCode = "SELECTION_CONFLICT"

	ErrCodeNoAvailableStock    ErrorCode = "NO_AVAILABLE_STOCK"
	ErrCodeVoucherNotFound     ErrorCode = "VOUCHER_NOT_FOUND"
	ErrCodeVoucherConflict     ErrorCode = "VOUCHER_CONFLICT"
	ErrCodeInvalidVoucherState ErrorCode = "INVALID_VOUCHER_STATE"

	ErrCodeInsufficientFunds ErrorCode = "INSUFFICIENT_FUNDS"
	ErrCodeWalletNotFound    ErrorCode = "WALLET_NOT_FOUND"
	ErrCodeInvalidPassword   ErrorCode = "INVALID_WALLET_PASSWORD"
	ErrCodeDuplicateRef      ErrorCode = "DUPLICATE_REFERENCE"

	ErrCodeLocationNotFound     ErrorCode = "LOCATION_NOT_FOUND"
	ErrCodePackageNotFound      ErrorCode = "PACKAGE_NOT_FOUND"
	ErrCodePackageUnavailable   ErrorCode = "PACKAGE_UNAVAILABLE"
	ErrCodeSubscriptionInactive ErrorCode = "SUBSCRIPTION_INACTIVE"

	ErrCodeInsufficientUnits ErrorCode = "INSUFFICIENT_MESSAGE_UNITS"

	ErrCodeLockTimeout ErrorCode = "LOCK_TIMEOUT"

	ErrCodeInvalidToken ErrorCode = "INVALID_TOKEN"
	ErrCodeTokenExpired ErrorCode = "TOKEN_EXPIRED"
	ErrCodeVendorAccess ErrorCode = "VENDOR_ACCESS_DENIED"
)

type AppError struct {
	Type       ErrorType   `json:"type"`
	Code       ErrorCode   `json:"code"`
	Message    string      `json:"message"`
	Details    interface{} `json:"details,omitempty"`
	StatusCode int         `json:"-"`
	Cause      error       `json:"-"`
}

func (e *AppError) Error() string {
	if e.Details != nil {
		if validationErrors, ok := e.Details.(ValidationErrors); ok && len(validationErrors.Errors) > 0 {
			return validationErrors.Errors[0].Message
		}
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) GetDetailedMessage() string {
	if e.Details != nil {
		if validationErrors, ok := e.Details.(ValidationErrors); ok {
			if len(validationErrors.Errors) == 1 {
				return validationErrors.Errors[0].Message
			} else if len(validationErrors.Errors) > 1 {
				messages := make([]string, len(validationErrors.Errors))
				for i, err := range validationErrors.Errors {
					messages[i] = err.Message
				}
				return strings.Join(messages, "; ")
			}
		}
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches any AppError carrying the same code, so wrapped copies of a
// sentinel still satisfy errors.Is.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Retryable reports whether the caller should retry with backoff.
func (e *AppError) Retryable() bool {
	return e.Type == ErrorTypeUnavailable
}

// WithCause returns a copy so shared sentinels stay untouched.
func (e *AppError) WithCause(cause error) *AppError {
	clone := *e
	clone.Cause = cause
	return &clone
}

func (e *AppError) WithDetails(details interface{}) *AppError {
	clone := *e
	clone.Details = details
	return &clone
}

func (e *AppError) WithMessage(message string) *AppError {
	clone := *e
	clone.Message = message
	return &clone
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func NewValidationError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

func NewValidationFieldError(field, message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       ErrCodeValidationFailed,
		Message:    "Validation failed",
		StatusCode: http.StatusBadRequest,
		Details: ValidationErrors{
			Errors: []ValidationError{
				{Field: field, Message: message, Code: string(code)},
			},
		},
	}
}

func NewNotFoundError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusNotFound,
	}
}

func NewUnauthorizedError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeUnauthorized,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
	}
}

func NewForbiddenError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeForbidden,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusForbidden,
	}
}

func NewInternalError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Cause:      cause,
	}
}

func NewConflictError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeConflict,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

func NewUnavailableError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeUnavailable,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusServiceUnavailable,
	}
}

func NewExternalError(message string, code ErrorCode, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeExternal,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusBadGateway,
		Cause:      cause,
	}
}

var (
	ErrPaymentNotFound        = NewNotFoundError("Payment not found", ErrCodePaymentNotFound)
	ErrInvalidStateTransition = NewConflictError("payment already reached a terminal state", ErrCodeInvalidStateTransition)
	ErrNoProviderConfigured   = NewUnavailableError("no payment provider is configured", ErrCodeNoProviderConfigured)
	ErrUpstreamProvider       = NewExternalError("payment provider rejected the charge", ErrCodeUpstreamProvider, nil)
	ErrMalformedCallback      = NewValidationError("malformed provider callback", ErrCodeMalformedCallback)
	ErrInvalidSignature       = NewUnauthorizedError("provider callback signature is missing or invalid", ErrCodeInvalidSignature)
	ErrProviderNotFound       = NewNotFoundError("Payment provider not found", ErrCodeProviderNotFound)
	ErrUnsupportedProvider    = NewValidationError("unsupported provider type", ErrCodeUnsupportedProvider)
	ErrSelectionConflict      = NewConflictError("active provider changed concurrently", ErrCodeSelectionConflict)

	ErrNoAvailableStock    = NewConflictError("package is out of stock", ErrCodeNoAvailableStock)
	ErrVoucherNotFound     = NewNotFoundError("Voucher not found", ErrCodeVoucherNotFound)
	ErrVoucherConflict     = NewConflictError("voucher belongs to a different payment", ErrCodeVoucherConflict)
	ErrInvalidVoucherState = NewConflictError("voucher is not in a state that allows this operation", ErrCodeInvalidVoucherState)

	ErrInvalidAmount      = NewValidationError("amount must be greater than zero", ErrCodeInvalidAmount)
	ErrInvalidPercentage  = NewValidationError("split percentages must total between 0 and 100", ErrCodeInvalidPercentage)
	ErrInsufficientFunds  = NewConflictError("insufficient wallet balance", ErrCodeInsufficientFunds)
	ErrWalletNotFound     = NewNotFoundError("Wallet not found", ErrCodeWalletNotFound)
	ErrInvalidPassword    = NewForbiddenError("invalid wallet password", ErrCodeInvalidPassword)
	ErrDuplicateReference = NewConflictError("ledger reference already used by another wallet", ErrCodeDuplicateRef)
	ErrLocationNotFound   = NewNotFoundError("Location not found", ErrCodeLocationNotFound)
	ErrPackageNotFound    = NewNotFoundError("Package not found", ErrCodePackageNotFound)
	ErrPackageUnavailable = NewValidationError("package is not available at this location", ErrCodePackageUnavailable)
	ErrSubscriptionLapsed = NewForbiddenError("location subscription is inactive", ErrCodeSubscriptionInactive)
	ErrInsufficientUnits  = NewConflictError("insufficient SMS balance", ErrCodeInsufficientUnits)

	ErrLockTimeout = NewUnavailableError("resource is busy, retry later", ErrCodeLockTimeout)

	ErrInvalidToken = NewUnauthorizedError("Invalid token", ErrCodeInvalidToken)
	ErrTokenExpired = NewUnauthorizedError("Token has expired", ErrCodeTokenExpired)
	ErrVendorAccess = NewForbiddenError("token does not grant access to this vendor", ErrCodeVendorAccess)
)

func IsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

type Response struct {
	Error *AppError `json:"error"`
}

func (e *AppError) ToHTTPResponse() (int, interface{}) {
	return e.StatusCode, Response{Error: e}
}

func (e *AppError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    ErrorType   `json:"type"`
		Code    ErrorCode   `json:"code"`
		Message string      `json:"message"`
		Details interface{} `json:"details,omitempty"`
	}{
		Type:    e.Type,
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	})
}
