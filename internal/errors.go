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
	ErrorTypeInternal     ErrorType = "INTERNAL_ERROR"
	ErrorTypeExternal     ErrorType = "EXTERNAL_ERROR"
)

type ErrorCode string

const (
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"

	ErrCodeInvalidWeight            ErrorCode = "INVALID_WEIGHT"
	ErrCodeOrderNotFound            ErrorCode = "ORDER_NOT_FOUND"
	ErrCodeMissingRecipientFields   ErrorCode = "MISSING_RECIPIENT_FIELDS"
	ErrCodeMissingPickupPointFields ErrorCode = "MISSING_PICKUP_POINT_FIELDS"
	ErrCodeDraftNotFound            ErrorCode = "DRAFT_NOT_FOUND"

	ErrCodeIntentNotFound        ErrorCode = "INTENT_NOT_FOUND"
	ErrCodeInvalidPayload        ErrorCode = "INVALID_PAYLOAD"
	ErrCodeMaterializationFailed ErrorCode = "MATERIALIZATION_FAILED"
	ErrCodePaymentNotCompleted   ErrorCode = "PAYMENT_NOT_COMPLETED"
	ErrCodePaymentFailed         ErrorCode = "PAYMENT_FAILED"
	ErrCodeProcessorUnavailable  ErrorCode = "PROCESSOR_UNAVAILABLE"
	ErrCodeUnsupportedProvider   ErrorCode = "UNSUPPORTED_PROVIDER"
	ErrCodeReconcileBusy         ErrorCode = "RECONCILIATION_IN_PROGRESS"
	ErrCodeProviderMismatch      ErrorCode = "PROVIDER_MISMATCH"

	ErrCodeInvalidCredentials ErrorCode = "INVALID_CREDENTIALS"
	ErrCodeUserInactive       ErrorCode = "USER_INACTIVE"
	ErrCodeInvalidToken       ErrorCode = "INVALID_TOKEN"
	ErrCodeTokenExpired       ErrorCode = "TOKEN_EXPIRED"
	ErrCodeInsufficientPerms  ErrorCode = "INSUFFICIENT_PERMISSIONS"
	ErrCodeUserNotFound       ErrorCode = "USER_NOT_FOUND"
	ErrCodeRateLimited        ErrorCode = "RATE_LIMITED"
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
		if fields, ok := e.Details.(MissingFields); ok && len(fields.Fields) > 0 {
			return fmt.Sprintf("%s: %s", e.Message, strings.Join(fields.Fields, ", "))
		}
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
	return e.Error()
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches on Type and Code so sentinel AppErrors work with errors.Is
// even after WithCause/WithDetails copies.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Type == t.Type && e.Code == t.Code
}

// WithCause returns a copy carrying cause; package-level sentinels stay untouched.
func (e *AppError) WithCause(cause error) *AppError {
	cp := *e
	cp.Cause = cause
	return &cp
}

func (e *AppError) WithDetails(details interface{}) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

func (e *AppError) WithMessage(message string) *AppError {
	cp := *e
	cp.Message = message
	return &cp
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

// MissingFields lists the absent fields of a shipping validation failure, in rule order.
type MissingFields struct {
	Fields []string `json:"missing_fields"`
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

func NewUnprocessableError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusUnprocessableEntity,
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

func NewExternalError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeExternal,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusBadGateway,
	}
}

var (
	ErrInvalidWeight            = NewValidationError("total weight must be a finite number of grams greater than zero", ErrCodeInvalidWeight)
	ErrOrderNotFound            = NewNotFoundError("order not found", ErrCodeOrderNotFound)
	ErrMissingRecipientFields   = NewUnprocessableError("recipient is missing required fields", ErrCodeMissingRecipientFields)
	ErrMissingPickupPointFields = NewUnprocessableError("pickup point is missing required fields", ErrCodeMissingPickupPointFields)
	ErrDraftNotFound            = NewNotFoundError("shipping draft not found", ErrCodeDraftNotFound)

	ErrIntentNotFound        = NewNotFoundError("intent not found", ErrCodeIntentNotFound)
	ErrInvalidPayload        = NewUnprocessableError("intent payload is invalid", ErrCodeInvalidPayload)
	ErrMaterializationFailed = &AppError{Type: ErrorTypeInternal, Code: ErrCodeMaterializationFailed, Message: "payment completed but order creation failed", StatusCode: http.StatusInternalServerError}
	ErrPaymentFailed         = &AppError{Type: ErrorTypeConflict, Code: ErrCodePaymentFailed, Message: "payment was declined or cancelled by the processor", StatusCode: http.StatusPaymentRequired}
	ErrProcessorUnavailable  = NewExternalError("payment processor unavailable", ErrCodeProcessorUnavailable)
	ErrUnsupportedProvider   = NewValidationError("unsupported payment provider", ErrCodeUnsupportedProvider)
	ErrReconcileBusy         = NewConflictError("another reconciliation is still running for this payment", ErrCodeReconcileBusy)
	ErrProviderMismatch      = NewConflictError("payment belongs to another provider", ErrCodeProviderMismatch)

	ErrInvalidCredentials = NewUnauthorizedError("Invalid email or password", ErrCodeInvalidCredentials)
	ErrUserInactive       = NewForbiddenError("User account is inactive", ErrCodeUserInactive)
	ErrInvalidToken       = NewUnauthorizedError("Invalid token", ErrCodeInvalidToken)
	ErrTokenExpired       = NewUnauthorizedError("Token has expired", ErrCodeTokenExpired)
	ErrForbidden          = NewForbiddenError("insufficient permissions", ErrCodeInsufficientPerms)
	ErrUserNotFound       = NewNotFoundError("user not found", ErrCodeUserNotFound)
	ErrRateLimited        = &AppError{Type: ErrorTypeConflict, Code: ErrCodeRateLimited, Message: "too many requests, slow down", StatusCode: http.StatusTooManyRequests}
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
