// Package response writes the JSON envelope shared by every endpoint:
//
//	{"success": true, "data": {...}, "meta": {...}}
//	{"success": false, "error": {"code": "...", "message": "...", "details": {...}}}
package response

import (
	"encoding/json"
	"io"
	"net/http"
)

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
	Meta    *Meta       `json:"meta,omitempty"`
}

type ErrorInfo struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// Meta describes an offset page. Count is the number of items returned.
type Meta struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Count  int `json:"count"`
}

// Error codes shared by every handler.
const (
	CodeInvalidInput       = "INVALID_INPUT"
	CodeValidation         = "VALIDATION_ERROR"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeInsufficientCredit = "INSUFFICIENT_CREDITS"
	CodeRateLimited        = "RATE_LIMIT_EXCEEDED"
	CodeProviderFailure    = "PROVIDER_FAILURE"
	CodeGatewayFailure     = "GATEWAY_FAILURE"
	CodeCreditConflict     = "CREDIT_CONFLICT"
	CodeInternal           = "INTERNAL_ERROR"
)

// notRetryable marks errors the widget should not retry automatically.
var notRetryable = map[string]string{"retryable": "false"}

// DecodeJSON decodes a request body and closes it.
func DecodeJSON(body io.ReadCloser, v interface{}) error {
	defer body.Close()
	return json.NewDecoder(body).Decode(v)
}

func write(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// JSON sends data in a success envelope when status is 2xx.
func JSON(w http.ResponseWriter, status int, data interface{}) {
	write(w, status, Response{Success: status >= 200 && status < 300, Data: data})
}

func OK(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusOK, data)
}

// WithMeta sends a page of data with its pagination metadata.
func WithMeta(w http.ResponseWriter, data interface{}, meta Meta) {
	write(w, http.StatusOK, Response{Success: true, Data: data, Meta: &meta})
}

func Error(w http.ResponseWriter, status int, code, message string) {
	ErrorWithDetails(w, status, code, message, nil)
}

// ErrorWithDetails sends an error envelope. details is usually a field to
// message map produced by the validator.
func ErrorWithDetails(w http.ResponseWriter, status int, code, message string, details map[string]string) {
	write(w, status, Response{
		Error: &ErrorInfo{Code: code, Message: message, Details: details},
	})
}

func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, CodeInvalidInput, message)
}

func Unauthorized(w http.ResponseWriter, message string) {
	Error(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

func PayloadTooLarge(w http.ResponseWriter, message string) {
	Error(w, http.StatusRequestEntityTooLarge, CodeInvalidInput, message)
}

// PaymentRequired is sent when a shop has no credits left.
func PaymentRequired(w http.ResponseWriter, message string) {
	ErrorWithDetails(w, http.StatusPaymentRequired, CodeInsufficientCredit, message, notRetryable)
}

func NotFound(w http.ResponseWriter, code, message string) {
	Error(w, http.StatusNotFound, code, message)
}

func Conflict(w http.ResponseWriter, code, message string) {
	Error(w, http.StatusConflict, code, message)
}

// ValidationError sends 422 with per-field messages.
func ValidationError(w http.ResponseWriter, details map[string]string) {
	ErrorWithDetails(w, http.StatusUnprocessableEntity, CodeValidation, "Validation failed", details)
}

// TooManyRequests is sent when a shopper exhausted the daily try-on limit.
func TooManyRequests(w http.ResponseWriter, message string) {
	ErrorWithDetails(w, http.StatusTooManyRequests, CodeRateLimited, message, notRetryable)
}
