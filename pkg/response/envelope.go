// Package response holds the JSON envelope every HTTP handler replies with.
package response

import (
	"time"

	"dynamic-table/internal/utils"
)

// Envelope wraps a payload or an error with the request's correlation ID.
type Envelope struct {
	Success       bool        `json:"success"`
	Data          interface{} `json:"data,omitempty"`
	Error         *Problem    `json:"error,omitempty"`
	Message       string      `json:"message,omitempty"`
	CorrelationID string      `json:"correlationId"`
	Timestamp     time.Time   `json:"timestamp"`
}

// Problem is the error half of an Envelope.
type Problem struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// OK wraps data. message may be empty.
func OK(data interface{}, message, correlationID string) *Envelope {
	return &Envelope{Success: true, Data: data, Message: message, CorrelationID: correlationID, Timestamp: time.Now()}
}

// Fail wraps an error code and its description.
func Fail(code, message, details, correlationID string) *Envelope {
	return &Envelope{
		Error:         &Problem{Code: code, Message: message, Details: details},
		CorrelationID: correlationID,
		Timestamp:     time.Now(),
	}
}

func FromAppError(appErr *utils.AppError, correlationID string) *Envelope {
	return Fail(appErr.Code, appErr.Message, appErr.Details, correlationID)
}
