package service

import (
	"context"

	"github.com/david-nichamoff/fizit-demo-sub001/backend/pkg/logger"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Envelope is the uniform result of every exposed operation.
type Envelope struct {
	Status  string `json:"status"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Class   Class  `json:"class,omitempty"`
}

func Success(data any) Envelope {
	return Envelope{Status: StatusSuccess, Data: data}
}

// Failure logs the full error and returns only its message and class.
func Failure(ctx context.Context, err error) Envelope {
	class := ClassOf(err)
	if class != ClassReconciliation {
		logger.Error(ctx, "operation failed", "class", class, "error", err)
	}
	return Envelope{Status: StatusError, Message: MessageOf(err), Class: class}
}

// Result builds the envelope for a (data, err) pair.
func Result(ctx context.Context, data any, err error) Envelope {
	if err != nil {
		return Failure(ctx, err)
	}
	return Success(data)
}
