package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/replicate/replicate-go"
)

// Kind classifies why a model call failed.
type Kind string

const (
	KindTransport Kind = "transport"
	KindAuth      Kind = "auth"
	KindModel     Kind = "model"
	KindTimeout   Kind = "timeout"
)

// InvocationError is returned for every failed remote call. It is never retried.
type InvocationError struct {
	Kind Kind
	Err  error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("model invocation failed (%s): %v", e.Kind, e.Err)
}

func (e *InvocationError) Unwrap() error {
	return e.Err
}

// Reason is the short text shown to the user.
func (e *InvocationError) Reason() string {
	switch e.Kind {
	case KindAuth:
		return "the model provider rejected the API key"
	case KindTimeout:
		return "the model did not answer in time"
	case KindModel:
		return "the model failed to generate a reply"
	default:
		return "could not reach the model provider"
	}
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	var invErr *InvocationError
	if errors.As(err, &invErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &InvocationError{Kind: KindTimeout, Err: err}
	}
	var apiErr *replicate.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden {
			return &InvocationError{Kind: KindAuth, Err: err}
		}
		return &InvocationError{Kind: KindTransport, Err: err}
	}
	var modelErr *replicate.ModelError
	if errors.As(err, &modelErr) {
		return &InvocationError{Kind: KindModel, Err: err}
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "401") || strings.Contains(msg, "unauthorized") || strings.Contains(msg, "invalid api key") {
		return &InvocationError{Kind: KindAuth, Err: err}
	}
	return &InvocationError{Kind: KindTransport, Err: err}
}
