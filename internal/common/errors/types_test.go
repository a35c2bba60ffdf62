package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appError *AppError
		want     string
	}{
		{
			name: "basic error",
			appError: &AppError{
				Type:    ErrTypeConfig,
				Message: "weights sum to 110",
			},
			want: "config: weights sum to 110",
		},
		{
			name: "error with code",
			appError: &AppError{
				Type:    ErrTypeAuth,
				Message: "authentication failed",
				Code:    "AUTH001",
			},
			want: "authentication: authentication failed: code=AUTH001",
		},
		{
			name: "error with cause",
			appError: &AppError{
				Type:    ErrTypeForwarding,
				Message: "forwarding to 10.0.0.1:80 failed",
				Cause:   errors.New("connection refused"),
			},
			want: "forwarding: forwarding to 10.0.0.1:80 failed: cause=connection refused",
		},
		{
			name: "context keys are sorted",
			appError: &AppError{
				Type:    ErrTypeValidation,
				Message: "field validation failed",
				Context: map[string]interface{}{
					"value": "invalid",
					"field": "weight",
				},
			},
			want: "validation: field validation failed: context={field=weight, value=invalid}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.appError.Error()
			if got != tt.want {
				t.Errorf("AppError.Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	appError := ForwardingError("10.0.0.1:80", cause)

	if !errors.Is(appError, cause) {
		t.Errorf("errors.Is(%v, cause) = false, want true", appError)
	}

	if ConfigError("bad").Unwrap() != nil {
		t.Error("Unwrap() without cause should be nil")
	}
}

func TestAppError_WithContextAndCode(t *testing.T) {
	appError := ConfigError("invalid rule")

	if got := appError.WithContext("rule", "beta"); got != appError {
		t.Error("WithContext should return the same instance")
	}
	if got := appError.WithCode("CFG001"); got != appError {
		t.Error("WithCode should return the same instance")
	}

	if appError.Context["rule"] != "beta" {
		t.Errorf("Context[rule] = %v, want beta", appError.Context["rule"])
	}
	if appError.Code != "CFG001" {
		t.Errorf("Code = %v, want CFG001", appError.Code)
	}
}

func TestConstructors(t *testing.T) {
	cause := errors.New("boom")

	tests := []struct {
		name string
		err  *AppError
		want ErrorType
	}{
		{"config", ConfigError("x"), ErrTypeConfig},
		{"configf", ConfigErrorf("weights sum to %d", 101), ErrTypeConfig},
		{"service unavailable", ServiceUnavailableError("v2", nil), ErrTypeServiceUnavailable},
		{"forwarding", ForwardingError("a:1", cause), ErrTypeForwarding},
		{"probe", ProbeError("a:1", cause), ErrTypeProbe},
		{"connection", ConnectionError("x", cause), ErrTypeConnection},
		{"validation", ValidationError("x"), ErrTypeValidation},
		{"auth", AuthError("x"), ErrTypeAuth},
		{"not found", NotFoundError("endpoint"), ErrTypeNotFound},
		{"internal", InternalError("x", cause), ErrTypeInternal},
		{"timeout", TimeoutError("probe"), ErrTypeTimeout},
		{"rate limit", RateLimitError("proxy"), ErrTypeRateLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Type != tt.want {
				t.Errorf("Type = %v, want %v", tt.err.Type, tt.want)
			}
		})
	}

	if got := ServiceUnavailableError("v2", nil).Message; got != `no healthy endpoint for version "v2"` {
		t.Errorf("ServiceUnavailableError message = %q", got)
	}
	if got := NotFoundError("endpoint").Message; got != "endpoint not found" {
		t.Errorf("NotFoundError message = %q", got)
	}
}

func TestIsType(t *testing.T) {
	wrapped := fmt.Errorf("reload: %w", ConfigError("weights sum to 101"))

	if !IsType(wrapped, ErrTypeConfig) {
		t.Error("IsType() should see through fmt.Errorf wrapping")
	}
	if IsType(wrapped, ErrTypeProbe) {
		t.Error("IsType() matched the wrong type")
	}
	if IsType(nil, ErrTypeConfig) {
		t.Error("IsType(nil) should be false")
	}
	if IsType(errors.New("plain"), ErrTypeConfig) {
		t.Error("IsType() on a plain error should be false")
	}
}

func TestGetType(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{"nil", nil, ""},
		{"plain error", errors.New("plain"), ErrTypeInternal},
		{"app error", ProbeError("a:1", nil), ErrTypeProbe},
		{"wrapped app error", fmt.Errorf("dispatch: %w", ServiceUnavailableError("v1", nil)), ErrTypeServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetType(tt.err); got != tt.want {
				t.Errorf("GetType() = %v, want %v", got, tt.want)
			}
		})
	}
}
