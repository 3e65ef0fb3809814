package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/hitoshi/jobsync/internal/model"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"state not found", model.ErrStateNotFound, http.StatusBadRequest, model.ErrCodeSignInRestart},
		{"exchange", &model.TokenExchangeError{Err: errors.New("x")}, http.StatusBadRequest, model.ErrCodeAuthorizationFailed},
		{"token not found", fmt.Errorf("get token: %w", model.ErrTokenNotFound), http.StatusUnauthorized, model.ErrCodeReconnectRequired},
		{"refresh transport", &model.TokenRefreshError{Err: errors.New("connection reset")}, http.StatusBadGateway, model.ErrCodeUpstreamUnavailable},
		{"refresh rejected", &model.TokenRefreshError{Rejected: true, StatusCode: 400, Err: errors.New("invalid_grant")}, http.StatusUnauthorized, model.ErrCodeReconnectRequired},
		{
			"refresh transport inside creation error",
			&model.DocumentCreationError{Kind: model.DocumentKindVacancy, Err: &model.TokenRefreshError{Err: errors.New("dial tcp")}},
			http.StatusBadGateway, model.ErrCodeUpstreamUnavailable,
		},
		{
			"token error inside creation error",
			&model.DocumentCreationError{Kind: model.DocumentKindVacancy, Err: model.ErrTokenNotFound},
			http.StatusUnauthorized, model.ErrCodeReconnectRequired,
		},
		{"storage", fmt.Errorf("find: %w", &model.StorageUnavailableError{Op: "find", Err: errors.New("down")}), http.StatusServiceUnavailable, model.ErrCodeStorageUnavailable},
		{"timeout", fmt.Errorf("waiting: %w", model.ErrOperationTimeout), http.StatusGatewayTimeout, model.ErrCodeTimeout},
		{"store read past deadline", fmt.Errorf("find document: %w: %w", model.ErrOperationTimeout, context.DeadlineExceeded), http.StatusGatewayTimeout, model.ErrCodeTimeout},
		{"invalid source", model.ErrInvalidSource, http.StatusBadRequest, model.ErrCodeInvalidSource},
		{"ownership", model.ErrOwnershipMismatch, http.StatusForbidden, model.ErrCodeForbidden},
		{"session expired", model.ErrSessionExpired, http.StatusGone, model.ErrCodeSessionExpired},
		{"session not found", model.ErrSessionNotFound, http.StatusNotFound, model.ErrCodeSessionNotFound},
		{"document not found", model.ErrDocumentNotFound, http.StatusNotFound, model.ErrCodeDocumentNotFound},
		{"creation", &model.DocumentCreationError{Kind: model.DocumentKindResume, Err: errors.New("bad pdf")}, http.StatusUnprocessableEntity, model.ErrCodeDocumentFailed},
		{"api error", model.NewPayloadTooLargeError(10), http.StatusRequestEntityTooLarge, model.ErrCodePayloadTooLarge},
		{"upstream api error", model.NewUpstreamUnavailableError(), http.StatusBadGateway, model.ErrCodeUpstreamUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, model.ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, apiErr := mapError(tt.err)
			if status != tt.wantStatus {
				t.Errorf("status = %d, want %d", status, tt.wantStatus)
			}
			if apiErr.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", apiErr.Code, tt.wantCode)
			}
		})
	}
}

func TestValidateStruct_UsesJSONFieldNames(t *testing.T) {
	err := validateStruct(&createSessionRequest{ResumeID: "abc"})
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	for _, want := range []string{"resume_id(uuid)", "vacancy_id(required)"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q should mention %q", msg, want)
		}
	}
}
