package handler

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

// ErrInvalidBody is returned for a request body that is not the expected JSON.
var ErrInvalidBody = domain.NewError(domain.KindInvalidArgument, "INVALID_BODY", "malformed request body")

// StatusOf maps a domain error kind to its HTTP status.
func StatusOf(kind domain.Kind) int {
	switch kind {
	case domain.KindInvalidArgument:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict, domain.KindInvalidTransition:
		return http.StatusConflict
	case domain.KindPreconditionFailed:
		return http.StatusPreconditionFailed
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindUnauthenticated:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err. Unclassified errors are logged and answered with a
// generic message.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	derr, ok := domain.AsError(err)
	if !ok || derr.Kind == domain.KindInternal {
		if ctx.Err() != nil {
			logger(ctx).Debug("Request canceled", zap.Error(err))
		} else {
			logger(ctx).Error("Request failed", zap.Error(err))
		}
		httpmiddleware.WriteError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}
	httpmiddleware.WriteError(w, StatusOf(derr.Kind), derr.Code, derr.Message, derr.Fields...)
}
