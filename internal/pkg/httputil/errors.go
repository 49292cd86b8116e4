package httputil

import (
	"context"
	"errors"
	"net/http"

	"github.com/bissquit/triage-garden/internal/pkg/ctxlog"
	"github.com/go-playground/validator/v10"
)

// ErrorMapping defines how a domain error maps to an HTTP response.
type ErrorMapping struct {
	Error   error
	Status  int
	Message string // if empty, uses err.Error()
}

// HandleError maps err to an HTTP response using the first matching mapping.
// Validation errors become 400 responses with field details. Anything else is
// logged with the request logger and answered with 500.
func HandleError(ctx context.Context, w http.ResponseWriter, err error, mappings []ErrorMapping) {
	for _, m := range mappings {
		if errors.Is(err, m.Error) {
			msg := m.Message
			if msg == "" {
				msg = err.Error()
			}
			Error(w, m.Status, msg)
			return
		}
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		ValidationError(w, verrs)
		return
	}

	ctxlog.FromContext(ctx).Error("unhandled error", "error", err)
	Error(w, http.StatusInternalServerError, "internal error")
}
