package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gezibash/arc-provenance/internal/feed"
	"github.com/gezibash/arc-provenance/internal/registry"
	"github.com/gezibash/arc-provenance/internal/sequencer"
	"github.com/gezibash/arc-provenance/pkg/reqauth"
	"github.com/gezibash/arc-provenance/pkg/wire"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response failed", "error", err)
	}
}

// classify maps an error to its HTTP status and wire kind. Registry
// rejections keep their kind name.
func classify(err error) (int, string) {
	var bad *badRequest
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &bad), errors.As(err, &maxBytes), errors.Is(err, feed.ErrInvalidFilter):
		return http.StatusBadRequest, registry.KindInvalidArgument.String()
	case errors.Is(err, sequencer.ErrGenesisReserved):
		return http.StatusBadRequest, registry.KindInvalidArgument.String()
	case errors.Is(err, sequencer.ErrBadNonce):
		return http.StatusConflict, wire.KindBadNonce
	case errors.Is(err, reqauth.ErrMissing), errors.Is(err, reqauth.ErrKey),
		errors.Is(err, reqauth.ErrTimestamp), errors.Is(err, reqauth.ErrSkew),
		errors.Is(err, reqauth.ErrSignature):
		return http.StatusUnauthorized, wire.KindUnauthorized
	case errors.Is(err, sequencer.ErrClosed), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, wire.KindUnavailable
	}

	kind := registry.KindOf(err)
	switch kind {
	case registry.KindInvalidArgument:
		return http.StatusBadRequest, kind.String()
	case registry.KindAccessDenied, registry.KindNotOwnerOrIssuer, registry.KindForbidden:
		return http.StatusForbidden, kind.String()
	case registry.KindNotFound:
		return http.StatusNotFound, kind.String()
	case registry.KindAlreadyRegistered, registry.KindAlreadyInitialized, registry.KindOutOfOrder:
		return http.StatusConflict, kind.String()
	case registry.KindNotInitialized:
		return http.StatusServiceUnavailable, kind.String()
	}
	return http.StatusInternalServerError, wire.KindInternal
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := classify(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed",
			"request_id", requestIDFrom(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
		msg = "internal error"
	}
	writeJSON(w, status, wire.Error{Error: kind, Message: msg})
}
