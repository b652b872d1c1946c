// Package api exposes the pricing engine over HTTP with hand-written JSON
// codecs on go-faster/jx.
package api

import (
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/commercefull/platform-sub011/internal/domain/discount"
	"github.com/commercefull/platform-sub011/internal/domain/pricing"
	"github.com/commercefull/platform-sub011/internal/domain/promotion"
)

// maxBodyBytes bounds request bodies; carts are small.
const maxBodyBytes = 1 << 20

// Handler serves the pricing API.
type Handler struct {
	engine *pricing.Engine
}

// NewHandler creates a Handler around the pricing engine.
func NewHandler(engine *pricing.Engine) *Handler {
	return &Handler{engine: engine}
}

// Routes registers the API endpoints on the mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/price", h.PriceCart)
	mux.HandleFunc("POST /api/coupons/validate", h.ValidateCoupon)
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable request body")
		return nil, false
	}
	return body, true
}

func writeError(w http.ResponseWriter, status int, message string) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("code", func(e *jx.Encoder) { e.Int(status) })
		e.Field("message", func(e *jx.Encoder) { e.Str(message) })
	})
	writeJSON(w, status, &e)
}

func writeJSON(w http.ResponseWriter, status int, e *jx.Encoder) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// mapPricingError translates domain failures into HTTP responses. Malformed
// catalog data is a server-side configuration problem, not the caller's.
func (h *Handler) mapPricingError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, pricing.ErrEmptyItems):
		writeError(w, http.StatusBadRequest, err.Error())
	case isInvalidQuantity(err):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case isConfigError(err):
		zctx.From(r.Context()).Error("catalog configuration error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "pricing configuration error")
	default:
		zctx.From(r.Context()).Error("pricing failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "pricing temporarily unavailable")
	}
}

func isInvalidQuantity(err error) bool {
	var qerr *pricing.InvalidQuantityError
	return errors.As(err, &qerr)
}

func isConfigError(err error) bool {
	var (
		ruleErr   *promotion.InvalidRuleError
		actionErr *discount.InvalidActionError
	)
	return errors.As(err, &ruleErr) || errors.As(err, &actionErr)
}
