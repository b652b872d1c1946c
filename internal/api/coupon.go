package api

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/commercefull/platform-sub011/internal/domain/coupon"
	"github.com/commercefull/platform-sub011/internal/domain/pricing"
)

// ValidateCoupon handles POST /api/coupons/validate. The check is
// side-effect free: no usage slot is consumed until the cart is actually
// priced and committed. A failing coupon is a 200 with valid=false, not an
// HTTP error.
func (h *Handler) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	code, pctx, err := decodeValidateRequest(jx.DecodeBytes(body))
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed request: "+err.Error())
		return
	}
	if code == "" {
		writeError(w, http.StatusBadRequest, "code required")
		return
	}

	c, err := h.engine.ValidateCoupon(r.Context(), code, pctx)
	if err != nil {
		if kind := coupon.KindOf(err); kind != "" {
			var e jx.Encoder
			encodeInvalidCoupon(&e, err, kind)
			writeJSON(w, http.StatusOK, &e)
			return
		}
		zctx.From(r.Context()).Error("coupon validation failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "coupon validation temporarily unavailable")
		return
	}

	var e jx.Encoder
	encodeValidCoupon(&e, c)
	writeJSON(w, http.StatusOK, &e)
}

func decodeValidateRequest(d *jx.Decoder) (string, *pricing.Context, error) {
	var (
		code string
		pctx *pricing.Context
	)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code":
			code, err = d.Str()
		case "cart":
			pctx, err = decodeCart(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return "", nil, err
	}
	if pctx == nil {
		pctx = &pricing.Context{}
	}
	return code, pctx, nil
}

func encodeValidCoupon(e *jx.Encoder, c *coupon.Coupon) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("valid", func(e *jx.Encoder) { e.Bool(true) })
		e.Field("coupon", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("code", func(e *jx.Encoder) { e.Str(c.Code) })
				e.Field("description", func(e *jx.Encoder) { e.Str(c.Description) })
				if c.PromotionID != "" {
					e.Field("promotionId", func(e *jx.Encoder) { e.Str(c.PromotionID) })
				}
				if c.Type != "" {
					e.Field("discountType", func(e *jx.Encoder) { e.Str(string(c.Type)) })
					e.Field("value", func(e *jx.Encoder) { e.Float64(c.Value.InexactFloat64()) })
				}
			})
		})
	})
}

func encodeInvalidCoupon(e *jx.Encoder, err error, kind coupon.ErrorKind) {
	var verr *coupon.ValidationError
	restriction := ""
	if errors.As(err, &verr) {
		restriction = verr.Restriction
	}
	e.Obj(func(e *jx.Encoder) {
		e.Field("valid", func(e *jx.Encoder) { e.Bool(false) })
		e.Field("reason", func(e *jx.Encoder) { e.Str(string(kind)) })
		e.Field("message", func(e *jx.Encoder) { e.Str(err.Error()) })
		if restriction != "" {
			e.Field("restriction", func(e *jx.Encoder) { e.Str(restriction) })
		}
	})
}
