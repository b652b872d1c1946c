package api

import (
	"net/http"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/commercefull/platform-sub011/internal/domain/pricing"
)

// PriceCart handles POST /api/price. It evaluates the cart against the
// promotion catalog and submitted coupon codes and returns the priced result
// with its audit trail.
func (h *Handler) PriceCart(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	pctx, err := decodeCart(jx.DecodeBytes(body))
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed request: "+err.Error())
		return
	}

	res, err := h.engine.PriceCart(r.Context(), pctx)
	if err != nil {
		h.mapPricingError(w, r, err)
		return
	}

	var e jx.Encoder
	encodeResult(&e, res)
	writeJSON(w, http.StatusOK, &e)
}

// decodeCart parses the shared cart payload used by both endpoints.
func decodeCart(d *jx.Decoder) (*pricing.Context, error) {
	var pctx pricing.Context
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "merchantId":
			pctx.MerchantID, err = d.Str()
		case "customerId":
			pctx.CustomerID, err = d.Str()
		case "customerGroups":
			pctx.CustomerGroups, err = decodeStrings(d)
		case "customerOrderCount":
			pctx.CustomerOrderCount, err = d.Int()
		case "items":
			err = d.Arr(func(d *jx.Decoder) error {
				item, err := decodeItem(d)
				if err != nil {
					return err
				}
				pctx.Items = append(pctx.Items, item)
				return nil
			})
		case "shippingAmount":
			pctx.ShippingAmount, err = decodeDecimal(d)
		case "shippingMethod":
			pctx.ShippingMethod, err = d.Str()
		case "shippingCountry":
			pctx.ShippingCountry, err = d.Str()
		case "paymentMethod":
			pctx.PaymentMethod, err = d.Str()
		case "couponCodes":
			pctx.CouponCodes, err = decodeStrings(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &pctx, nil
}

func decodeItem(d *jx.Decoder) (pricing.Item, error) {
	var item pricing.Item
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			item.ID, err = d.Str()
		case "productId":
			item.ProductID, err = d.Str()
		case "variantId":
			item.VariantID, err = d.Str()
		case "categoryIds":
			item.CategoryIDs, err = decodeStrings(d)
		case "basePrice":
			item.BasePrice, err = decodeDecimal(d)
		case "quantity":
			item.Quantity, err = d.Int()
		default:
			err = d.Skip()
		}
		return err
	})
	return item, err
}

func decodeStrings(d *jx.Decoder) ([]string, error) {
	var out []string
	err := d.Arr(func(d *jx.Decoder) error {
		s, err := d.Str()
		if err != nil {
			return err
		}
		out = append(out, s)
		return nil
	})
	return out, err
}

// decodeDecimal accepts monetary values as JSON numbers or strings.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	if d.Next() == jx.String {
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(s)
	}
	n, err := d.Num()
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(n.String())
}

func encodeResult(e *jx.Encoder, res *pricing.Result) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("lines", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, l := range res.Lines {
					encodeLine(e, l)
				}
			})
		})
		e.Field("subtotal", func(e *jx.Encoder) { e.Float64(res.Subtotal.InexactFloat64()) })
		e.Field("discountTotal", func(e *jx.Encoder) { e.Float64(res.DiscountTotal.InexactFloat64()) })
		e.Field("shipping", func(e *jx.Encoder) { e.Float64(res.Shipping.InexactFloat64()) })
		e.Field("freeShipping", func(e *jx.Encoder) { e.Bool(res.FreeShipping) })
		e.Field("total", func(e *jx.Encoder) { e.Float64(res.Total.InexactFloat64()) })
		e.Field("applied", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, a := range res.Applied {
					e.Obj(func(e *jx.Encoder) {
						e.Field("kind", func(e *jx.Encoder) { e.Str(string(a.Kind)) })
						e.Field("id", func(e *jx.Encoder) { e.Str(a.ID) })
						if a.Code != "" {
							e.Field("code", func(e *jx.Encoder) { e.Str(a.Code) })
						}
						e.Field("name", func(e *jx.Encoder) { e.Str(a.Name) })
						e.Field("amount", func(e *jx.Encoder) { e.Float64(a.Amount.InexactFloat64()) })
					})
				}
			})
		})
		e.Field("rejected", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, r := range res.Rejected {
					e.Obj(func(e *jx.Encoder) {
						e.Field("kind", func(e *jx.Encoder) { e.Str(string(r.Kind)) })
						if r.ID != "" {
							e.Field("id", func(e *jx.Encoder) { e.Str(r.ID) })
						}
						if r.Code != "" {
							e.Field("code", func(e *jx.Encoder) { e.Str(r.Code) })
						}
						e.Field("reason", func(e *jx.Encoder) { e.Str(r.Reason) })
					})
				}
			})
		})
		if len(res.FreeItems) > 0 {
			e.Field("freeItems", func(e *jx.Encoder) {
				e.Arr(func(e *jx.Encoder) {
					for _, f := range res.FreeItems {
						e.Obj(func(e *jx.Encoder) {
							e.Field("productId", func(e *jx.Encoder) { e.Str(f.ProductID) })
							e.Field("quantity", func(e *jx.Encoder) { e.Int(f.Quantity) })
						})
					}
				})
			})
		}
		if res.LoyaltyPoints > 0 {
			e.Field("loyaltyPoints", func(e *jx.Encoder) { e.Int64(res.LoyaltyPoints) })
		}
	})
}

func encodeLine(e *jx.Encoder, l pricing.Line) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("itemId", func(e *jx.Encoder) { e.Str(l.ItemID) })
		e.Field("productId", func(e *jx.Encoder) { e.Str(l.ProductID) })
		if l.VariantID != "" {
			e.Field("variantId", func(e *jx.Encoder) { e.Str(l.VariantID) })
		}
		e.Field("quantity", func(e *jx.Encoder) { e.Int(l.Quantity) })
		e.Field("baseUnitPrice", func(e *jx.Encoder) { e.Float64(l.BaseUnitPrice.InexactFloat64()) })
		e.Field("unitPrice", func(e *jx.Encoder) { e.Float64(l.UnitPrice.InexactFloat64()) })
		e.Field("priceSource", func(e *jx.Encoder) { e.Str(string(l.PriceSource)) })
		e.Field("originalTotal", func(e *jx.Encoder) { e.Float64(l.OriginalTotal.InexactFloat64()) })
		e.Field("finalTotal", func(e *jx.Encoder) { e.Float64(l.FinalTotal.InexactFloat64()) })
	})
}
