//go:build integration

package integration

import (
	"net/http"
	"testing"
)

func welcomeCart() priceRequest {
	return priceRequest{
		Items: []priceItem{
			{ID: "l1", ProductID: "waffle-berries", BasePrice: 6.50, Quantity: 4},
		},
	}
}

func TestValidateCoupon_Known(t *testing.T) {
	resp := doPost(t, "/api/coupons/validate", validateRequest{
		Code: "WELCOME10",
		Cart: welcomeCart(),
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	body := decodeJSON[validateResponse](t, resp)
	if !body.Valid {
		t.Errorf("expected WELCOME10 to validate, got reason %q", body.Reason)
	}
}

func TestValidateCoupon_Unknown(t *testing.T) {
	resp := doPost(t, "/api/coupons/validate", validateRequest{
		Code: "NO-SUCH-CODE",
		Cart: welcomeCart(),
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	body := decodeJSON[validateResponse](t, resp)
	if body.Valid {
		t.Error("expected unknown code to be invalid")
	}
	if body.Reason != "not_found" {
		t.Errorf("reason: got %q, want not_found", body.Reason)
	}
}

func TestValidateCoupon_CaseInsensitive(t *testing.T) {
	resp := doPost(t, "/api/coupons/validate", validateRequest{
		Code: "welcome10",
		Cart: welcomeCart(),
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	body := decodeJSON[validateResponse](t, resp)
	if !body.Valid {
		t.Errorf("expected lowercase lookup to validate, got reason %q", body.Reason)
	}
}

func TestValidateCoupon_MissingCode(t *testing.T) {
	resp := doPost(t, "/api/coupons/validate", validateRequest{Cart: welcomeCart()})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestPriceCart_LinkedCoupon(t *testing.T) {
	resp := doPost(t, "/api/price", priceRequest{
		Items: []priceItem{
			{ID: "l1", ProductID: "chips", CategoryIDs: []string{"snacks"}, BasePrice: 4, Quantity: 3},
		},
		CouponCodes: []string{"BOGOSNACKS"},
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	body := decodeJSON[priceResponse](t, resp)
	found := false
	for _, a := range body.Applied {
		if a.Kind == "coupon" && a.Code == "BOGOSNACKS" {
			found = true
		}
	}
	if !found {
		t.Errorf("applied: got %+v, want BOGOSNACKS", body.Applied)
	}
}

func TestPriceCart_UnknownCouponRejected(t *testing.T) {
	resp := doPost(t, "/api/price", priceRequest{
		Items: []priceItem{
			{ID: "l1", ProductID: "p1", BasePrice: 50, Quantity: 1},
		},
		CouponCodes: []string{"DOES-NOT-EXIST"},
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	body := decodeJSON[priceResponse](t, resp)
	found := false
	for _, r := range body.Rejected {
		if r.Kind == "coupon" && r.Reason == "not_found" {
			found = true
		}
	}
	if !found {
		t.Errorf("rejected: got %+v, want a not_found coupon entry", body.Rejected)
	}
}
