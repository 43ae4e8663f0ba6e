package catalog

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/pricing"
)

func collectCoupons(t *testing.T, input string) []CouponRecord {
	t.Helper()
	var out []CouponRecord
	require.NoError(t, DecodeCoupons(strings.NewReader(input), func(r CouponRecord) error {
		out = append(out, r)
		return nil
	}))
	return out
}

func TestDecodeCoupons(t *testing.T) {
	const record = `{"code": "welcome10", "discountType": "percentage", "discountValue": 10,
		"minOrderAmount": "100", "maxDiscountAmount": 100, "expiryDate": "2027-12-31",
		"usageLimit": 100, "isActive": true, "description": "10% off", "extra": {"a": [1]}}`

	tests := []struct {
		name  string
		input string
	}{
		{"array", "[" + record + "]"},
		{"json lines", record + "\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := collectCoupons(t, tt.input)
			require.Len(t, got, 1)
			r := got[0]
			assert.Equal(t, "welcome10", r.Code)
			assert.True(t, r.DiscountValue.Equal(decimal.NewFromInt(10)))
			assert.True(t, r.MinOrderAmount.Equal(decimal.NewFromInt(100)))
			require.NotNil(t, r.MaxDiscountAmount)
			assert.Equal(t, time.Date(2027, 12, 31, 23, 59, 59, 999999999, time.UTC), r.ExpiryDate)
			assert.Equal(t, 100, r.UsageLimit)
			assert.True(t, r.IsActive)
		})
	}
}

func TestDecodeCoupons_Multiple(t *testing.T) {
	got := collectCoupons(t, `{"code": "A", "maxDiscountAmount": null}
{"code": "B", "isActive": false, "expiryDate": "2027-01-01T10:00:00Z"}
`)
	require.Len(t, got, 2)
	assert.Nil(t, got[0].MaxDiscountAmount)
	assert.True(t, got[0].IsActive)
	assert.False(t, got[1].IsActive)
	assert.Equal(t, time.Date(2027, 1, 1, 10, 0, 0, 0, time.UTC), got[1].ExpiryDate.UTC())
}

func TestDecodeCoupons_Malformed(t *testing.T) {
	for _, input := range []string{
		`{"code": 5}`,
		`{"code": "A", "expiryDate": "tomorrow"}`,
		`[1, 2]`,
		`"code"`,
	} {
		err := DecodeCoupons(strings.NewReader(input), func(CouponRecord) error { return nil })
		assert.Error(t, err, input)
	}
}

func TestCouponRecord_Coupon(t *testing.T) {
	cap100 := decimal.NewFromInt(100)
	valid := CouponRecord{
		Code:              " flat50 ",
		DiscountType:      "Fixed",
		DiscountValue:     decimal.NewFromInt(50),
		MinOrderAmount:    decimal.NewFromInt(200),
		MaxDiscountAmount: &cap100,
		ExpiryDate:        time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC),
		UsageLimit:        50,
		IsActive:          true,
	}

	c, err := valid.Coupon()
	require.NoError(t, err)
	assert.Equal(t, "FLAT50", c.Code)
	assert.Equal(t, pricing.DiscountFixed, c.Kind)
	assert.Nil(t, c.MaxDiscount, "fixed coupons carry no cap")
	assert.Empty(t, c.RedeemedBy)

	tests := []struct {
		name   string
		mutate func(r *CouponRecord)
	}{
		{"empty code", func(r *CouponRecord) { r.Code = " " }},
		{"unknown type", func(r *CouponRecord) { r.DiscountType = "free_lowest" }},
		{"zero value", func(r *CouponRecord) { r.DiscountValue = decimal.Zero }},
		{"percentage above 100", func(r *CouponRecord) {
			r.DiscountType = "percentage"
			r.DiscountValue = decimal.NewFromInt(101)
		}},
		{"negative minimum", func(r *CouponRecord) { r.MinOrderAmount = decimal.NewFromInt(-1) }},
		{"no usage", func(r *CouponRecord) { r.UsageLimit = 0 }},
		{"no expiry", func(r *CouponRecord) { r.ExpiryDate = time.Time{} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid
			tt.mutate(&r)
			_, err := r.Coupon()
			assert.Error(t, err)
		})
	}
}

func TestDecodeProducts(t *testing.T) {
	var got []ProductRecord
	require.NoError(t, DecodeProducts(strings.NewReader(`[
		{"id": "p1", "name": "Waffle with Berries", "price": 6.5, "category": "Waffle",
		 "image": {"thumbnail": "t.jpg", "mobile": "m.jpg", "tablet": "tb.jpg", "desktop": "d.jpg", "x": 1}}
	]`), func(r ProductRecord) error {
		got = append(got, r)
		return nil
	}))
	require.Len(t, got, 1)

	p, err := got[0].Product()
	require.NoError(t, err)
	assert.Equal(t, "Waffle with Berries", p.Title)
	assert.True(t, p.Price.Equal(decimal.RequireFromString("6.5")))
	assert.Equal(t, "d.jpg", p.Image.Desktop)

	_, err = ProductRecord{ID: "has space", Title: "x"}.Product()
	assert.Error(t, err)
	_, err = ProductRecord{ID: "p2"}.Product()
	assert.Error(t, err)
	_, err = ProductRecord{ID: "p3", Title: "x", Price: decimal.NewFromInt(-1)}.Product()
	assert.Error(t, err)
}
