package domain

import "github.com/shopspring/decimal"

// Price is a fixed-point currency amount stored in minor units (paise).
// All aggregation happens on this integer representation; conversion to a
// decimal value happens only at presentation boundaries (gateway, logs).
type Price int64

// Decimal returns the price as a decimal in major units (rupees).
func (p Price) Decimal() decimal.Decimal {
	return decimal.New(int64(p), -2)
}

// String renders the price in major units with two decimal places.
func (p Price) String() string {
	return p.Decimal().StringFixed(2)
}

// PriceFromMajor converts a major-unit float (e.g. a vendor price quoted in
// rupees or USDT) into minor units, rounding half away from zero.
func PriceFromMajor(v float64) Price {
	return Price(decimal.NewFromFloat(v).Shift(2).Round(0).IntPart())
}
