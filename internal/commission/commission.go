// Package commission computes the platform commission attached to a confirmed booking.
//
// Rates are expressed in hundredths of a percent so every step stays in integer
// arithmetic: the base is rounded half-up first, then tax is computed on the
// rounded base and rounded half-up again.
package commission

import (
	"fmt"

	"reservas/internal/models"
)

const (
	// WebRate is 3.5%.
	WebRate int64 = 350
	// AdminDirectRate is 1.75%.
	AdminDirectRate int64 = 175
	// TaxRate is 19% applied on the base commission.
	TaxRate int64 = 1900

	rateScale int64 = 10000
)

// Rate returns the base commission rate for a channel.
func Rate(channel models.Channel) (int64, error) {
	switch channel {
	case models.ChannelWeb:
		return WebRate, nil
	case models.ChannelAdminDirect:
		return AdminDirectRate, nil
	}
	return 0, fmt.Errorf("%w: %q", models.ErrInvalidChannel, channel)
}

// Calculate maps a gross amount in the smallest currency unit to its commission.
func Calculate(gross int64, channel models.Channel) (models.CommissionBreakdown, error) {
	if gross <= 0 {
		return models.CommissionBreakdown{}, fmt.Errorf("%w: gross must be positive, got %d", models.ErrInvalidAmount, gross)
	}
	rate, err := Rate(channel)
	if err != nil {
		return models.CommissionBreakdown{}, err
	}

	base := applyRate(gross, rate)
	tax := applyRate(base, TaxRate)
	return models.CommissionBreakdown{
		BaseAmount:  base,
		TaxAmount:   tax,
		TotalAmount: base + tax,
	}, nil
}

// applyRate returns round_half_up(amount * rate / rateScale) for non-negative amounts.
func applyRate(amount, rate int64) int64 {
	return (amount*rate + rateScale/2) / rateScale
}

// ProratePrice converts an hourly price into the price of a slot of the given length,
// rounded half-up to the smallest currency unit.
func ProratePrice(hourly int64, minutes int) int64 {
	if hourly <= 0 || minutes <= 0 {
		return 0
	}
	return (hourly*int64(minutes) + 30) / 60
}
