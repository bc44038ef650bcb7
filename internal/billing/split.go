package billing

import (
	"github.com/shopspring/decimal"

	"github.com/frahmantamala/spotpay-billing/internal"
	billingDatamodel "github.com/frahmantamala/spotpay-billing/internal/core/datamodel/billing"
	hotspotDatamodel "github.com/frahmantamala/spotpay-billing/internal/core/datamodel/hotspot"
)

// MoneyPlaces is the number of minor-unit digits kept for every amount.
const MoneyPlaces = 2

var hundred = decimal.NewFromInt(100)

type Split struct {
	GrossAmount     decimal.Decimal `json:"gross_amount"`
	BasisPercentage decimal.Decimal `json:"basis_percentage"`
	ExtraPercentage decimal.Decimal `json:"extra_percentage"`
	PlatformAmount  decimal.Decimal `json:"platform_amount"`
	VendorAmount    decimal.Decimal `json:"vendor_amount"`
}

// Calculate divides gross between platform and vendor. Only the platform
// share is rounded (half-up, 2 places); the vendor share is the remainder so
// the two always sum to gross.
func Calculate(gross, basisPct, extraPct decimal.Decimal) (Split, error) {
	total := basisPct.Add(extraPct)
	if total.IsNegative() || total.GreaterThan(hundred) {
		return Split{}, internal.ErrInvalidPercentage
	}
	if gross.IsNegative() {
		return Split{}, internal.ErrInvalidAmount
	}

	platform := roundHalfUp(gross.Mul(total).Div(hundred))
	return Split{
		GrossAmount:     gross,
		BasisPercentage: basisPct,
		ExtraPercentage: extraPct,
		PlatformAmount:  platform,
		VendorAmount:    gross.Sub(platform),
	}, nil
}

// roundHalfUp rounds away from zero on a tie. decimal.Round already does
// this, and amounts here are never negative.
func roundHalfUp(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// Percentages resolves the split configuration of a location. A profile with
// splitting disabled routes everything to the vendor.
func Percentages(profile *hotspotDatamodel.BillingProfile) (basis, extra decimal.Decimal) {
	if profile == nil || !profile.SplittingEnabled {
		return decimal.Zero, decimal.Zero
	}
	return profile.BasisPercentage, profile.ExtraPercentage
}

// ForProfile is Calculate with percentages taken from the billing profile.
func ForProfile(gross decimal.Decimal, profile *hotspotDatamodel.BillingProfile) (Split, error) {
	basis, extra := Percentages(profile)
	return Calculate(gross, basis, extra)
}

func (s Split) ToDataModel(paymentID string) *billingDatamodel.FeeSplit {
	return &billingDatamodel.FeeSplit{
		PaymentID:       paymentID,
		GrossAmount:     s.GrossAmount,
		BasisPercentage: s.BasisPercentage,
		ExtraPercentage: s.ExtraPercentage,
		PlatformAmount:  s.PlatformAmount,
		VendorAmount:    s.VendorAmount,
	}
}

func FromDataModel(m *billingDatamodel.FeeSplit) Split {
	return Split{
		GrossAmount:     m.GrossAmount,
		BasisPercentage: m.BasisPercentage,
		ExtraPercentage: m.ExtraPercentage,
		PlatformAmount:  m.PlatformAmount,
		VendorAmount:    m.VendorAmount,
	}
}
