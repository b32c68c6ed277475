package payment

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// MinorUnitExponent is the decimal exponent shared by every supported currency.
const MinorUnitExponent = 2

// ToMinor converts a major-unit amount (dollars) into minor units (cents).
func ToMinor(major decimal.Decimal) decimal.Decimal {
	return major.Shift(MinorUnitExponent).Round(0)
}

// ToMajor converts minor units back into a major-unit amount.
func ToMajor(minor decimal.Decimal) decimal.Decimal {
	return minor.Shift(-MinorUnitExponent)
}

// FormatMinor renders a minor-unit amount with its currency code.
func FormatMinor(minor decimal.Decimal, currency string) string {
	return fmt.Sprintf("%s %s", ToMajor(minor).StringFixed(MinorUnitExponent), currency)
}

// NormalizeCurrency upper-cases and validates an ISO 4217 code.
func NormalizeCurrency(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 3 {
		return "", fmt.Errorf("invalid currency code %q", code)
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return "", fmt.Errorf("invalid currency code %q", code)
		}
	}
	return code, nil
}
