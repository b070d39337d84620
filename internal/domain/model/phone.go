package model

import (
	"regexp"
	"strings"
)

// DefaultCountryCode is the Kenyan dialing prefix used by M-Pesa.
const DefaultCountryCode = "254"

var (
	phoneNoise   = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", "\t", "")
	kenyanMobile = regexp.MustCompile(`^254[17]\d{8}$`)
)

// NormalizePhone rewrites a payer phone number to international form without '+':
// "0712 345-678" -> "254712345678", "+254712345678" -> "254712345678",
// "712345678" -> "254712345678". Empty input stays empty.
func NormalizePhone(raw string) string {
	return NormalizePhoneWithCode(raw, DefaultCountryCode)
}

func NormalizePhoneWithCode(raw, countryCode string) string {
	p := phoneNoise.Replace(strings.TrimSpace(raw))
	p = strings.TrimPrefix(p, "+")
	if p == "" {
		return ""
	}
	if strings.HasPrefix(p, "0") {
		p = countryCode + p[1:]
	}
	if !strings.HasPrefix(p, countryCode) {
		p = countryCode + p
	}
	return p
}

// IsValidKenyanPhone reports whether a normalized number is a Safaricom/Airtel mobile.
func IsValidKenyanPhone(normalized string) bool {
	return kenyanMobile.MatchString(normalized)
}
