// Package phone canonicalizes buyer phone numbers into international form.
// The output feeds the (country, phone) natural key, so it must be
// deterministic for identical inputs.
package phone

import (
	"strconv"
	"strings"

	"github.com/nyaruka/phonenumbers"
	"github.com/pkg/errors"
)

// ErrNoDigits is the only hard failure: the input contains nothing usable.
// Every other malformed input degrades to a best-effort candidate so a single
// bad contact field never stalls a sync run.
var ErrNoDigits = errors.New("phone has no usable digits")

type Outcome string

const (
	// OutcomeValidated means the number passed strict libphonenumber
	// validation and Number is the canonical E.164 form.
	OutcomeValidated Outcome = "VALIDATED"
	// OutcomeBestEffort means validation failed but a plausible candidate was
	// still assembled. The caller decides whether to store it.
	OutcomeBestEffort Outcome = "BEST_EFFORT"
)

type Result struct {
	Number  string
	Outcome Outcome
}

// Normalize turns a raw phone string into international form.
//
// callingCode is the explicit calling code as sent by the platform ("+62",
// "62", ...). countryHint is an ISO-2 country used to derive a calling code
// when none is supplied, and as the validation region.
func Normalize(raw, callingCode, countryHint string) (Result, error) {
	digits := extractDigits(raw)
	region := strings.ToUpper(strings.TrimSpace(countryHint))

	cc := extractDigits(callingCode)
	cc = strings.TrimLeft(cc, "0")
	if cc == "" && region != "" {
		if code := phonenumbers.GetCountryCodeForRegion(region); code > 0 {
			cc = strconv.Itoa(code)
		}
	}

	if cc != "" {
		if digits == "" {
			return Result{}, ErrNoDigits
		}
		national := strings.TrimLeft(digits, "0")
		if national == "" {
			return Result{}, ErrNoDigits
		}
		candidate := "+" + cc + national

		validationRegion := region
		if validationRegion == "" {
			if code, err := strconv.Atoi(cc); err == nil {
				validationRegion = phonenumbers.GetRegionCodeForCountryCode(code)
			}
		}

		if num, err := phonenumbers.Parse(candidate, validationRegion); err == nil && phonenumbers.IsValidNumber(num) {
			return Result{Number: phonenumbers.Format(num, phonenumbers.E164), Outcome: OutcomeValidated}, nil
		}
		return Result{Number: candidate, Outcome: OutcomeBestEffort}, nil
	}

	// No calling code and no usable country hint: parse the raw string as-is.
	if digits == "" {
		return Result{}, ErrNoDigits
	}
	if num, err := phonenumbers.Parse(raw, region); err == nil && phonenumbers.IsValidNumber(num) {
		return Result{Number: phonenumbers.Format(num, phonenumbers.E164), Outcome: OutcomeValidated}, nil
	}
	candidate := digits
	if strings.HasPrefix(strings.TrimSpace(raw), "+") {
		candidate = "+" + digits
	}
	return Result{Number: candidate, Outcome: OutcomeBestEffort}, nil
}

func extractDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteByte(byte(r))
		}
	}
	return b.String()
}
