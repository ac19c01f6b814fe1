// Package eligibility decides whether a donor may give a donation of a given
// type on a given date, based on the spacing and annual limits for that type.
// It performs no I/O.
package eligibility

import (
	"errors"
	"fmt"
	"time"
)

type DonationType string

const (
	WholeBlood DonationType = "whole_blood"
	Plasma     DonationType = "plasma"
)

// ValidTypes lists the supported donation types in display order.
var ValidTypes = []DonationType{WholeBlood, Plasma}

func (t DonationType) IsValid() bool {
	switch t {
	case WholeBlood, Plasma:
		return true
	}
	return false
}

// PlasmaLitersPerDonation approximates plasma volume per visit; volume is not
// tracked per donation when booking.
const PlasmaLitersPerDonation = 0.65

// Rule is the spacing and annual limit for one donation type.
// AnnualCap is a donation count for whole blood and liters for plasma.
type Rule struct {
	MinGapDays int
	AnnualCap  float64
	CapUnit    string
}

var rules = map[DonationType]Rule{
	WholeBlood: {MinGapDays: 90, AnnualCap: 4, CapUnit: "donations"},
	Plasma:     {MinGapDays: 14, AnnualCap: 12, CapUnit: "liters"},
}

// RuleFor returns the rule for t.
func RuleFor(t DonationType) (Rule, bool) {
	r, ok := rules[t]
	return r, ok
}

var ErrUnknownDonationType = errors.New("unsupported donation type")

type Violation string

const (
	ViolationNone      Violation = ""
	ViolationMinGap    Violation = "min_gap"
	ViolationAnnualCap Violation = "annual_cap"
)

// Result describes the outcome together with the rule values that were
// applied, so callers can explain a rejection.
type Result struct {
	Eligible          bool
	Violation         Violation
	Reason            string
	DonationType      DonationType
	MinGapDays        int
	DaysElapsed       int // -1 for first-time donors
	AnnualCap         float64
	CapUnit           string
	DonationsThisYear int
}

// Validate applies the rule for donationType. A nil lastDonation means a
// first-time donor, who is always eligible.
func Validate(donationType DonationType, candidate time.Time, lastDonation *time.Time, donationsThisYear int) (Result, error) {
	rule, ok := rules[donationType]
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownDonationType, donationType)
	}

	res := Result{
		DonationType:      donationType,
		MinGapDays:        rule.MinGapDays,
		AnnualCap:         rule.AnnualCap,
		CapUnit:           rule.CapUnit,
		DonationsThisYear: donationsThisYear,
		DaysElapsed:       -1,
	}

	if lastDonation == nil {
		res.Eligible = true
		return res, nil
	}

	days := DaysBetween(*lastDonation, candidate)
	res.DaysElapsed = days

	if days < rule.MinGapDays {
		res.Violation = ViolationMinGap
		res.Reason = fmt.Sprintf("%s donations require at least %d days between donations; only %d days have passed since the last donation",
			donationType.label(), rule.MinGapDays, days)
		return res, nil
	}

	if annualUsage(donationType, donationsThisYear) >= rule.AnnualCap {
		res.Violation = ViolationAnnualCap
		res.Reason = fmt.Sprintf("annual %s limit of %s %s reached (%d donations this year)",
			donationType.label(), formatCap(rule.AnnualCap), rule.CapUnit, donationsThisYear)
		return res, nil
	}

	res.Eligible = true
	return res, nil
}

func annualUsage(t DonationType, donationsThisYear int) float64 {
	if t == Plasma {
		return float64(donationsThisYear) * PlasmaLitersPerDonation
	}
	return float64(donationsThisYear)
}

// DaysBetween counts calendar days from a to b, both taken as UTC dates.
// Time of day and DST shifts do not affect the result.
func DaysBetween(a, b time.Time) int {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}

func (t DonationType) label() string {
	switch t {
	case WholeBlood:
		return "whole blood"
	case Plasma:
		return "plasma"
	}
	return string(t)
}

func formatCap(v float64) string {
	if v == float64(int(v)) {
		return fmt.Sprintf("%d", int(v))
	}
	return fmt.Sprintf("%.2f", v)
}
