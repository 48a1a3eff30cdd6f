package leads

import (
	"strings"
	"time"
)

// ScoreBreakdown lists each component's contribution so operators can see
// why a lead ranks where it does.
type ScoreBreakdown struct {
	Budget        int `json:"budget"`
	Timeline      int `json:"timeline"`
	Contact       int `json:"contact"`
	Engagement    int `json:"engagement"`
	Intent        int `json:"intent"`
	Payment       int `json:"payment"`
	Requirements  int `json:"requirements"`
	Location      int `json:"location"`
	BuyerProfile  int `json:"buyer_profile"`
	Qualification int `json:"qualification"`
	Total         int `json:"total"`
}

const (
	budgetTierTop  = 10_000_000
	budgetTierHigh = 5_000_000
	budgetTierMid  = 2_500_000
)

var timelinePoints = map[Timeline]int{
	TimelineImmediate:    20,
	TimelineShort:        15,
	TimelineMedium:       8,
	TimelineLong:         3,
	TimelineJustBrowsing: 1,
}

var intentPoints = map[IntentLevel]int{
	IntentHot:    10,
	IntentHigh:   8,
	IntentMedium: 4,
	IntentLow:    1,
}

var paymentPoints = map[PaymentMethod]int{
	PaymentCash: 5,
	PaymentBoth: 4,
	PaymentLoan: 3,
}

var locationKeywords = []string{
	"street", "st.", "road", "rd", "sector", "avenue", "lane", "nagar", "block", "phase", "layout", "colony",
}

// Score computes the 0-100 lead score. listingPrice is the price of the
// linked listing, if any. now is only used for the recency adjustment.
func Score(l *Lead, listingPrice *float64, now time.Time) int {
	return ExplainScore(l, listingPrice, now).Total
}

// ExplainScore computes the score and its components. It never mutates l.
func ExplainScore(l *Lead, listingPrice *float64, now time.Time) ScoreBreakdown {
	var b ScoreBreakdown
	if l == nil {
		return b
	}

	b.Budget = budgetPoints(l.BudgetMin, l.BudgetMax, listingPrice)
	b.Timeline = timelinePoints[l.Timeline]
	b.Contact = contactPoints(l.Phone, l.Email)
	b.Engagement = engagementPoints(l.TotalMessages, l.LastInteractionAt, now)
	b.Intent = intentPoints[l.IntentLevel]
	b.Payment = paymentPoints[l.PaymentMethod]
	b.Requirements = requirementsPoints(l.PropertyRequirements)
	b.Location = locationPoints(l.PreferredLocation)
	b.BuyerProfile = buyerProfilePoints(l.IsFirstTimeBuyer, l.HasPropertyToSell)

	sum := clamp(b.Budget + b.Timeline + b.Contact + b.Engagement + b.Intent +
		b.Payment + b.Requirements + b.Location + b.BuyerProfile)

	final := sum
	switch l.QualificationStatus {
	case QualificationReadyForAgent:
		final = clamp(sum + 10)
	case QualificationQualified:
		final = clamp(sum + 5)
	case QualificationUnqualified:
		final = clamp(sum - 20)
	}
	b.Qualification = final - sum
	b.Total = final
	return b
}

func budgetPoints(min, max, listingPrice *float64) int {
	if max != nil && *max > 0 {
		if listingPrice != nil && *listingPrice > 0 {
			if *max >= *listingPrice {
				return 25
			}
		}
		switch {
		case *max >= budgetTierTop:
			return 25
		case *max >= budgetTierHigh:
			return 20
		case *max >= budgetTierMid:
			return 12
		default:
			return 5
		}
	}
	if min != nil && *min > 0 {
		if *min >= budgetTierHigh {
			return 15
		}
		return 5
	}
	return 0
}

func contactPoints(phone, email string) int {
	points := 0
	if strings.TrimSpace(phone) != "" {
		points += 15
	}
	if strings.TrimSpace(email) != "" {
		points += 5
	}
	return points
}

func engagementPoints(total int, last *time.Time, now time.Time) int {
	points := 0
	switch {
	case total >= 10:
		points = 15
	case total >= 6:
		points = 12
	case total >= 3:
		points = 8
	case total >= 1:
		points = 3
	}
	if last != nil {
		since := now.Sub(*last)
		switch {
		case since < time.Hour:
			points += 5
		case since < 24*time.Hour:
			points += 3
		case since > 7*24*time.Hour:
			points -= 3
		}
	}
	if points > 20 {
		points = 20
	}
	if points < 0 {
		points = 0
	}
	return points
}

func requirementsPoints(r PropertyRequirements) int {
	switch n := r.PopulatedCount(); {
	case n >= 4:
		return 5
	case n >= 2:
		return 3
	case n >= 1:
		return 1
	}
	return 0
}

func locationPoints(location string) int {
	loc := strings.ToLower(strings.TrimSpace(location))
	if loc == "" {
		return 0
	}
	for _, word := range strings.FieldsFunc(loc, func(r rune) bool { return r == ' ' || r == ',' || r == '-' || r == '/' }) {
		for _, kw := range locationKeywords {
			if word == kw {
				return 3
			}
		}
	}
	if len([]rune(loc)) > 10 {
		return 2
	}
	return 1
}

func buyerProfilePoints(firstTime, hasToSell *bool) int {
	points := 0
	if firstTime != nil && !*firstTime {
		points++
	}
	if hasToSell != nil && !*hasToSell {
		points++
	}
	return points
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
