package leads

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func ptrFloat(v float64) *float64 { return &v }
func ptrInt(v int) *int           { return &v }
func ptrBool(v bool) *bool        { return &v }

func TestScore_MaximalLeadIsCappedAt100(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	recent := now.Add(-30 * time.Minute)
	lead := &Lead{
		Phone:               "+919876543210",
		Email:               "buyer@example.com",
		BudgetMax:           ptrFloat(12_000_000),
		Timeline:            TimelineImmediate,
		TotalMessages:       12,
		LastInteractionAt:   &recent,
		IntentLevel:         IntentHot,
		PaymentMethod:       PaymentCash,
		QualificationStatus: QualificationReadyForAgent,
	}

	b := ExplainScore(lead, nil, now)
	assert.Equal(t, 25, b.Budget)
	assert.Equal(t, 20, b.Timeline)
	assert.Equal(t, 20, b.Contact)
	assert.Equal(t, 20, b.Engagement)
	assert.Equal(t, 10, b.Intent)
	assert.Equal(t, 5, b.Payment)
	assert.Equal(t, 0, b.Qualification)
	assert.Equal(t, 100, b.Total)
	assert.Equal(t, 100, Score(lead, nil, now))
}

func TestScore_EmptyLeadIsZero(t *testing.T) {
	now := time.Now()
	assert.Equal(t, 0, Score(&Lead{}, nil, now))
	assert.Equal(t, 0, Score(nil, nil, now))
}

func TestScore_UnqualifiedFloorsAtZero(t *testing.T) {
	lead := &Lead{Timeline: TimelineLong, QualificationStatus: QualificationUnqualified}
	b := ExplainScore(lead, nil, time.Now())
	assert.Equal(t, 0, b.Total)
	assert.Equal(t, -3, b.Qualification)
}

func TestScore_QualifiedBonus(t *testing.T) {
	lead := &Lead{Timeline: TimelineShort, QualificationStatus: QualificationQualified}
	assert.Equal(t, 20, Score(lead, nil, time.Now()))
}

func TestScore_Deterministic(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	last := now.Add(-2 * time.Hour)
	lead := &Lead{
		Phone:             "+919876543210",
		BudgetMin:         ptrFloat(6_000_000),
		TotalMessages:     4,
		LastInteractionAt: &last,
		PreferredLocation: "Sector 45, Gurgaon",
		IntentLevel:       IntentMedium,
		PaymentMethod:     PaymentLoan,
	}
	first := Score(lead, nil, now)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Score(lead, nil, now))
	}
	// 15 budget + 15 contact + 11 engagement + 4 intent + 3 payment + 3 location
	assert.Equal(t, 51, first)
}

func TestScore_DoesNotMutateLead(t *testing.T) {
	lead := &Lead{BudgetMax: ptrFloat(100), QualificationStatus: QualificationQualified}
	before := lead.Clone()
	Score(lead, ptrFloat(50), time.Now())
	assert.Equal(t, before, lead)
}

func TestBudgetPoints(t *testing.T) {
	tests := []struct {
		name    string
		min     *float64
		max     *float64
		listing *float64
		want    int
	}{
		{"none", nil, nil, nil, 0},
		{"max covers listing", nil, ptrFloat(3_000_000), ptrFloat(2_900_000), 25},
		{"max below listing falls back to tiers", nil, ptrFloat(3_000_000), ptrFloat(8_000_000), 12},
		{"top tier", nil, ptrFloat(10_000_000), nil, 25},
		{"high tier", nil, ptrFloat(5_000_000), nil, 20},
		{"mid tier", nil, ptrFloat(2_500_000), nil, 12},
		{"low tier", nil, ptrFloat(900_000), nil, 5},
		{"min only high", ptrFloat(5_000_000), nil, nil, 15},
		{"min only low", ptrFloat(100_000), nil, nil, 5},
		{"zero max uses min", ptrFloat(100_000), ptrFloat(0), nil, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, budgetPoints(tt.min, tt.max, tt.listing))
		})
	}
}

func TestEngagementPoints(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	at := func(d time.Duration) *time.Time {
		v := now.Add(-d)
		return &v
	}
	assert.Equal(t, 0, engagementPoints(0, nil, now))
	assert.Equal(t, 3, engagementPoints(1, nil, now))
	assert.Equal(t, 8, engagementPoints(3, nil, now))
	assert.Equal(t, 12, engagementPoints(6, nil, now))
	assert.Equal(t, 20, engagementPoints(10, at(time.Minute), now))
	assert.Equal(t, 18, engagementPoints(10, at(3*time.Hour), now))
	assert.Equal(t, 15, engagementPoints(10, at(3*24*time.Hour), now))
	assert.Equal(t, 0, engagementPoints(1, at(10*24*time.Hour), now))
}

func TestLocationPoints(t *testing.T) {
	assert.Equal(t, 0, locationPoints("  "))
	assert.Equal(t, 3, locationPoints("MG Road, Bangalore"))
	assert.Equal(t, 3, locationPoints("Koramangala 5th Block"))
	assert.Equal(t, 2, locationPoints("Whitefield Bangalore"))
	assert.Equal(t, 1, locationPoints("Pune"))
	// keywords match whole words only
	assert.Equal(t, 2, locationPoints("Streetsville Ontario"))
}

func TestRequirementsAndProfilePoints(t *testing.T) {
	assert.Equal(t, 0, requirementsPoints(PropertyRequirements{}))
	assert.Equal(t, 1, requirementsPoints(PropertyRequirements{Bedrooms: ptrInt(3)}))
	assert.Equal(t, 3, requirementsPoints(PropertyRequirements{Bedrooms: ptrInt(3), AreaSqft: ptrFloat(1200)}))
	assert.Equal(t, 5, requirementsPoints(PropertyRequirements{
		Bedrooms: ptrInt(3), Bathrooms: ptrInt(2), AreaSqft: ptrFloat(1200), PropertyType: "apartment",
	}))

	assert.Equal(t, 0, buyerProfilePoints(nil, nil))
	assert.Equal(t, 0, buyerProfilePoints(ptrBool(true), ptrBool(true)))
	assert.Equal(t, 2, buyerProfilePoints(ptrBool(false), ptrBool(false)))
}

func TestScore_AlwaysWithinBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	timelines := []Timeline{"", TimelineImmediate, TimelineShort, TimelineMedium, TimelineLong, TimelineJustBrowsing}
	intents := []IntentLevel{"", IntentLow, IntentMedium, IntentHigh, IntentHot}
	payments := []PaymentMethod{"", PaymentCash, PaymentLoan, PaymentBoth, PaymentUnknown}
	statuses := []QualificationStatus{"", QualificationInitiated, QualificationQualified, QualificationUnqualified, QualificationReadyForAgent}
	optFloat := func(max float64) *float64 {
		if rng.Intn(3) == 0 {
			return nil
		}
		return ptrFloat(rng.Float64()*max - max/10)
	}
	optBool := func() *bool {
		if rng.Intn(3) == 0 {
			return nil
		}
		return ptrBool(rng.Intn(2) == 0)
	}

	for range 2000 {
		last := now.Add(-time.Duration(rng.Intn(30*24)) * time.Hour)
		lead := &Lead{
			BudgetMin:           optFloat(20_000_000),
			BudgetMax:           optFloat(40_000_000),
			Timeline:            timelines[rng.Intn(len(timelines))],
			IntentLevel:         intents[rng.Intn(len(intents))],
			PaymentMethod:       payments[rng.Intn(len(payments))],
			QualificationStatus: statuses[rng.Intn(len(statuses))],
			TotalMessages:       rng.Intn(200) - 5,
			LastInteractionAt:   &last,
			IsFirstTimeBuyer:    optBool(),
			HasPropertyToSell:   optBool(),
			PreferredLocation:   []string{"", "Adyar", "12th Main Road, Indiranagar"}[rng.Intn(3)],
			PropertyRequirements: PropertyRequirements{
				Bedrooms:  ptrInt(rng.Intn(6)),
				Amenities: []string{"gym"},
			},
		}
		if rng.Intn(2) == 0 {
			lead.Phone = "+919876543210"
		}
		if rng.Intn(2) == 0 {
			lead.Email = "buyer@example.com"
		}
		score := Score(lead, optFloat(30_000_000), now)
		if score < 0 || score > 100 {
			t.Fatalf("score %d out of bounds for %+v", score, lead)
		}
	}
}
