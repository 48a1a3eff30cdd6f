package leads

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeFields(t *testing.T, raw string) map[string]json.RawMessage {
	t.Helper()
	var out map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(raw), &out))
	return out
}

func TestApplyExtraction_AppliesAllowListedFields(t *testing.T) {
	lead := &Lead{QualificationStatus: QualificationInitiated, Status: StatusActive, PaymentMethod: PaymentUnknown}
	fields := decodeFields(t, `{
		"customer_name": "Asha Rao",
		"phone_number": "98765 43210",
		"email": "Asha@Example.com",
		"budget_max": 7500000,
		"timeline": "Short",
		"payment_method": "loan",
		"intent_level": "high",
		"qualification_status": "in_progress",
		"preferred_location": "Indiranagar",
		"property_requirements": {"bedrooms": 3, "area_sqft": 1450.5},
		"summary": "Looking for a 3BHK."
	}`)

	report := ApplyExtraction(lead, fields, MergeOptions{})

	assert.True(t, report.Changed())
	assert.Empty(t, report.Rejected)
	assert.Equal(t, "Asha Rao", lead.CustomerName)
	assert.Equal(t, "+919876543210", lead.Phone)
	assert.Equal(t, "asha@example.com", lead.Email)
	require.NotNil(t, lead.BudgetMax)
	assert.Equal(t, 7_500_000.0, *lead.BudgetMax)
	assert.Equal(t, TimelineShort, lead.Timeline)
	assert.Equal(t, PaymentLoan, lead.PaymentMethod)
	assert.Equal(t, IntentHigh, lead.IntentLevel)
	assert.Equal(t, QualificationInProgress, lead.QualificationStatus)
	assert.Equal(t, "Indiranagar", lead.PreferredLocation)
	require.NotNil(t, lead.PropertyRequirements.Bedrooms)
	assert.Equal(t, 3, *lead.PropertyRequirements.Bedrooms)
	require.NotNil(t, lead.PropertyRequirements.AreaSqft)
	assert.Equal(t, 1450.5, *lead.PropertyRequirements.AreaSqft)
	assert.Equal(t, "Looking for a 3BHK.", lead.AISummary)
}

func TestApplyExtraction_NullsAndAbsentFieldsKeepValues(t *testing.T) {
	lead := &Lead{CustomerName: "Ravi", Phone: "+919876543210", Timeline: TimelineMedium}

	report := ApplyExtraction(lead, decodeFields(t, `{"customer_name": null, "phone_number": "", "timeline": null}`), MergeOptions{})

	assert.False(t, report.Changed())
	assert.Equal(t, OutcomeNull, report.Outcomes["customer_name"])
	assert.Equal(t, OutcomeNull, report.Outcomes["phone_number"])
	assert.Equal(t, "Ravi", lead.CustomerName)
	assert.Equal(t, "+919876543210", lead.Phone)
	assert.Equal(t, TimelineMedium, lead.Timeline)
}

func TestApplyExtraction_RejectsBadValues(t *testing.T) {
	lead := &Lead{Timeline: TimelineLong, PaymentMethod: PaymentUnknown}
	fields := decodeFields(t, `{
		"timeline": "tomorrow",
		"payment_method": 5,
		"budget_min": "5000000",
		"budget_max": -10,
		"email": "not-an-email",
		"phone_number": "12"
	}`)

	report := ApplyExtraction(lead, fields, MergeOptions{})

	assert.False(t, report.Changed())
	assert.Len(t, report.Rejected, 6)
	assert.Equal(t, TimelineLong, lead.Timeline)
	assert.Equal(t, PaymentUnknown, lead.PaymentMethod)
	assert.Nil(t, lead.BudgetMin)
	assert.Nil(t, lead.BudgetMax)
	assert.Empty(t, lead.Email)
	assert.Empty(t, lead.Phone)
}

func TestApplyExtraction_IgnoresUnknownFields(t *testing.T) {
	lead := &Lead{CompanyID: "company-1", TotalMessages: 4}
	fields := decodeFields(t, `{"company_id": "other", "total_messages": 0, "requires_human": true, "id": "x"}`)

	report := ApplyExtraction(lead, fields, MergeOptions{})

	assert.False(t, report.Changed())
	for _, name := range []string{"company_id", "total_messages", "requires_human", "id"} {
		assert.Equal(t, OutcomeUnknown, report.Outcomes[name], name)
	}
	assert.Equal(t, "company-1", lead.CompanyID)
	assert.Equal(t, 4, lead.TotalMessages)
	assert.False(t, lead.RequiresHuman)
}

func TestApplyExtraction_UnchangedValuesAreNotReportedAsApplied(t *testing.T) {
	lead := &Lead{IntentLevel: IntentHot, CustomerName: "Asha"}
	report := ApplyExtraction(lead, decodeFields(t, `{"intent_level": "hot", "customer_name": "Asha"}`), MergeOptions{})

	assert.False(t, report.Changed())
	assert.Equal(t, OutcomeUnchanged, report.Outcomes["intent_level"])
	assert.Empty(t, report.Applied())
}

func TestApplyExtraction_RequirementsMergePartially(t *testing.T) {
	lead := &Lead{PropertyRequirements: PropertyRequirements{Bedrooms: ptrInt(2), PropertyType: "villa"}}

	report := ApplyExtraction(lead, decodeFields(t, `{"property_requirements": {"bathrooms": 2, "bedrooms": null}}`), MergeOptions{})
	assert.Equal(t, []string{"property_requirements"}, report.Applied())
	assert.Equal(t, 2, *lead.PropertyRequirements.Bedrooms)
	assert.Equal(t, 2, *lead.PropertyRequirements.Bathrooms)
	assert.Equal(t, "villa", lead.PropertyRequirements.PropertyType)

	report = ApplyExtraction(lead, decodeFields(t, `{"property_requirements": {}}`), MergeOptions{})
	assert.Equal(t, OutcomeUnchanged, report.Outcomes["property_requirements"])
	assert.Equal(t, 2, *lead.PropertyRequirements.Bedrooms)
}

func TestApplyExtraction_ClosedLeadKeepsStatus(t *testing.T) {
	lead := &Lead{Status: StatusClosedWon}
	report := ApplyExtraction(lead, decodeFields(t, `{"status": "qualified_hot"}`), MergeOptions{})

	assert.Equal(t, OutcomeRejected, report.Outcomes["status"])
	assert.Equal(t, StatusClosedWon, lead.Status)
}

func TestApplyExtraction_NilLead(t *testing.T) {
	report := ApplyExtraction(nil, decodeFields(t, `{"email": "a@b.co"}`), MergeOptions{})
	assert.False(t, report.Changed())
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in     string
		region string
		want   string
		ok     bool
	}{
		{"9876543210", "", "+919876543210", true},
		{"+91-98765-43210", "US", "+919876543210", true},
		{"  ", "", "", false},
		{"12-34", "", "", false},
		{"ext 0000000", "", "ext 0000000", true},
	}
	for _, tt := range tests {
		got, ok := NormalizePhone(tt.in, tt.region)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
