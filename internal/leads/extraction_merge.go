package leads

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/wolfman30/realestate-lead-ai/internal/validation"
)

// FieldOutcome is what happened to one extracted field during a merge.
type FieldOutcome string

const (
	OutcomeApplied   FieldOutcome = "applied"
	OutcomeUnchanged FieldOutcome = "unchanged"
	OutcomeNull      FieldOutcome = "null"
	OutcomeRejected  FieldOutcome = "rejected"
	OutcomeUnknown   FieldOutcome = "unknown"
)

// MergeReport summarizes ApplyExtraction.
type MergeReport struct {
	Outcomes map[string]FieldOutcome `json:"outcomes"`
	Rejected map[string]string       `json:"rejected,omitempty"`
}

// Changed reports whether any field was written.
func (r MergeReport) Changed() bool {
	for _, o := range r.Outcomes {
		if o == OutcomeApplied {
			return true
		}
	}
	return false
}

// Applied lists the written fields in name order.
func (r MergeReport) Applied() []string {
	var out []string
	for name, o := range r.Outcomes {
		if o == OutcomeApplied {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// MergeOptions tunes value normalization.
type MergeOptions struct {
	PhoneRegion string
	Validator   *validation.Validator
}

var errNull = errors.New("null")

type fieldApplier func(l *Lead, raw json.RawMessage, opts MergeOptions) (bool, error)

// extractionFields is the allow-list of fields the extractor may write.
var extractionFields = map[string]fieldApplier{
	"customer_name":         applyCustomerName,
	"phone_number":          applyPhone,
	"email":                 applyEmail,
	"preferred_location":    applyLocation,
	"budget_min":            applyBudget(func(l *Lead) **float64 { return &l.BudgetMin }),
	"budget_max":            applyBudget(func(l *Lead) **float64 { return &l.BudgetMax }),
	"timeline":              applyTimeline,
	"payment_method":        applyPayment,
	"property_requirements": applyRequirements,
	"intent_level":          applyIntent,
	"qualification_status":  applyQualification,
	"status":                applyStatus,
	"is_first_time_buyer":   applyBool(func(l *Lead) **bool { return &l.IsFirstTimeBuyer }),
	"has_property_to_sell":  applyBool(func(l *Lead) **bool { return &l.HasPropertyToSell }),
	"summary":               applySummary,
}

// ApplyExtraction merges extractor output into l. Only allow-listed fields are
// considered; nulls and absent fields leave l untouched; values that fail type
// or enum checks are reported and skipped.
func ApplyExtraction(l *Lead, fields map[string]json.RawMessage, opts MergeOptions) MergeReport {
	report := MergeReport{Outcomes: make(map[string]FieldOutcome, len(fields))}
	if l == nil {
		return report
	}
	for name, raw := range fields {
		apply, ok := extractionFields[name]
		if !ok {
			report.Outcomes[name] = OutcomeUnknown
			continue
		}
		if isNull(raw) {
			report.Outcomes[name] = OutcomeNull
			continue
		}
		changed, err := apply(l, raw, opts)
		switch {
		case errors.Is(err, errNull):
			report.Outcomes[name] = OutcomeNull
		case err != nil:
			report.Outcomes[name] = OutcomeRejected
			if report.Rejected == nil {
				report.Rejected = make(map[string]string)
			}
			report.Rejected[name] = err.Error()
		case changed:
			report.Outcomes[name] = OutcomeApplied
		default:
			report.Outcomes[name] = OutcomeUnchanged
		}
	}
	return report
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func decodeString(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("expected string")
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", errNull
	}
	return s, nil
}

func setString(dst *string, v string) bool {
	if *dst == v {
		return false
	}
	*dst = v
	return true
}

func applyCustomerName(l *Lead, raw json.RawMessage, _ MergeOptions) (bool, error) {
	s, err := decodeString(raw)
	if err != nil {
		return false, err
	}
	return setString(&l.CustomerName, s), nil
}

func applyLocation(l *Lead, raw json.RawMessage, _ MergeOptions) (bool, error) {
	s, err := decodeString(raw)
	if err != nil {
		return false, err
	}
	return setString(&l.PreferredLocation, s), nil
}

func applySummary(l *Lead, raw json.RawMessage, _ MergeOptions) (bool, error) {
	s, err := decodeString(raw)
	if err != nil {
		return false, err
	}
	return setString(&l.AISummary, s), nil
}

func applyPhone(l *Lead, raw json.RawMessage, opts MergeOptions) (bool, error) {
	s, err := decodeString(raw)
	if err != nil {
		return false, err
	}
	phone, ok := NormalizePhone(s, opts.PhoneRegion)
	if !ok {
		return false, fmt.Errorf("not a phone number")
	}
	return setString(&l.Phone, phone), nil
}

func applyEmail(l *Lead, raw json.RawMessage, opts MergeOptions) (bool, error) {
	s, err := decodeString(raw)
	if err != nil {
		return false, err
	}
	s = strings.ToLower(s)
	v := opts.Validator
	if v == nil {
		v = validation.New()
	}
	if err := v.Var(s, "email"); err != nil {
		return false, fmt.Errorf("not an email address")
	}
	return setString(&l.Email, s), nil
}

func decodeNumber(raw json.RawMessage) (float64, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		return 0, fmt.Errorf("expected number, got string")
	}
	var f float64
	if err := json.Unmarshal(trimmed, &f); err != nil {
		return 0, fmt.Errorf("expected number")
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0, fmt.Errorf("out of range")
	}
	return f, nil
}

func applyBudget(field func(*Lead) **float64) fieldApplier {
	return func(l *Lead, raw json.RawMessage, _ MergeOptions) (bool, error) {
		f, err := decodeNumber(raw)
		if err != nil {
			return false, err
		}
		dst := field(l)
		if *dst != nil && **dst == f {
			return false, nil
		}
		*dst = &f
		return true, nil
	}
}

func applyBool(field func(*Lead) **bool) fieldApplier {
	return func(l *Lead, raw json.RawMessage, _ MergeOptions) (bool, error) {
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return false, fmt.Errorf("expected boolean")
		}
		dst := field(l)
		if *dst != nil && **dst == b {
			return false, nil
		}
		*dst = &b
		return true, nil
	}
}

func decodeEnum(raw json.RawMessage) (string, error) {
	s, err := decodeString(raw)
	if err != nil {
		return "", err
	}
	return strings.ToLower(s), nil
}

func applyTimeline(l *Lead, raw json.RawMessage, _ MergeOptions) (bool, error) {
	s, err := decodeEnum(raw)
	if err != nil {
		return false, err
	}
	v := Timeline(s)
	if !v.Valid() {
		return false, fmt.Errorf("unknown timeline %q", s)
	}
	if l.Timeline == v {
		return false, nil
	}
	l.Timeline = v
	return true, nil
}

func applyPayment(l *Lead, raw json.RawMessage, _ MergeOptions) (bool, error) {
	s, err := decodeEnum(raw)
	if err != nil {
		return false, err
	}
	v := PaymentMethod(s)
	if !v.Valid() {
		return false, fmt.Errorf("unknown payment method %q", s)
	}
	if l.PaymentMethod == v {
		return false, nil
	}
	l.PaymentMethod = v
	return true, nil
}

func applyIntent(l *Lead, raw json.RawMessage, _ MergeOptions) (bool, error) {
	s, err := decodeEnum(raw)
	if err != nil {
		return false, err
	}
	v := IntentLevel(s)
	if !v.Valid() {
		return false, fmt.Errorf("unknown intent level %q", s)
	}
	if l.IntentLevel == v {
		return false, nil
	}
	l.IntentLevel = v
	return true, nil
}

func applyQualification(l *Lead, raw json.RawMessage, _ MergeOptions) (bool, error) {
	s, err := decodeEnum(raw)
	if err != nil {
		return false, err
	}
	v := QualificationStatus(s)
	if !v.Valid() {
		return false, fmt.Errorf("unknown qualification status %q", s)
	}
	if l.QualificationStatus == v {
		return false, nil
	}
	l.QualificationStatus = v
	return true, nil
}

func applyStatus(l *Lead, raw json.RawMessage, _ MergeOptions) (bool, error) {
	s, err := decodeEnum(raw)
	if err != nil {
		return false, err
	}
	v := Status(s)
	if !v.Valid() {
		return false, fmt.Errorf("unknown status %q", s)
	}
	if l.Status == StatusClosedWon || l.Status == StatusClosedLost {
		return false, fmt.Errorf("lead is closed")
	}
	if l.Status == v {
		return false, nil
	}
	l.Status = v
	return true, nil
}

// applyRequirements merges populated sub-fields only, so an empty object
// never wipes what an earlier pass learned.
func applyRequirements(l *Lead, raw json.RawMessage, _ MergeOptions) (bool, error) {
	var in map[string]json.RawMessage
	if err := json.Unmarshal(raw, &in); err != nil {
		return false, fmt.Errorf("expected object")
	}
	req := l.PropertyRequirements
	changed := false

	for _, key := range []string{"bedrooms", "bathrooms"} {
		v, ok := in[key]
		if !ok || isNull(v) {
			continue
		}
		f, err := decodeNumber(v)
		if err != nil || f != math.Trunc(f) {
			continue
		}
		n := int(f)
		dst := &req.Bedrooms
		if key == "bathrooms" {
			dst = &req.Bathrooms
		}
		if *dst == nil || **dst != n {
			*dst = &n
			changed = true
		}
	}
	if v, ok := in["area_sqft"]; ok && !isNull(v) {
		if f, err := decodeNumber(v); err == nil && (req.AreaSqft == nil || *req.AreaSqft != f) {
			req.AreaSqft = &f
			changed = true
		}
	}
	if v, ok := in["property_type"]; ok {
		if s, err := decodeString(v); err == nil && req.PropertyType != s {
			req.PropertyType = s
			changed = true
		}
	}
	if v, ok := in["amenities"]; ok && !isNull(v) {
		var list []string
		if err := json.Unmarshal(v, &list); err == nil && len(list) > 0 {
			cleaned := make([]string, 0, len(list))
			for _, a := range list {
				if a = strings.TrimSpace(a); a != "" {
					cleaned = append(cleaned, a)
				}
			}
			if len(cleaned) > 0 && strings.Join(cleaned, "\x00") != strings.Join(req.Amenities, "\x00") {
				req.Amenities = cleaned
				changed = true
			}
		}
	}
	if v, ok := in["notes"]; ok {
		if s, err := decodeString(v); err == nil && req.Notes != s {
			req.Notes = s
			changed = true
		}
	}
	if changed {
		l.PropertyRequirements = req
	}
	return changed, nil
}
