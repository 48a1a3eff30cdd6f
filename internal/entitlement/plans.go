package entitlement

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

//go:embed plans.yaml
var defaultCatalogYAML []byte

// Plan is a purchasable bundle of lead quota and features.
type Plan struct {
	ID             string    `yaml:"id" json:"id"`
	Name           string    `yaml:"name" json:"name"`
	LeadsCount     int       `yaml:"leads_count" json:"leads_count"`
	DurationMonths int       `yaml:"duration_months" json:"duration_months"`
	Features       []Feature `yaml:"features" json:"features"`
}

// Catalog indexes plans by id.
type Catalog struct {
	plans map[string]Plan
	order []string
}

// DefaultCatalog returns the built-in plan catalog.
func DefaultCatalog() *Catalog {
	cat, err := ParseCatalog(defaultCatalogYAML)
	if err != nil {
		panic(fmt.Sprintf("entitlement: embedded plan catalog invalid: %v", err))
	}
	return cat
}

// LoadCatalog reads a catalog file, falling back to the built-in one when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("entitlement: read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes a YAML plan catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var doc struct {
		Plans []Plan `yaml:"plans"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("entitlement: decode catalog: %w", err)
	}
	cat := &Catalog{plans: make(map[string]Plan, len(doc.Plans))}
	for _, p := range doc.Plans {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			return nil, fmt.Errorf("entitlement: plan without id")
		}
		if _, dup := cat.plans[id]; dup {
			return nil, fmt.Errorf("entitlement: duplicate plan %q", id)
		}
		if p.LeadsCount < 0 {
			return nil, fmt.Errorf("entitlement: plan %q has negative leads_count", id)
		}
		if p.DurationMonths <= 0 {
			p.DurationMonths = 1
		}
		p.ID = id
		cat.plans[id] = p
		cat.order = append(cat.order, id)
	}
	return cat, nil
}

// Get returns a plan by id.
func (c *Catalog) Get(id string) (Plan, error) {
	p, ok := c.plans[strings.TrimSpace(id)]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %s", ErrUnknownPlan, id)
	}
	return p, nil
}

// Plans lists plans in catalog order.
func (c *Catalog) Plans() []Plan {
	out := make([]Plan, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.plans[id])
	}
	return out
}

// ApplyPlan returns the subscription that results from buying or renewing plan
// at now. Renewal adds the plan's leads to the existing quota and resets usage.
func ApplyPlan(existing *Subscription, companyID string, plan Plan, paymentRef string, now time.Time) *Subscription {
	end := now.AddDate(0, plan.DurationMonths, 0)
	next := now.AddDate(0, 1, 0)
	reset := now

	var sub *Subscription
	if existing != nil {
		sub = existing.Clone()
		sub.LeadQuota += plan.LeadsCount
	} else {
		sub = &Subscription{
			ID:        uuid.New().String(),
			CompanyID: companyID,
			LeadQuota: plan.LeadsCount,
			CreatedAt: now,
		}
	}
	sub.PlanID = plan.ID
	sub.Status = StatusActive
	sub.StartDate = now
	sub.EndDate = end
	sub.LeadsUsed = 0
	sub.MessagesUsed = 0
	sub.LastResetAt = &reset
	sub.NextResetAt = &next
	sub.Features = append([]Feature(nil), plan.Features...)
	sub.PaymentReference = paymentRef
	sub.UpdatedAt = now
	return sub
}
