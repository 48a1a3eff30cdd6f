// Package listings stores a company's property listings and retrieves the
// ones relevant to a buyer's message.
package listings

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrListingNotFound is returned when no listing matches.
var ErrListingNotFound = errors.New("listings: listing not found")

// DefaultCurrency applies when a listing omits one.
const DefaultCurrency = "INR"

// Listing is one property a company is marketing.
type Listing struct {
	ID              string    `json:"id"`
	CompanyID       string    `json:"company_id"`
	Title           string    `json:"title" validate:"required,max=255"`
	Description     string    `json:"description,omitempty" validate:"max=5000"`
	PropertyType    string    `json:"property_type,omitempty" validate:"max=64"`
	Location        string    `json:"location,omitempty" validate:"max=255"`
	Price           *float64  `json:"price,omitempty" validate:"omitempty,gt=0"`
	Currency        string    `json:"currency,omitempty" validate:"omitempty,len=3"`
	Bedrooms        *int      `json:"bedrooms,omitempty" validate:"omitempty,gte=0"`
	Bathrooms       *int      `json:"bathrooms,omitempty" validate:"omitempty,gte=0"`
	AreaSqft        *float64  `json:"area_sqft,omitempty" validate:"omitempty,gt=0"`
	Amenities       []string  `json:"amenities,omitempty"`
	InstagramPostID string    `json:"instagram_post_id,omitempty" validate:"max=128"`
	Notes           string    `json:"notes,omitempty" validate:"max=2000"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Summary renders the listing as plain text for the agent's context.
func (l *Listing) Summary() string {
	if l == nil {
		return ""
	}
	var b strings.Builder
	line := func(label, value string) {
		if value = strings.TrimSpace(value); value != "" {
			fmt.Fprintf(&b, "%s: %s\n", label, value)
		}
	}
	line("Property", l.Title)
	line("Type", l.PropertyType)
	line("Location", l.Location)
	if l.Price != nil {
		currency := l.Currency
		if currency == "" {
			currency = DefaultCurrency
		}
		line("Price", currency+" "+strconv.FormatFloat(*l.Price, 'f', -1, 64))
	}
	if l.Bedrooms != nil {
		line("Bedrooms", strconv.Itoa(*l.Bedrooms))
	}
	if l.Bathrooms != nil {
		line("Bathrooms", strconv.Itoa(*l.Bathrooms))
	}
	if l.AreaSqft != nil {
		line("Area", strconv.FormatFloat(*l.AreaSqft, 'f', -1, 64)+" sqft")
	}
	if len(l.Amenities) > 0 {
		line("Amenities", strings.Join(l.Amenities, ", "))
	}
	line("Description", l.Description)
	line("Notes", l.Notes)
	return strings.TrimRight(b.String(), "\n")
}
