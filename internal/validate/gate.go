// Package validate rejects structurally invalid provider records before they
// reach storage.
package validate

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/provider-directory-crawler/internal/crawler"
)

// Error names the first rule a record violated.
type Error struct {
	ExternalID string
	Field      string
	Reason     string
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid provider %q: %s %s", e.ExternalID, e.Field, e.Reason)
}

// Gate applies the required-field rules.
type Gate struct{}

// New returns a Gate.
func New() *Gate {
	return &Gate{}
}

// Validate reports whether rec may be persisted.
func (g *Gate) Validate(rec crawler.ProviderRecord) bool {
	return g.Check(rec) == nil
}

// Check returns the first violation, or nil.
func (g *Gate) Check(rec crawler.ProviderRecord) error {
	reject := func(field, reason string) error {
		return &Error{ExternalID: rec.ExternalID, Field: field, Reason: reason}
	}
	if strings.TrimSpace(rec.ExternalID) == "" {
		return reject("externalId", "is required")
	}
	if strings.TrimSpace(rec.Specialty) == "" {
		return reject("specialty", "is required")
	}
	sets := []struct {
		field  string
		values []string
	}{
		{"paymentMethods", rec.PaymentMethods},
		{"languages", rec.Languages},
		{"services", rec.Services},
		{"administrativeAreas", rec.AdministrativeAreas},
	}
	for _, s := range sets {
		if s.values == nil {
			return reject(s.field, "must be a materialized set")
		}
	}
	if rec.VisitMotiveAgendaIDs == nil {
		return reject("visitMotiveAgendaIds", "must be a materialized list")
	}
	if rec.RegionID <= 0 {
		return reject("regionId", "must reference a stored region")
	}
	if rec.LastName != nil && rec.OrganizationName != nil {
		return reject("organizationName", "is exclusive with lastName")
	}
	return nil
}
