// Package normalize maps raw search results onto crawler.ProviderRecord.
//
// Normalization never fails. Missing or malformed fields degrade to the
// defaults below; only the validate package may reject a record.
//
//	specialty, specialtySlug   configured default (Generalist / generalist)
//	other strings              ""
//	names, title, gender       nil
//	numbers                    nil
//	acceptsNewPatients         true
//	offersTelehealth           false
//	exactMatch                 false
//	sets                       empty, deduplicated, sorted
package normalize

import (
	"strings"

	"github.com/JakeFAU/provider-directory-crawler/internal/crawler"
)

// Default specialty used when the raw record carries none. Searches are
// specialty-scoped, so a missing specialty means the searched one.
const (
	DefaultSpecialty     = "Generalist"
	DefaultSpecialtySlug = "generalist"
)

// Options tune the normalizer.
type Options struct {
	DefaultSpecialty     string
	DefaultSpecialtySlug string
	// ProfileBaseURL is prefixed to relative profile links when set.
	ProfileBaseURL string
}

// Normalizer turns raw provider objects into records.
type Normalizer struct {
	opts Options
}

// New builds a Normalizer, filling unset defaults.
func New(opts Options) *Normalizer {
	if opts.DefaultSpecialty == "" {
		opts.DefaultSpecialty = DefaultSpecialty
	}
	if opts.DefaultSpecialtySlug == "" {
		opts.DefaultSpecialtySlug = DefaultSpecialtySlug
	}
	opts.ProfileBaseURL = strings.TrimRight(opts.ProfileBaseURL, "/")
	return &Normalizer{opts: opts}
}

// Normalize maps raw onto a fully populated record owned by regionID.
func (n *Normalizer) Normalize(raw map[string]any, regionID int64) crawler.ProviderRecord {
	if raw == nil {
		raw = map[string]any{}
	}

	firstName := stringPtr(raw, "firstName")
	name := stringPtr(raw, "name")
	isOrganization := firstName == nil && name != nil

	location := object(raw, "location")
	references := object(raw, "references")
	onlineBooking := SafeGet(raw, "onlineBooking", nil)
	booking := object(raw, "onlineBooking")
	motive := object(raw, "matchedVisitMotive")

	rec := crawler.ProviderRecord{
		ExternalID: externalID(raw),
		ProfileURL: n.profileURL(text(raw, "link")),

		FirstName: firstName,
		Title:     stringPtr(raw, "title"),
		Gender:    stringPtr(raw, "gender"),

		Specialty:        text(raw, "speciality.name"),
		SpecialtySlug:    text(raw, "speciality.slug"),
		RegulationSector: text(raw, "regulationSector"),
		PractitionerType: text(raw, "type"),

		Address:    text(location, "address"),
		City:       text(location, "city"),
		PostalCode: text(location, "zipcode"),
		Latitude:   floatPtr(location, "lat"),
		Longitude:  floatPtr(location, "lng"),

		ReferenceID: intPtr(references, "id"),
		PracticeID:  intPtr(references, "practiceId"),
		LegacyID:    text(references, "legacyId"),

		OffersOnlineBooking:  truthy(onlineBooking),
		OffersTelehealth:     boolValue(booking, "telehealth", false),
		AcceptsNewPatients:   boolValue(raw, "acceptsNewPatients", true),
		OnlineBookingDetails: rawJSON(onlineBooking),

		PaymentMethods:      stringSet(SafeGet(raw, "paymentMeans", nil)),
		Languages:           stringSet(SafeGet(raw, "languages", nil)),
		Services:            stringSet(SafeGet(raw, "services", nil)),
		AdministrativeAreas: stringSet(SafeGet(raw, "administrativeArea", nil)),

		VisitMotiveID:              intPtr(motive, "visitMotiveId"),
		VisitMotiveName:            stringPtr(motive, "name"),
		VisitMotiveAgendaIDs:       intList(SafeGet(motive, "agendaIds", nil)),
		VisitMotiveInsuranceSector: rawJSON(SafeGet(motive, "insuranceSector", nil)),

		OrganizationStatus: text(raw, "organizationStatus"),
		ImageReferenceID:   text(raw, "cloudinaryPublicId"),
		ExactMatch:         boolValue(raw, "exactMatch", false),
		MinimumFee:         floatPtr(raw, "minimumFee"),

		RegionID: regionID,
	}
	if isOrganization {
		rec.OrganizationName = name
	} else {
		rec.LastName = name
	}
	if strings.TrimSpace(rec.Specialty) == "" {
		rec.Specialty = n.opts.DefaultSpecialty
	}
	if strings.TrimSpace(rec.SpecialtySlug) == "" {
		rec.SpecialtySlug = n.opts.DefaultSpecialtySlug
	}
	return rec
}

// externalID only accepts string ids; anything else is left empty for the
// validator to reject.
func externalID(raw map[string]any) string {
	if s, ok := SafeGet(raw, "id", nil).(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

func (n *Normalizer) profileURL(link string) string {
	if link == "" || n.opts.ProfileBaseURL == "" || !strings.HasPrefix(link, "/") {
		return link
	}
	return n.opts.ProfileBaseURL + link
}
