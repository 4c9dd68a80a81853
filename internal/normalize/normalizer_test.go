package normalize

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, raw string) map[string]any {
	t.Helper()
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var obj map[string]any
	require.NoError(t, dec.Decode(&obj))
	return obj
}

func TestNormalizeIndividual(t *testing.T) {
	t.Parallel()

	raw := decode(t, `{
		"id": "ext-1",
		"firstName": "Jane",
		"name": "Doe",
		"speciality": {"name": "Cardiology", "slug": "cardio"},
		"location": {"address": "1 Rue X", "city": "Paris", "zipcode": "75001", "lat": 48.85, "lng": 2.35}
	}`)

	rec := New(Options{}).Normalize(raw, 7)

	assert.Equal(t, "ext-1", rec.ExternalID)
	assert.False(t, rec.IsOrganization())
	require.NotNil(t, rec.FirstName)
	assert.Equal(t, "Jane", *rec.FirstName)
	require.NotNil(t, rec.LastName)
	assert.Equal(t, "Doe", *rec.LastName)
	assert.Nil(t, rec.OrganizationName)
	assert.Equal(t, "Cardiology", rec.Specialty)
	assert.Equal(t, "cardio", rec.SpecialtySlug)
	assert.Equal(t, "1 Rue X", rec.Address)
	assert.Equal(t, "Paris", rec.City)
	assert.Equal(t, "75001", rec.PostalCode)
	require.NotNil(t, rec.Latitude)
	assert.InDelta(t, 48.85, *rec.Latitude, 1e-9)
	require.NotNil(t, rec.Longitude)
	assert.InDelta(t, 2.35, *rec.Longitude, 1e-9)
	assert.Equal(t, []string{}, rec.PaymentMethods)
	assert.Equal(t, int64(7), rec.RegionID)
}

func TestNormalizeOrganization(t *testing.T) {
	t.Parallel()

	raw := decode(t, `{"id": "org-1", "firstName": null, "name": "Centre de Santé X", "organizationStatus": "active", "cloudinaryPublicId": "img/1", "exactMatch": true, "minimumFee": "25.5"}`)
	rec := New(Options{}).Normalize(raw, 1)

	assert.True(t, rec.IsOrganization())
	require.NotNil(t, rec.OrganizationName)
	assert.Equal(t, "Centre de Santé X", *rec.OrganizationName)
	assert.Nil(t, rec.LastName)
	assert.Nil(t, rec.FirstName)
	assert.Equal(t, "active", rec.OrganizationStatus)
	assert.Equal(t, "img/1", rec.ImageReferenceID)
	assert.True(t, rec.ExactMatch)
	require.NotNil(t, rec.MinimumFee)
	assert.InDelta(t, 25.5, *rec.MinimumFee, 1e-9)
}

func TestNormalizeMissingSubObjects(t *testing.T) {
	t.Parallel()

	raw := decode(t, `{"id": "ext-2", "name": "Solo", "firstName": "A", "location": null, "matchedVisitMotive": "oops"}`)
	rec := New(Options{}).Normalize(raw, 3)

	assert.Equal(t, "", rec.Address)
	assert.Equal(t, "", rec.City)
	assert.Equal(t, "", rec.PostalCode)
	assert.Nil(t, rec.Latitude)
	assert.Nil(t, rec.Longitude)
	assert.Nil(t, rec.ReferenceID)
	assert.Nil(t, rec.PracticeID)
	assert.Equal(t, "", rec.LegacyID)
	assert.False(t, rec.OffersOnlineBooking)
	assert.False(t, rec.OffersTelehealth)
	assert.True(t, rec.AcceptsNewPatients)
	assert.Nil(t, rec.OnlineBookingDetails)
	assert.Nil(t, rec.VisitMotiveID)
	assert.Nil(t, rec.VisitMotiveName)
	assert.Equal(t, []int64{}, rec.VisitMotiveAgendaIDs)
	assert.Nil(t, rec.VisitMotiveInsuranceSector)
	assert.Equal(t, DefaultSpecialty, rec.Specialty)
	assert.Equal(t, DefaultSpecialtySlug, rec.SpecialtySlug)
	for _, set := range [][]string{rec.PaymentMethods, rec.Languages, rec.Services, rec.AdministrativeAreas} {
		assert.NotNil(t, set)
		assert.Empty(t, set)
	}
}

func TestNormalizeToleratesGarbage(t *testing.T) {
	t.Parallel()

	n := New(Options{DefaultSpecialty: "Pediatrics", DefaultSpecialtySlug: "pediatre"})
	inputs := []map[string]any{
		nil,
		{},
		{"id": 42},
		{"speciality": "cardio", "location": []any{1, 2}, "references": 3},
		{"onlineBooking": map[string]any{}, "paymentMeans": map[string]any{"x": 1}},
	}
	for _, raw := range inputs {
		rec := n.Normalize(raw, 9)
		assert.Equal(t, "", rec.ExternalID)
		assert.Equal(t, "Pediatrics", rec.Specialty)
		assert.Equal(t, "pediatre", rec.SpecialtySlug)
		assert.NotNil(t, rec.PaymentMethods)
		assert.False(t, rec.OffersOnlineBooking)
	}
}

func TestNormalizeServicesAndVisitMotive(t *testing.T) {
	t.Parallel()

	raw := decode(t, `{
		"id": "ext-3",
		"link": "/medecin/paris/jane-doe",
		"references": {"id": 1001, "practiceId": "2002", "legacyId": 3003},
		"onlineBooking": {"telehealth": true, "agenda": 1},
		"acceptsNewPatients": false,
		"paymentMeans": ["cash", "card", "cash", 7, {"x": 1}, null],
		"languages": "fr",
		"matchedVisitMotive": {"visitMotiveId": 55, "name": "Consultation", "agendaIds": [3, 1, 3, "x"], "insuranceSector": {"sector": 1}}
	}`)
	rec := New(Options{ProfileBaseURL: "https://directory.example/"}).Normalize(raw, 1)

	assert.Equal(t, "https://directory.example/medecin/paris/jane-doe", rec.ProfileURL)
	require.NotNil(t, rec.ReferenceID)
	assert.Equal(t, int64(1001), *rec.ReferenceID)
	require.NotNil(t, rec.PracticeID)
	assert.Equal(t, int64(2002), *rec.PracticeID)
	assert.Equal(t, "3003", rec.LegacyID)
	assert.True(t, rec.OffersOnlineBooking)
	assert.True(t, rec.OffersTelehealth)
	assert.False(t, rec.AcceptsNewPatients)
	assert.JSONEq(t, `{"telehealth": true, "agenda": 1}`, string(rec.OnlineBookingDetails))
	assert.Equal(t, []string{"7", "card", "cash"}, rec.PaymentMethods)
	assert.Equal(t, []string{"fr"}, rec.Languages)
	require.NotNil(t, rec.VisitMotiveID)
	assert.Equal(t, int64(55), *rec.VisitMotiveID)
	require.NotNil(t, rec.VisitMotiveName)
	assert.Equal(t, "Consultation", *rec.VisitMotiveName)
	assert.Equal(t, []int64{3, 1}, rec.VisitMotiveAgendaIDs)
	assert.JSONEq(t, `{"sector": 1}`, string(rec.VisitMotiveInsuranceSector))
}

func TestOnlineBookingTruthiness(t *testing.T) {
	t.Parallel()

	n := New(Options{})
	assert.False(t, n.Normalize(map[string]any{"onlineBooking": nil}, 1).OffersOnlineBooking)
	assert.False(t, n.Normalize(map[string]any{"onlineBooking": map[string]any{}}, 1).OffersOnlineBooking)
	assert.True(t, n.Normalize(map[string]any{"onlineBooking": map[string]any{"telehealth": false}}, 1).OffersOnlineBooking)
	assert.True(t, n.Normalize(map[string]any{"onlineBooking": true}, 1).OffersOnlineBooking)
}

func TestSafeGet(t *testing.T) {
	t.Parallel()

	obj := map[string]any{
		"a": map[string]any{"b": map[string]any{"c": "deep"}, "n": nil},
		"s": "flat",
	}
	assert.Equal(t, "deep", SafeGet(obj, "a.b.c", "def"))
	assert.Equal(t, "def", SafeGet(obj, "a.b.missing", "def"))
	assert.Equal(t, "def", SafeGet(obj, "a.n", "def"))
	assert.Equal(t, "def", SafeGet(obj, "a.n.x", "def"))
	assert.Equal(t, "def", SafeGet(obj, "s.x", "def"))
	assert.Equal(t, "def", SafeGet(nil, "a", "def"))
	assert.Equal(t, "flat", SafeGet(obj, "s", nil))
}
