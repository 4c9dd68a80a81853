package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/provider-directory-crawler/internal/crawler"
)

// providerColumns lists the record-owned columns in argument order. The
// surrogate key and bookkeeping timestamps are handled separately.
var providerColumns = []string{
	"external_id",
	"profile_url",
	"first_name",
	"last_name",
	"organization_name",
	"title",
	"gender",
	"specialty",
	"specialty_slug",
	"regulation_sector",
	"practitioner_type",
	"address",
	"city",
	"postal_code",
	"latitude",
	"longitude",
	"reference_id",
	"practice_id",
	"legacy_id",
	"offers_online_booking",
	"offers_telehealth",
	"accepts_new_patients",
	"online_booking_details",
	"payment_methods",
	"languages",
	"services",
	"administrative_areas",
	"visit_motive_id",
	"visit_motive_name",
	"visit_motive_agenda_ids",
	"visit_motive_insurance_sector",
	"organization_status",
	"image_reference_id",
	"exact_match",
	"minimum_fee",
	"region_id",
}

var (
	lockProviderSQL   = `SELECT id FROM providers WHERE external_id = $1 FOR UPDATE`
	insertProviderSQL = buildInsertProviderSQL()
	updateProviderSQL = buildUpdateProviderSQL()
	selectProviderSQL = "SELECT id, " + strings.Join(providerColumns, ", ") +
		", created_at, updated_at, last_seen_at FROM providers"
)

func buildInsertProviderSQL() string {
	cols := append(append([]string{}, providerColumns...), "created_at", "updated_at", "last_seen_at")
	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = "$" + strconv.Itoa(i+1)
	}
	sets := make([]string, 0, len(providerColumns)+1)
	for _, col := range providerColumns[1:] {
		sets = append(sets, col+" = EXCLUDED."+col)
	}
	sets = append(sets, "updated_at = EXCLUDED.updated_at", "last_seen_at = EXCLUDED.last_seen_at")
	return fmt.Sprintf(`INSERT INTO providers (%s) VALUES (%s)
ON CONFLICT (external_id) DO UPDATE SET %s
RETURNING (xmax = 0) AS inserted`,
		strings.Join(cols, ", "), strings.Join(placeholders, ", "), strings.Join(sets, ", "))
}

func buildUpdateProviderSQL() string {
	sets := make([]string, 0, len(providerColumns)+1)
	n := 1
	for _, col := range providerColumns {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, n))
		n++
	}
	sets = append(sets, fmt.Sprintf("updated_at = $%d", n), fmt.Sprintf("last_seen_at = $%d", n))
	return fmt.Sprintf("UPDATE providers SET %s WHERE id = $%d", strings.Join(sets, ", "), n+1)
}

func providerArgs(rec crawler.ProviderRecord) []any {
	return []any{
		rec.ExternalID,
		rec.ProfileURL,
		rec.FirstName,
		rec.LastName,
		rec.OrganizationName,
		rec.Title,
		rec.Gender,
		rec.Specialty,
		rec.SpecialtySlug,
		rec.RegulationSector,
		rec.PractitionerType,
		rec.Address,
		rec.City,
		rec.PostalCode,
		rec.Latitude,
		rec.Longitude,
		rec.ReferenceID,
		rec.PracticeID,
		rec.LegacyID,
		rec.OffersOnlineBooking,
		rec.OffersTelehealth,
		rec.AcceptsNewPatients,
		jsonArg(rec.OnlineBookingDetails),
		nonNilStrings(rec.PaymentMethods),
		nonNilStrings(rec.Languages),
		nonNilStrings(rec.Services),
		nonNilStrings(rec.AdministrativeAreas),
		rec.VisitMotiveID,
		rec.VisitMotiveName,
		nonNilInts(rec.VisitMotiveAgendaIDs),
		jsonArg(rec.VisitMotiveInsuranceSector),
		rec.OrganizationStatus,
		rec.ImageReferenceID,
		rec.ExactMatch,
		rec.MinimumFee,
		rec.RegionID,
	}
}

// ProviderStore upserts provider records, one transaction per record.
type ProviderStore struct {
	db     DB
	clock  crawler.Clock
	logger *zap.Logger
}

// NewProviderStore wraps db. A nil clock uses the system clock.
func NewProviderStore(db DB, clk crawler.Clock, logger *zap.Logger) (*ProviderStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProviderStore{db: db, clock: clockOrSystem(clk), logger: logger}, nil
}

// Upsert inserts rec or replaces every field of the existing row with the same
// external id. The surrogate key and created_at are never modified. Failures
// roll back and are returned as *crawler.PersistError.
func (s *ProviderStore) Upsert(ctx context.Context, rec crawler.ProviderRecord) (crawler.UpsertOutcome, error) {
	fail := func(op string, err error) error {
		return &crawler.PersistError{ExternalID: rec.ExternalID, Op: op, Err: err}
	}
	if strings.TrimSpace(rec.ExternalID) == "" {
		return 0, fail("validate", errors.New("external id is required"))
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, fail("begin", err)
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Warn("rollback failed", zap.String("external_id", rec.ExternalID), zap.Error(rbErr))
		}
	}()

	now := s.clock.Now()
	var (
		id      int64
		outcome crawler.UpsertOutcome
	)
	err = tx.QueryRow(ctx, lockProviderSQL, rec.ExternalID).Scan(&id)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		args := append(providerArgs(rec), now, now, now)
		var inserted bool
		if err := tx.QueryRow(ctx, insertProviderSQL, args...).Scan(&inserted); err != nil {
			return 0, fail("insert", err)
		}
		outcome = crawler.UpsertUpdated
		if inserted {
			outcome = crawler.UpsertInserted
		}
	case err != nil:
		return 0, fail("lookup", err)
	default:
		args := append(providerArgs(rec), now, id)
		tag, err := tx.Exec(ctx, updateProviderSQL, args...)
		if err != nil {
			return 0, fail("update", err)
		}
		if tag.RowsAffected() != 1 {
			return 0, fail("update", fmt.Errorf("expected 1 row, updated %d", tag.RowsAffected()))
		}
		outcome = crawler.UpsertUpdated
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fail("commit", err)
	}
	committed = true
	return outcome, nil
}

// GetProvider loads one provider by external id.
func (s *ProviderStore) GetProvider(ctx context.Context, externalID string) (crawler.ProviderRecord, error) {
	row := s.db.QueryRow(ctx, selectProviderSQL+" WHERE external_id = $1", externalID)
	rec, err := scanProvider(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.ProviderRecord{}, crawler.ErrNotFound
		}
		return crawler.ProviderRecord{}, fmt.Errorf("get provider: %w", err)
	}
	return rec, nil
}

// ListProviders pages through providers ordered by external id.
func (s *ProviderStore) ListProviders(ctx context.Context, filter crawler.ProviderFilter) ([]crawler.ProviderRecord, error) {
	query := selectProviderSQL + `
WHERE ($1::bigint = 0 OR region_id = $1)
ORDER BY external_id
LIMIT $2 OFFSET $3`
	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.Query(ctx, query, filter.RegionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	defer rows.Close()

	out := []crawler.ProviderRecord{}
	for rows.Next() {
		rec, err := scanProvider(rows)
		if err != nil {
			return nil, fmt.Errorf("scan provider row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate providers: %w", err)
	}
	return out, nil
}

func scanProvider(row scanner) (crawler.ProviderRecord, error) {
	var (
		rec             crawler.ProviderRecord
		id              int64
		bookingDetails  []byte
		insuranceSector []byte
	)
	err := row.Scan(
		&id,
		&rec.ExternalID,
		&rec.ProfileURL,
		&rec.FirstName,
		&rec.LastName,
		&rec.OrganizationName,
		&rec.Title,
		&rec.Gender,
		&rec.Specialty,
		&rec.SpecialtySlug,
		&rec.RegulationSector,
		&rec.PractitionerType,
		&rec.Address,
		&rec.City,
		&rec.PostalCode,
		&rec.Latitude,
		&rec.Longitude,
		&rec.ReferenceID,
		&rec.PracticeID,
		&rec.LegacyID,
		&rec.OffersOnlineBooking,
		&rec.OffersTelehealth,
		&rec.AcceptsNewPatients,
		&bookingDetails,
		&rec.PaymentMethods,
		&rec.Languages,
		&rec.Services,
		&rec.AdministrativeAreas,
		&rec.VisitMotiveID,
		&rec.VisitMotiveName,
		&rec.VisitMotiveAgendaIDs,
		&insuranceSector,
		&rec.OrganizationStatus,
		&rec.ImageReferenceID,
		&rec.ExactMatch,
		&rec.MinimumFee,
		&rec.RegionID,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&rec.LastSeenAt,
	)
	if err != nil {
		return crawler.ProviderRecord{}, err
	}
	if len(bookingDetails) > 0 {
		rec.OnlineBookingDetails = bookingDetails
	}
	if len(insuranceSector) > 0 {
		rec.VisitMotiveInsuranceSector = insuranceSector
	}
	rec.PaymentMethods = nonNilStrings(rec.PaymentMethods)
	rec.Languages = nonNilStrings(rec.Languages)
	rec.Services = nonNilStrings(rec.Services)
	rec.AdministrativeAreas = nonNilStrings(rec.AdministrativeAreas)
	rec.VisitMotiveAgendaIDs = nonNilInts(rec.VisitMotiveAgendaIDs)
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	rec.LastSeenAt = rec.LastSeenAt.UTC()
	return rec, nil
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func nonNilInts(v []int64) []int64 {
	if v == nil {
		return []int64{}
	}
	return v
}

var (
	_ crawler.ProviderStore  = (*ProviderStore)(nil)
	_ crawler.ProviderReader = (*ProviderStore)(nil)
)
