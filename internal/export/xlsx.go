// Package export writes stored providers to an XLSX workbook with a summary
// sheet used to spot-check a crawl.
package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/provider-directory-crawler/internal/crawler"
)

// Sheet names.
const (
	ProvidersSheet = "Providers"
	SummarySheet   = "Summary"
)

const defaultBatchSize = 1000

// Header is the provider sheet header row.
var Header = []string{
	"External ID",
	"Kind",
	"Name",
	"First Name",
	"Last Name",
	"Organization",
	"Specialty",
	"Regulation Sector",
	"Address",
	"City",
	"Postal Code",
	"Latitude",
	"Longitude",
	"Accepts New Patients",
	"Online Booking",
	"Telehealth",
	"Languages",
	"Payment Methods",
	"Profile URL",
	"Region ID",
	"Last Seen",
}

var columnWidths = []float64{14, 13, 32, 18, 20, 32, 24, 18, 40, 20, 12, 11, 11, 12, 12, 12, 20, 28, 48, 10, 22}

// Stats counts what the summary sheet reports.
type Stats struct {
	Providers     int
	Organizations int
	Accepting     int
	NotAccepting  int
	Sectors       map[string]int
}

// Exporter pages through a provider reader.
type Exporter struct {
	reader    crawler.ProviderReader
	batchSize int
	logger    *zap.Logger
}

// New builds an Exporter.
func New(reader crawler.ProviderReader, logger *zap.Logger) (*Exporter, error) {
	if reader == nil {
		return nil, errors.New("provider reader is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{reader: reader, batchSize: defaultBatchSize, logger: logger}, nil
}

// Write exports every provider of regionID (0 for all) to w.
func (e *Exporter) Write(ctx context.Context, regionID int64, w io.Writer) (Stats, error) {
	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			e.logger.Warn("close workbook failed", zap.Error(err))
		}
	}()

	if err := f.SetSheetName("Sheet1", ProvidersSheet); err != nil {
		return Stats{}, fmt.Errorf("rename sheet: %w", err)
	}
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		return Stats{}, fmt.Errorf("create header style: %w", err)
	}

	stats, err := e.writeProviders(ctx, f, regionID, headerStyle)
	if err != nil {
		return Stats{}, err
	}
	if err := writeSummary(f, stats, headerStyle); err != nil {
		return Stats{}, err
	}
	if err := f.Write(w); err != nil {
		return Stats{}, fmt.Errorf("write workbook: %w", err)
	}
	e.logger.Info("providers exported",
		zap.Int64("region_id", regionID),
		zap.Int("providers", stats.Providers),
		zap.Int("organizations", stats.Organizations),
	)
	return stats, nil
}

func (e *Exporter) writeProviders(ctx context.Context, f *excelize.File, regionID int64, headerStyle int) (Stats, error) {
	stats := Stats{Sectors: map[string]int{}}
	sw, err := f.NewStreamWriter(ProvidersSheet)
	if err != nil {
		return stats, fmt.Errorf("open stream writer: %w", err)
	}
	for i, width := range columnWidths {
		if err := sw.SetColWidth(i+1, i+1, width); err != nil {
			return stats, fmt.Errorf("set column width: %w", err)
		}
	}
	if err := sw.SetPanes(&excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return stats, fmt.Errorf("freeze header: %w", err)
	}

	header := make([]any, len(Header))
	for i, h := range Header {
		header[i] = excelize.Cell{StyleID: headerStyle, Value: h}
	}
	if err := sw.SetRow("A1", header); err != nil {
		return stats, fmt.Errorf("write header: %w", err)
	}

	row := 2
	for offset := 0; ; offset += e.batchSize {
		batch, err := e.reader.ListProviders(ctx, crawler.ProviderFilter{
			RegionID: regionID,
			Limit:    e.batchSize,
			Offset:   offset,
		})
		if err != nil {
			return stats, fmt.Errorf("list providers at offset %d: %w", offset, err)
		}
		for _, rec := range batch {
			cell, err := excelize.CoordinatesToCellName(1, row)
			if err != nil {
				return stats, fmt.Errorf("cell name: %w", err)
			}
			if err := sw.SetRow(cell, providerRow(rec)); err != nil {
				return stats, fmt.Errorf("write row %d: %w", row, err)
			}
			stats.add(rec)
			row++
		}
		if len(batch) < e.batchSize {
			break
		}
	}
	if err := sw.Flush(); err != nil {
		return stats, fmt.Errorf("flush providers sheet: %w", err)
	}
	return stats, nil
}

func (s *Stats) add(rec crawler.ProviderRecord) {
	s.Providers++
	if rec.IsOrganization() {
		s.Organizations++
	}
	if rec.AcceptsNewPatients {
		s.Accepting++
	} else {
		s.NotAccepting++
	}
	sector := rec.RegulationSector
	if sector == "" {
		sector = "unknown"
	}
	s.Sectors[sector]++
}

func providerRow(rec crawler.ProviderRecord) []any {
	kind := "individual"
	if rec.IsOrganization() {
		kind = "organization"
	}
	return []any{
		rec.ExternalID,
		kind,
		rec.DisplayName(),
		deref(rec.FirstName),
		deref(rec.LastName),
		deref(rec.OrganizationName),
		rec.Specialty,
		rec.RegulationSector,
		rec.Address,
		rec.City,
		rec.PostalCode,
		floatCell(rec.Latitude),
		floatCell(rec.Longitude),
		rec.AcceptsNewPatients,
		rec.OffersOnlineBooking,
		rec.OffersTelehealth,
		strings.Join(rec.Languages, ", "),
		strings.Join(rec.PaymentMethods, ", "),
		rec.ProfileURL,
		rec.RegionID,
		rec.LastSeenAt,
	}
}

func writeSummary(f *excelize.File, stats Stats, headerStyle int) error {
	if _, err := f.NewSheet(SummarySheet); err != nil {
		return fmt.Errorf("create summary sheet: %w", err)
	}
	rows := [][]any{
		{"Metric", "Count"},
		{"Providers", stats.Providers},
		{"Organizations", stats.Organizations},
		{"Accepting new patients", stats.Accepting},
		{"Not accepting new patients", stats.NotAccepting},
		{},
		{"Regulation sector", "Providers"},
	}
	sectors := make([]string, 0, len(stats.Sectors))
	for sector := range stats.Sectors {
		sectors = append(sectors, sector)
	}
	sort.Strings(sectors)
	for _, sector := range sectors {
		rows = append(rows, []any{sector, stats.Sectors[sector]})
	}

	for i, values := range rows {
		if len(values) == 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return fmt.Errorf("cell name: %w", err)
		}
		if err := f.SetSheetRow(SummarySheet, cell, &values); err != nil {
			return fmt.Errorf("write summary row %d: %w", i+1, err)
		}
	}
	for _, headerRow := range []int{1, 7} {
		if err := f.SetCellStyle(SummarySheet, fmt.Sprintf("A%d", headerRow), fmt.Sprintf("B%d", headerRow), headerStyle); err != nil {
			return fmt.Errorf("style summary header: %w", err)
		}
	}
	if err := f.SetColWidth(SummarySheet, "A", "A", 30); err != nil {
		return fmt.Errorf("set summary width: %w", err)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func floatCell(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
