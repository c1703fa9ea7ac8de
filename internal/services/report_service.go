package services

import (
	"bytes"
	"context"
	"fmt"

	"count-backend/internal/models"
	"count-backend/internal/timeutil"

	"github.com/google/uuid"
	"github.com/jung-kurt/gofpdf/v2"
	"go.uber.org/zap"
)

// ReportArchive stores generated report files
type ReportArchive interface {
	Put(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

type ArchivedReport struct {
	SectorCountID int    `json:"sector_count_id"`
	Location      string `json:"location"`
}

// ReportService renders the variance report of a sector
type ReportService struct {
	counts  *SectorCountService
	cycles  *InventoryCycleService
	archive ReportArchive // nil when archiving is disabled
	clock   timeutil.Clock
	logger  *zap.Logger
}

func NewReportService(counts *SectorCountService, cycles *InventoryCycleService, archive ReportArchive, clock timeutil.Clock, logger *zap.Logger) *ReportService {
	return &ReportService{counts: counts, cycles: cycles, archive: archive, clock: clock, logger: logger}
}

// SectorVariancePDF renders the comparison view the caller is allowed to see
func (s *ReportService) SectorVariancePDF(ctx context.Context, sectorCountID, userID int) ([]byte, error) {
	view, err := s.counts.ComparisonView(ctx, sectorCountID, userID)
	if err != nil {
		return nil, err
	}
	sc, err := s.counts.Get(ctx, sectorCountID)
	if err != nil {
		return nil, err
	}
	return s.RenderVariancePDF(sc, view)
}

// ArchiveCycle uploads the variance report of every completed sector of the cycle
func (s *ReportService) ArchiveCycle(ctx context.Context, cycleID int) ([]ArchivedReport, error) {
	if s.archive == nil {
		return nil, fmt.Errorf("report archive is not configured")
	}
	sectors, err := s.cycles.ListSectorCounts(ctx, cycleID)
	if err != nil {
		return nil, err
	}

	var out []ArchivedReport
	for _, sc := range sectors {
		if sc.Status != models.SectorCompleted {
			continue
		}
		s.counts.resolveMarker(sc)
		view, err := s.counts.comparison(ctx, sc)
		if err != nil {
			return out, err
		}
		pdf, err := s.RenderVariancePDF(sc, view)
		if err != nil {
			return out, err
		}

		key := fmt.Sprintf("reports/cycle-%d/sector-%d-%s.pdf", cycleID, sc.SectorID, uuid.NewString())
		loc, err := s.archive.Put(ctx, key, pdf, "application/pdf")
		if err != nil {
			return out, err
		}
		s.logger.Info("variance report archived",
			zap.Int("cycle_id", cycleID),
			zap.Int("sector_count_id", sc.ID),
			zap.String("location", loc))
		out = append(out, ArchivedReport{SectorCountID: sc.ID, Location: loc})
	}
	return out, nil
}

func (s *ReportService) RenderVariancePDF(sc *models.SectorCount, view *ComparisonView) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "") // Landscape for the formula columns
	pdf.SetMargins(10, 10, 10)
	pdf.AddPage()

	title := fmt.Sprintf("Sector %d", sc.SectorID)
	if sc.SectorName != "" {
		title = sc.SectorName
	}

	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(277, 10, "Inventory Count - Variance Report", "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "", 10)
	pdf.CellFormat(277, 6, fmt.Sprintf("%s | Cycle %d | Status %s | Round %d", title, sc.CycleID, sc.Status, view.Round), "", 1, "C", false, 0, "")
	pdf.CellFormat(277, 6, fmt.Sprintf("Generated: %s", timeutil.FormatLocal(s.clock.Now(), timeutil.DisplayLayout)), "", 1, "C", false, 0, "")
	if sc.ForcedByUserID != nil {
		reason := ""
		if sc.ForceReason != nil {
			reason = *sc.ForceReason
		}
		pdf.SetTextColor(180, 0, 0)
		pdf.CellFormat(277, 6, fmt.Sprintf("Force-completed by user %d: %s", *sc.ForcedByUserID, reason), "", 1, "C", false, 0, "")
		pdf.SetTextColor(0, 0, 0)
	}
	pdf.Ln(4)

	pdf.SetFont("Arial", "B", 9)
	pdf.SetFillColor(200, 200, 200)
	headers := []struct {
		label string
		width float64
	}{
		{"SKU", 25}, {"Product", 55}, {"Counter A", 22}, {"Formulas A", 45},
		{"Counter B", 22}, {"Formulas B", 45}, {"A - B", 18}, {"System", 20}, {"Variance", 25},
	}
	for i, h := range headers {
		ln := 0
		if i == len(headers)-1 {
			ln = 1
		}
		pdf.CellFormat(h.width, 7, h.label, "1", ln, "C", true, 0, "")
	}

	pdf.SetFont("Arial", "", 8)
	for _, r := range view.Rows {
		fill := r.Classification.Differs()
		if fill {
			pdf.SetFillColor(255, 220, 220) // Light red for unresolved rows
		}
		pdf.CellFormat(25, 6, r.SKU, "1", 0, "L", fill, 0, "")
		pdf.CellFormat(55, 6, truncate(r.Name, 38), "1", 0, "L", fill, 0, "")
		pdf.CellFormat(22, 6, r.TotalUserA.String(), "1", 0, "R", fill, 0, "")
		pdf.CellFormat(45, 6, truncate(r.FormulasUserA, 32), "1", 0, "L", fill, 0, "")
		pdf.CellFormat(22, 6, r.TotalUserB.String(), "1", 0, "R", fill, 0, "")
		pdf.CellFormat(45, 6, truncate(r.FormulasUserB, 32), "1", 0, "L", fill, 0, "")
		pdf.CellFormat(18, 6, r.Difference.String(), "1", 0, "R", fill, 0, "")
		pdf.CellFormat(20, 6, r.SystemStock.String(), "1", 0, "R", fill, 0, "")
		pdf.CellFormat(25, 6, r.Variance.StringFixed(2), "1", 1, "R", fill, 0, "")
	}

	pdf.Ln(4)
	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(277, 7, fmt.Sprintf("Products: %d | Counted: %d | With differences: %d | Complete: %s%%",
		sc.TotalProducts, sc.ProductsCounted, sc.ProductsWithDifferences, sc.PercentComplete.StringFixed(2)), "", 1, "L", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
