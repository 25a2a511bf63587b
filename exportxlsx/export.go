package exportxlsx

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"merchantcard/domain"
)

const sheetName = "Marchands"

var headers = []string{
	"N° carte",
	"Nom",
	"Prénom",
	"Genre",
	"Date de naissance",
	"Quartier",
	"Email",
	"Téléphone",
	"Type d'adhésion",
	"Entreprise",
	"Statut",
	"Payé",
	"Date d'inscription",
}

// ProgressFunc receives (processed, total) after each written batch.
type ProgressFunc func(processed, total int)

// GenerateRosterXLSX writes the filtered merchant roster to outPath.
// The progress callback fires at least once per progressEvery rows and once at the end,
// so the task store always reaches processed==total before completion.
func GenerateRosterXLSX(recs []*domain.EnrollmentRecord, filters domain.ExportFilters, outPath string, progressEvery int, progress ProgressFunc) error {
	if strings.TrimSpace(outPath) == "" {
		return errors.New("output path empty")
	}
	if progressEvery <= 0 {
		progressEvery = 50
	}

	matched := make([]*domain.EnrollmentRecord, 0, len(recs))
	for _, r := range recs {
		if r == nil {
			continue
		}
		if MatchesFilters(r, filters) {
			matched = append(matched, r)
		}
	}
	total := len(matched)

	f := excelize.NewFile()
	defSheet := f.GetSheetName(0)
	if defSheet == "" {
		defSheet = "Sheet1"
	}
	_ = f.SetSheetName(defSheet, sheetName)
	f.SetActiveSheet(0)

	sw, err := f.NewStreamWriter(sheetName)
	if err != nil {
		return err
	}

	headerRow := make([]interface{}, len(headers))
	for i, h := range headers {
		headerRow[i] = h
	}
	if err := sw.SetRow(cellAxis(1, 1), headerRow); err != nil {
		return err
	}

	if progress != nil {
		progress(0, total)
	}
	rowNum := 2
	for i, r := range matched {
		if err := sw.SetRow(cellAxis(rowNum, 1), rosterRow(r)); err != nil {
			return err
		}
		rowNum++
		if progress != nil && (i+1)%progressEvery == 0 {
			progress(i+1, total)
		}
	}
	if err := sw.Flush(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create output dir failed: %w", err)
	}
	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create output file failed: %w", err)
	}
	defer out.Close()
	if _, err := f.WriteTo(out); err != nil {
		return fmt.Errorf("write output file failed: %w", err)
	}
	if progress != nil {
		progress(total, total)
	}
	return nil
}

func rosterRow(r *domain.EnrollmentRecord) []interface{} {
	company := ""
	if r.Company != nil {
		company = r.Company.Name
	}
	paid := "non"
	if r.Paid {
		paid = "oui"
	}
	return []interface{}{
		r.Merchant.CardNumber,
		r.Merchant.LastName,
		r.Merchant.FirstName,
		r.Merchant.Gender,
		r.Merchant.BirthDate,
		r.Merchant.Quartier,
		r.Merchant.Email,
		r.Merchant.Phone,
		r.Merchant.MembershipType,
		company,
		string(r.Status),
		paid,
		r.CreatedAt.Format("2006-01-02"),
	}
}

// MatchesFilters applies the export filters to one record. Empty filter values
// never constrain; substring filters are case-insensitive.
func MatchesFilters(r *domain.EnrollmentRecord, f domain.ExportFilters) bool {
	if r == nil {
		return false
	}
	if v := strings.TrimSpace(f.MembershipType); v != "" && !strings.EqualFold(v, r.Merchant.MembershipType) {
		return false
	}
	if v := strings.TrimSpace(f.NationalityID); v != "" && v != r.Merchant.NationalityID {
		return false
	}
	if v := strings.TrimSpace(f.CardNumber); v != "" && !containsFold(r.Merchant.CardNumber, v) {
		return false
	}
	if v := strings.TrimSpace(f.Address); v != "" && !containsFold(r.Merchant.Quartier, v) && !containsFold(r.Merchant.AddressID, v) {
		return false
	}
	if v := strings.TrimSpace(f.Active); v != "" {
		wantActive := strings.EqualFold(v, "true") || v == "1"
		isActive := r.Status == domain.EnrollmentStatusApproved
		if wantActive != isActive {
			return false
		}
	}
	if v := strings.TrimSpace(f.DateFrom); v != "" {
		if from, err := time.Parse("2006-01-02", v); err == nil && r.CreatedAt.Before(from) {
			return false
		}
	}
	if v := strings.TrimSpace(f.DateTo); v != "" {
		if to, err := time.Parse("2006-01-02", v); err == nil && r.CreatedAt.After(to.Add(24*time.Hour)) {
			return false
		}
	}
	return true
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func cellAxis(row, col int) string {
	axis, _ := excelize.CoordinatesToCellName(col, row)
	return axis
}
