package exportxlsx

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"merchantcard/domain"
)

func sampleRecords() []*domain.EnrollmentRecord {
	return []*domain.EnrollmentRecord{
		{
			ID:        "enr_1",
			Status:    domain.EnrollmentStatusApproved,
			CreatedAt: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
			Merchant: domain.Merchant{
				FirstName:      "Awa",
				LastName:       "Diallo",
				Gender:         "F",
				BirthDate:      "1990-05-12",
				Quartier:       "Plateau",
				Email:          "awa@example.com",
				Phone:          "+22501020304",
				MembershipType: "standard",
				NationalityID:  "CI",
				CardNumber:     "MC-1001",
			},
			Paid: true,
		},
		{
			ID:        "enr_2",
			Status:    domain.EnrollmentStatusPending,
			CreatedAt: time.Date(2026, 4, 2, 14, 0, 0, 0, time.UTC),
			Merchant: domain.Merchant{
				FirstName:      "Moussa",
				LastName:       "Traoré",
				Gender:         "M",
				BirthDate:      "1985-11-30",
				Quartier:       "Cocody",
				Email:          "moussa@example.com",
				Phone:          "+22507080910",
				MembershipType: "premium",
				NationalityID:  "ML",
				CardNumber:     "MC-2002",
			},
			Company: &domain.Company{Name: "Traoré & Fils"},
		},
	}
}

func TestGenerateRosterXLSXWritesAllRows(t *testing.T) {
	outPath := filepath.Join(t.TempDir(), "out", "liste_marchands.xlsx")
	var gotProcessed, gotTotal int
	err := GenerateRosterXLSX(sampleRecords(), domain.ExportFilters{}, outPath, 1, func(processed, total int) {
		gotProcessed, gotTotal = processed, total
	})
	if err != nil {
		t.Fatalf("GenerateRosterXLSX failed: %v", err)
	}
	if gotProcessed != 2 || gotTotal != 2 {
		t.Fatalf("final progress = (%d,%d), want (2,2)", gotProcessed, gotTotal)
	}

	f, err := excelize.OpenFile(outPath)
	if err != nil {
		t.Fatalf("open output failed: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows(sheetName)
	if err != nil {
		t.Fatalf("read rows failed: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("row count = %d, want 3 (header + 2)", len(rows))
	}
	if rows[0][0] != "N° carte" {
		t.Fatalf("header cell = %q", rows[0][0])
	}
	if rows[1][0] != "MC-1001" || rows[2][0] != "MC-2002" {
		t.Fatalf("card columns = %q, %q", rows[1][0], rows[2][0])
	}
	if rows[2][9] != "Traoré & Fils" {
		t.Fatalf("company cell = %q", rows[2][9])
	}
	if rows[1][11] != "oui" || rows[2][11] != "non" {
		t.Fatalf("paid columns = %q, %q", rows[1][11], rows[2][11])
	}
}

func TestGenerateRosterXLSXAppliesFilters(t *testing.T) {
	outPath := filepath.Join(t.TempDir(), "liste_marchands.xlsx")
	filters := domain.ExportFilters{MembershipType: "premium"}
	if err := GenerateRosterXLSX(sampleRecords(), filters, outPath, 10, nil); err != nil {
		t.Fatalf("GenerateRosterXLSX failed: %v", err)
	}
	f, err := excelize.OpenFile(outPath)
	if err != nil {
		t.Fatalf("open output failed: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows(sheetName)
	if err != nil {
		t.Fatalf("read rows failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("row count = %d, want 2 (header + 1)", len(rows))
	}
	if rows[1][0] != "MC-2002" {
		t.Fatalf("filtered row card = %q", rows[1][0])
	}
}

func TestMatchesFilters(t *testing.T) {
	recs := sampleRecords()
	cases := []struct {
		name    string
		filters domain.ExportFilters
		rec     *domain.EnrollmentRecord
		want    bool
	}{
		{"empty filters match", domain.ExportFilters{}, recs[0], true},
		{"card substring case-insensitive", domain.ExportFilters{CardNumber: "mc-10"}, recs[0], true},
		{"card substring miss", domain.ExportFilters{CardNumber: "MC-99"}, recs[0], false},
		{"active true matches approved", domain.ExportFilters{Active: "true"}, recs[0], true},
		{"active true rejects pending", domain.ExportFilters{Active: "true"}, recs[1], false},
		{"active false matches pending", domain.ExportFilters{Active: "false"}, recs[1], true},
		{"nationality exact", domain.ExportFilters{NationalityID: "ML"}, recs[1], true},
		{"nationality miss", domain.ExportFilters{NationalityID: "SN"}, recs[1], false},
		{"address matches quartier", domain.ExportFilters{Address: "coco"}, recs[1], true},
		{"date range includes", domain.ExportFilters{DateFrom: "2026-03-01", DateTo: "2026-03-31"}, recs[0], true},
		{"date range excludes", domain.ExportFilters{DateFrom: "2026-03-01", DateTo: "2026-03-31"}, recs[1], false},
		{"bad date ignored", domain.ExportFilters{DateFrom: "not-a-date"}, recs[0], true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := MatchesFilters(tc.rec, tc.filters); got != tc.want {
				t.Fatalf("MatchesFilters = %v, want %v", got, tc.want)
			}
		})
	}
}
