// Package export renders date-ranged report summaries as PDF and XLSX documents.
package export

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gardian_admin/internal/feed"
	"gardian_admin/internal/models"
)

var (
	ErrMissingRange = errors.New("please select both a start and an end date")
	ErrInvalidDate  = errors.New("dates must be formatted as YYYY-MM-DD")
	ErrInvalidRange = errors.New("the start date must not be after the end date")
	ErrNoData       = errors.New("no reports found in the selected date range")
)

const dateLayout = "2006-01-02"

// Range is an inclusive span of calendar days in Loc.
type Range struct {
	Start time.Time
	End   time.Time
	Loc   *time.Location
}

// ParseRange validates a pair of YYYY-MM-DD dates.
func ParseRange(start, end string, loc *time.Location) (Range, error) {
	start, end = strings.TrimSpace(start), strings.TrimSpace(end)
	if start == "" || end == "" {
		return Range{}, ErrMissingRange
	}
	if loc == nil {
		loc = time.UTC
	}
	s, err := time.ParseInLocation(dateLayout, start, loc)
	if err != nil {
		return Range{}, ErrInvalidDate
	}
	e, err := time.ParseInLocation(dateLayout, end, loc)
	if err != nil {
		return Range{}, ErrInvalidDate
	}
	if s.After(e) {
		return Range{}, ErrInvalidRange
	}
	return Range{Start: s, End: e, Loc: loc}, nil
}

// Contains reports whether t falls on one of the range's days.
func (r Range) Contains(t time.Time) bool {
	day := t.In(r.Loc)
	day = time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, r.Loc)
	return !day.Before(r.Start) && !day.After(r.End)
}

// Filename names the exported document.
func (r Range) Filename(ext string) string {
	return fmt.Sprintf("reports_%s_to_%s.%s", r.Start.Format(dateLayout), r.End.Format(dateLayout), ext)
}

// Filter returns the reports captured within r, newest first.
func Filter(views []models.ReportView, r Range) []models.ReportView {
	out := make([]models.ReportView, 0)
	for _, v := range views {
		if r.Contains(v.UploadedAt) {
			out = append(out, v)
		}
	}
	feed.SortNewestFirst(out)
	return out
}

// Totals is the summary table of an export.
type Totals struct {
	Total           int
	Pending         int
	Withdrawn       int
	Resolved        int
	DrainageFlagged int
}

// Count tallies the summary table.
func Count(views []models.ReportView) Totals {
	t := Totals{Total: len(views)}
	for i := range views {
		switch views[i].Status {
		case models.ReportPending:
			t.Pending++
		case models.ReportWithdrawn:
			t.Withdrawn++
		case models.ReportResolved:
			t.Resolved++
		}
		if views[i].IsDrainageFlagged() {
			t.DrainageFlagged++
		}
	}
	return t
}

// Document is a rendered export.
type Document struct {
	Filename    string
	ContentType string
	Body        []byte
}

// row is one line of the detail table.
type row struct {
	Date      string
	ID        string
	Submitter string
	Barangay  string
	Address   string
	Issue     string
	Drainage  string
	Status    string
}

var detailHeader = []string{"Date", "Report ID", "Submitter", "Barangay", "Address", "Issue", "Drainage", "Status"}

func toRow(v models.ReportView, loc *time.Location) row {
	return row{
		Date:      v.UploadedAt.In(loc).Format("Jan 2, 2006 3:04 PM"),
		ID:        v.ID,
		Submitter: orDash(v.SubmitterName),
		Barangay:  orDash(v.SubmitterBarangay),
		Address:   v.Address,
		Issue:     v.IssueType(),
		Drainage:  v.DrainageLabel(),
		Status:    v.Status,
	}
}

func (r row) cells() []string {
	return []string{r.Date, r.ID, r.Submitter, r.Barangay, r.Address, r.Issue, r.Drainage, r.Status}
}

func orDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}

// prepare runs the shared part of every export: filter, order and count.
func prepare(views []models.ReportView, r Range) ([]row, Totals, error) {
	selected := Filter(views, r)
	if len(selected) == 0 {
		return nil, Totals{}, ErrNoData
	}
	rows := make([]row, len(selected))
	for i, v := range selected {
		rows[i] = toRow(v, r.Loc)
	}
	return rows, Count(selected), nil
}

func (t Totals) table() [][2]string {
	return [][2]string{
		{"Total reports", fmt.Sprint(t.Total)},
		{"Pending", fmt.Sprint(t.Pending)},
		{"Withdrawn", fmt.Sprint(t.Withdrawn)},
		{"Resolved", fmt.Sprint(t.Resolved)},
		{"Drainage flagged", fmt.Sprint(t.DrainageFlagged)},
	}
}
