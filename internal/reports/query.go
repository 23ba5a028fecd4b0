package reports

import (
	"sort"
	"strings"

	"gardian_admin/internal/models"
)

// Sort orders for report lists.
const (
	SortNewest   = "newest"
	SortOldest   = "oldest"
	SortStatus   = "status"
	SortBarangay = "barangay"
)

// Query narrows and orders a report list.
type Query struct {
	Search string
	// Status is a report status or "" / "all".
	Status string
	Sort   string
}

// Apply returns the views matching q, in q's order. views is not modified.
func Apply(views []models.ReportView, q Query) []models.ReportView {
	needle := strings.ToLower(strings.TrimSpace(q.Search))
	status := q.Status
	if strings.EqualFold(status, "all") {
		status = ""
	}

	out := make([]models.ReportView, 0, len(views))
	for _, v := range views {
		if status != "" && !strings.EqualFold(v.Status, status) {
			continue
		}
		if needle != "" && !matches(v, needle) {
			continue
		}
		out = append(out, v)
	}

	switch q.Sort {
	case SortOldest:
		sort.SliceStable(out, func(i, j int) bool { return out[i].UploadedAt.Before(out[j].UploadedAt) })
	case SortStatus:
		sort.SliceStable(out, func(i, j int) bool { return statusRank(out[i].Status) < statusRank(out[j].Status) })
	case SortBarangay:
		sort.SliceStable(out, func(i, j int) bool { return deref(out[i].SubmitterBarangay) < deref(out[j].SubmitterBarangay) })
	default:
		sort.SliceStable(out, func(i, j int) bool { return out[i].UploadedAt.After(out[j].UploadedAt) })
	}
	return out
}

func matches(v models.ReportView, needle string) bool {
	fields := []string{
		v.ID, v.Address, v.Status, v.IssueType(), v.DrainageLabel(),
		deref(v.SubmitterName), deref(v.SubmitterBarangay), deref(v.SubmitterEmail),
	}
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), needle) {
			return true
		}
	}
	return false
}

func statusRank(s string) int {
	switch s {
	case models.ReportPending:
		return 0
	case models.ReportWithdrawn:
		return 1
	case models.ReportResolved:
		return 2
	}
	return 3
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
