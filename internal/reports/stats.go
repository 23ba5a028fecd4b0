package reports

import (
	"math"
	"sort"
	"time"

	"gardian_admin/internal/models"
)

// Summary is the dashboard's status count strip.
type Summary struct {
	New             int `json:"new"`
	Pending         int `json:"pending"`
	Withdrawn       int `json:"withdrawn"`
	Resolved        int `json:"resolved"`
	DrainageFlagged int `json:"drainageFlagged"`
	Total           int `json:"total"`
}

// Summarize counts views by status. New counts reports captured since the start of now's day.
func Summarize(views []models.ReportView, now time.Time) Summary {
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	s := Summary{Total: len(views)}
	for i := range views {
		v := &views[i]
		switch v.Status {
		case models.ReportPending:
			s.Pending++
		case models.ReportWithdrawn:
			s.Withdrawn++
		case models.ReportResolved:
			s.Resolved++
		}
		if v.IsDrainageFlagged() {
			s.DrainageFlagged++
		}
		if !v.UploadedAt.Before(dayStart) {
			s.New++
		}
	}
	return s
}

// Notification is one entry of the top bar's notification list.
type Notification struct {
	ReportID   string    `json:"reportId"`
	UserID     string    `json:"userId"`
	Address    string    `json:"address"`
	IssueType  string    `json:"issueType"`
	Submitter  *string   `json:"name"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// Notifications returns the most recent pending reports, at most limit of them. views must be
// sorted newest first.
func Notifications(views []models.ReportView, limit int) []Notification {
	out := make([]Notification, 0, limit)
	for i := range views {
		if len(out) == limit {
			break
		}
		v := &views[i]
		if v.Status != models.ReportPending {
			continue
		}
		out = append(out, Notification{
			ReportID: v.ID, UserID: v.UserID, Address: v.Address,
			IssueType: v.IssueType(), Submitter: v.SubmitterName, UploadedAt: v.UploadedAt,
		})
	}
	return out
}

// AreaStat is the report count of one barangay with a 1-5 severity relative to the busiest one.
type AreaStat struct {
	Barangay string `json:"barangay"`
	Reports  int    `json:"reports"`
	Pending  int    `json:"pending"`
	Severity int    `json:"severity"`
}

// IssueCounts counts reports per detected issue type.
type IssueCounts struct {
	Drainage    int `json:"drainage"`
	Pothole     int `json:"pothole"`
	RoadSurface int `json:"roadSurface"`
}

func (c *IssueCounts) add(issue string) {
	switch issue {
	case "Drainage":
		c.Drainage++
	case "Pothole":
		c.Pothole++
	case "Road Surface":
		c.RoadSurface++
	}
}

// MonthTrend counts issue types for one calendar month, "2006-01".
type MonthTrend struct {
	Month string `json:"month"`
	IssueCounts
}

// BarangayMonth is one bar group of the monthly chart.
type BarangayMonth struct {
	Barangay string `json:"barangay"`
	IssueCounts
	Total int `json:"total"`
}

// Analytics is everything the analytics page renders.
type Analytics struct {
	AvgResolutionDays float64                    `json:"avgResolutionDays"`
	TopIssue          string                     `json:"topIssue"`
	TopIssueShare     float64                    `json:"topIssueShare"`
	TrendPercent      float64                    `json:"trendPercent"`
	HighRiskAreas     []string                   `json:"highRiskAreas"`
	Areas             []AreaStat                 `json:"areas"`
	IssueTrends       []MonthTrend               `json:"issueTrends"`
	Monthly           map[string][]BarangayMonth `json:"monthly"`
}

const unknownBarangay = "Unknown"

// Analyze derives the analytics page from the feed. now anchors the month-over-month trend.
func Analyze(views []models.ReportView, now time.Time) Analytics {
	a := Analytics{Monthly: make(map[string][]BarangayMonth)}

	var resolvedDur time.Duration
	var resolvedN int
	var issues IssueCounts
	areas := make(map[string]*AreaStat)
	trends := make(map[string]*IssueCounts)
	monthly := make(map[string]map[string]*BarangayMonth)

	thisMonth := now.Format("2006-01")
	lastMonth := time.Date(now.Year(), now.Month()-1, 1, 0, 0, 0, 0, now.Location()).Format("2006-01")
	var thisN, lastN int

	for i := range views {
		v := &views[i]
		issue := v.IssueType()
		issues.add(issue)

		if v.Status == models.ReportResolved && v.ResolvedAt != nil && v.ResolvedAt.After(v.UploadedAt) {
			resolvedDur += v.ResolvedAt.Sub(v.UploadedAt)
			resolvedN++
		}

		brgy := deref(v.SubmitterBarangay)
		if brgy == "" {
			brgy = unknownBarangay
		}
		area, ok := areas[brgy]
		if !ok {
			area = &AreaStat{Barangay: brgy}
			areas[brgy] = area
		}
		area.Reports++
		if v.Status == models.ReportPending {
			area.Pending++
		}

		month := v.UploadedAt.In(now.Location()).Format("2006-01")
		switch month {
		case thisMonth:
			thisN++
		case lastMonth:
			lastN++
		}
		if trends[month] == nil {
			trends[month] = &IssueCounts{}
		}
		trends[month].add(issue)

		if monthly[month] == nil {
			monthly[month] = make(map[string]*BarangayMonth)
		}
		bm, ok := monthly[month][brgy]
		if !ok {
			bm = &BarangayMonth{Barangay: brgy}
			monthly[month][brgy] = bm
		}
		bm.add(issue)
		bm.Total = bm.Drainage + bm.Pothole + bm.RoadSurface
	}

	if resolvedN > 0 {
		a.AvgResolutionDays = round1(resolvedDur.Hours() / 24 / float64(resolvedN))
	}
	a.TopIssue, a.TopIssueShare = topIssue(issues)
	if lastN > 0 {
		a.TrendPercent = round1(float64(thisN-lastN) / float64(lastN) * 100)
	}

	busiest := 0
	for _, s := range areas {
		if s.Reports > busiest {
			busiest = s.Reports
		}
	}
	for _, s := range areas {
		s.Severity = int(math.Ceil(5 * float64(s.Reports) / float64(busiest)))
		a.Areas = append(a.Areas, *s)
	}
	sort.Slice(a.Areas, func(i, j int) bool {
		if a.Areas[i].Reports != a.Areas[j].Reports {
			return a.Areas[i].Reports > a.Areas[j].Reports
		}
		return a.Areas[i].Barangay < a.Areas[j].Barangay
	})
	for _, s := range a.Areas {
		if s.Severity >= 4 && s.Barangay != unknownBarangay && len(a.HighRiskAreas) < 3 {
			a.HighRiskAreas = append(a.HighRiskAreas, s.Barangay)
		}
	}

	for month, c := range trends {
		a.IssueTrends = append(a.IssueTrends, MonthTrend{Month: month, IssueCounts: *c})
	}
	sort.Slice(a.IssueTrends, func(i, j int) bool { return a.IssueTrends[i].Month < a.IssueTrends[j].Month })

	for month, byBrgy := range monthly {
		rows := make([]BarangayMonth, 0, len(byBrgy))
		for _, bm := range byBrgy {
			rows = append(rows, *bm)
		}
		sort.Slice(rows, func(i, j int) bool { return rows[i].Barangay < rows[j].Barangay })
		a.Monthly[month] = rows
	}
	return a
}

func topIssue(c IssueCounts) (string, float64) {
	total := c.Drainage + c.Pothole + c.RoadSurface
	if total == 0 {
		return "", 0
	}
	name, n := "Drainage", c.Drainage
	if c.Pothole > n {
		name, n = "Pothole", c.Pothole
	}
	if c.RoadSurface > n {
		name, n = "Road Surface", c.RoadSurface
	}
	return name, round1(float64(n) / float64(total) * 100)
}

func round1(f float64) float64 {
	return math.Round(f*10) / 10
}
