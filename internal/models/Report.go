package models

import (
	"strings"
	"time"
)

// Report statuses.
const (
	ReportPending   = "Pending"
	ReportWithdrawn = "Withdrawn"
	ReportResolved  = "Resolved"
)

// Drainage classification labels produced by the detector.
const (
	DrainageClear            = "Clear"
	DrainagePartiallyBlocked = "Partially Blocked"
	DrainageClogged          = "Clogged"
)

// Classification is the detector result attached to a report.
type Classification struct {
	DrainageCount    int    `json:"drainage_count" gorm:"column:drainage_count" firestore:"drainage_count"`
	PotholeCount     int    `json:"pothole_count" gorm:"column:pothole_count" firestore:"pothole_count"`
	RoadSurfaceCount int    `json:"road_surface_count" gorm:"column:road_surface_count" firestore:"road_surface_count"`
	ObstructionCount int    `json:"obstruction_count" gorm:"column:obstruction_count" firestore:"obstruction_count"`
	Status           string `json:"status" gorm:"column:status" firestore:"status"`
}

// Report is a citizen submission stored at users/{UserID}/uploads/{ID}.
type Report struct {
	ID            string         `json:"id" gorm:"primaryKey;size:64" firestore:"-"`
	UserID        string         `json:"userId" gorm:"primaryKey;size:64" firestore:"-"`
	UploadedAt    time.Time      `json:"uploadedAt" gorm:"index" firestore:"uploadedAt"`
	Status        string         `json:"status" gorm:"index" firestore:"status"`
	Address       string         `json:"address" firestore:"address"`
	Latitude      float64        `json:"latitude" firestore:"latitude"`
	Longitude     float64        `json:"longitude" firestore:"longitude"`
	URL           string         `json:"url" firestore:"url"`
	AnnotatedURL  *string        `json:"annotatedUrl,omitempty" firestore:"annotatedUrl,omitempty"`
	ResolvedImage *string        `json:"resolvedImage,omitempty" firestore:"resolvedImage,omitempty"`
	ResolvedAt    *time.Time     `json:"resolvedAt,omitempty" firestore:"resolvedAt,omitempty"`
	Yolo          Classification `json:"yolo" gorm:"embedded;embeddedPrefix:yolo_" firestore:"yolo"`
}

// ClassifyDrainage derives the drainage label from detector counts: obstructions over a
// detected drainage mean Clogged, obstructions alone mean Partially Blocked.
func ClassifyDrainage(drainage, obstruction int) string {
	switch {
	case obstruction > 0 && drainage > 0:
		return DrainageClogged
	case obstruction > 0:
		return DrainagePartiallyBlocked
	}
	return DrainageClear
}

// DrainageLabel returns the stored label, deriving it from the counts when absent.
func (r *Report) DrainageLabel() string {
	if r.Yolo.Status != "" {
		return r.Yolo.Status
	}
	return ClassifyDrainage(r.Yolo.DrainageCount, r.Yolo.ObstructionCount)
}

// IsDrainageFlagged reports whether the drainage was found obstructed.
func (r *Report) IsDrainageFlagged() bool {
	return !strings.EqualFold(r.DrainageLabel(), DrainageClear)
}

// IssueType names the dominant detected issue, used for search and analytics.
func (r *Report) IssueType() string {
	y := r.Yolo
	switch {
	case y.DrainageCount == 0 && y.PotholeCount == 0 && y.RoadSurfaceCount == 0:
		return "Unclassified"
	case y.DrainageCount >= y.PotholeCount && y.DrainageCount >= y.RoadSurfaceCount:
		return "Drainage"
	case y.PotholeCount >= y.RoadSurfaceCount:
		return "Pothole"
	}
	return "Road Surface"
}

// ValidReportStatus reports whether s is a known report status.
func ValidReportStatus(s string) bool {
	switch s {
	case ReportPending, ReportWithdrawn, ReportResolved:
		return true
	}
	return false
}

// StatusUpdate is the field set written by a status mutation. When StampResolvedAt is set the
// store writes its own clock into resolvedAt.
type StatusUpdate struct {
	Status          string
	ResolvedImage   *string
	StampResolvedAt bool
}

// ReportView is a report joined with its submitter's profile. Profile fields are nil when the
// profile does not exist or could not be fetched; they serialize as null, never absent.
type ReportView struct {
	Report
	SubmitterName     *string `json:"name"`
	SubmitterBarangay *string `json:"barangay"`
	SubmitterPhone    *string `json:"phone"`
	SubmitterEmail    *string `json:"email"`
}

// JoinReport builds a view from a report and an optional profile.
func JoinReport(r Report, profile *User) ReportView {
	v := ReportView{Report: r}
	if profile == nil {
		return v
	}
	name := profile.FullName()
	barangay := profile.Barangay
	phone := profile.Phone
	email := profile.Email
	v.SubmitterName = &name
	v.SubmitterBarangay = &barangay
	v.SubmitterPhone = &phone
	v.SubmitterEmail = &email
	return v
}

// Key identifies a report across all submitters.
func (r *Report) Key() string {
	return r.UserID + "/" + r.ID
}
