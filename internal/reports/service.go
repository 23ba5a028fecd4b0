// Package reports implements the administrator actions on citizen reports and the views
// derived from the live feed.
package reports

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"gardian_admin/internal/blob"
	"gardian_admin/internal/events"
	"gardian_admin/internal/models"
	"gardian_admin/internal/store"
)

var (
	ErrInvalidStatus   = errors.New("invalid report status")
	ErrResolveViaImage = errors.New("resolving a report requires a resolution image")
	ErrImageRequired   = errors.New("a resolution image is required")
	ErrNotFound        = errors.New("report not found")
)

// Image is a staged resolution photo.
type Image struct {
	Filename string
	Size     int64
	Body     io.Reader
}

// Service performs report mutations.
type Service struct {
	reports store.ReportStore
	blobs   blob.Store
	events  events.Publisher
}

// NewService wires a report service.
func NewService(reports store.ReportStore, blobs blob.Store, pub events.Publisher) *Service {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Service{reports: reports, blobs: blobs, events: pub}
}

// UpdateStatus writes a new status to one report. Resolved has its own action.
func (s *Service) UpdateStatus(ctx context.Context, actorID, owner, id, status string) error {
	if !models.ValidReportStatus(status) {
		return ErrInvalidStatus
	}
	if status == models.ReportResolved {
		return ErrResolveViaImage
	}
	if err := s.reports.UpdateReportStatus(ctx, owner, id, models.StatusUpdate{Status: status}); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("update report status: %w", err)
	}
	logrus.WithFields(logrus.Fields{"report_id": id, "user_id": owner, "status": status, "actor_id": actorID}).Info("report status updated")
	events.Emit(ctx, s.events, events.SubjectReportStatus, events.ReportStatusChanged{
		ReportID: id, UserID: owner, Status: status, ActorID: actorID,
	})
	return nil
}

// Resolve uploads the resolution image once and then writes status, image address and a
// server-stamped resolution time in one update. If that write fails the uploaded blob stays
// behind; it is logged, not removed.
func (s *Service) Resolve(ctx context.Context, actorID, owner, id string, img *Image) (string, error) {
	if img == nil || img.Body == nil || img.Size == 0 {
		return "", ErrImageRequired
	}
	if _, err := s.reports.GetReport(ctx, owner, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("load report: %w", err)
	}

	url, err := s.blobs.Upload(ctx, "resolved/"+owner+"/"+id, img.Filename, img.Body)
	if err != nil {
		if errors.Is(err, blob.ErrEmpty) {
			return "", ErrImageRequired
		}
		return "", fmt.Errorf("upload resolution image: %w", err)
	}

	upd := models.StatusUpdate{Status: models.ReportResolved, ResolvedImage: &url, StampResolvedAt: true}
	if err := s.reports.UpdateReportStatus(ctx, owner, id, upd); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{"report_id": id, "user_id": owner, "blob": url}).
			Error("resolve write failed, uploaded image is orphaned")
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("write resolution: %w", err)
	}

	logrus.WithFields(logrus.Fields{"report_id": id, "user_id": owner, "actor_id": actorID}).Info("report resolved")
	events.Emit(ctx, s.events, events.SubjectReportStatus, events.ReportStatusChanged{
		ReportID: id, UserID: owner, Status: models.ReportResolved, ResolvedImage: &url, ActorID: actorID,
	})
	return url, nil
}
