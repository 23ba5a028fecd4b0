package controllers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"gardian_admin/internal/export"
	"gardian_admin/internal/middleware"
	"gardian_admin/internal/models"
	"gardian_admin/internal/reports"
)

// FeedSource is the published report list.
type FeedSource interface {
	Current() ([]models.ReportView, bool)
}

// ReportController serves the report table, its actions and everything derived from the feed.
type ReportController struct {
	Feed     FeedSource
	Reports  *reports.Service
	Location *time.Location
	Now      func() time.Time
}

func (rc *ReportController) now() time.Time {
	if rc.Now != nil {
		return rc.Now()
	}
	return time.Now()
}

func (rc *ReportController) loc() *time.Location {
	if rc.Location != nil {
		return rc.Location
	}
	return time.UTC
}

// ListReports returns the joined feed narrowed by ?search, ?status and ordered by ?sort.
func (rc *ReportController) ListReports(c *gin.Context) {
	views, ready := rc.Feed.Current()
	q := reports.Query{Search: c.Query("search"), Status: c.Query("status"), Sort: c.Query("sort")}
	c.JSON(http.StatusOK, gin.H{
		"data":    reports.Apply(views, q),
		"summary": reports.Summarize(views, rc.now().In(rc.loc())),
		"ready":   ready,
	})
}

// Summary returns the dashboard count strip.
func (rc *ReportController) Summary(c *gin.Context) {
	views, _ := rc.Feed.Current()
	c.JSON(http.StatusOK, reports.Summarize(views, rc.now().In(rc.loc())))
}

// Notifications returns the newest pending reports.
func (rc *ReportController) Notifications(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if err != nil || limit <= 0 || limit > 100 {
		limit = 10
	}
	views, _ := rc.Feed.Current()
	c.JSON(http.StatusOK, gin.H{"data": reports.Notifications(views, limit)})
}

// Analytics returns the analytics page data.
func (rc *ReportController) Analytics(c *gin.Context) {
	views, _ := rc.Feed.Current()
	c.JSON(http.StatusOK, reports.Analyze(views, rc.now().In(rc.loc())))
}

// GeoJSON returns report locations as a FeatureCollection.
func (rc *ReportController) GeoJSON(c *gin.Context) {
	views, _ := rc.Feed.Current()
	body, err := json.Marshal(reports.FeatureCollection(views))
	if err != nil {
		logrus.WithError(err).Error("encoding report geojson failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not render map data"})
		return
	}
	c.Data(http.StatusOK, "application/geo+json", body)
}

// Export renders the reports of ?start..?end as ?format=pdf (default) or xlsx.
func (rc *ReportController) Export(c *gin.Context) {
	r, err := export.ParseRange(c.Query("start"), c.Query("end"), rc.loc())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	views, _ := rc.Feed.Current()

	var doc *export.Document
	switch strings.ToLower(c.DefaultQuery("format", "pdf")) {
	case "pdf":
		doc, err = export.PDF(views, r, rc.now())
	case "xlsx":
		doc, err = export.XLSX(views, r, rc.now())
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "format must be pdf or xlsx"})
		return
	}
	if errors.Is(err, export.ErrNoData) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		logrus.WithError(err).Error("export failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not generate export"})
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+doc.Filename+`"`)
	c.Data(http.StatusOK, doc.ContentType, doc.Body)
}

type statusInput struct {
	Status string `json:"status" binding:"required"`
}

// UpdateStatus changes one report's status.
func (rc *ReportController) UpdateStatus(c *gin.Context) {
	var input statusInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := rc.Reports.UpdateStatus(c.Request.Context(), actorID(c), c.Param("owner"), c.Param("id"), input.Status)
	if err != nil {
		respondReportError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "status updated", "status": input.Status})
}

// Resolve takes a multipart "image" and resolves the report with it.
func (rc *ReportController) Resolve(c *gin.Context) {
	fh, err := c.FormFile("image")
	if err != nil || fh.Size == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": reports.ErrImageRequired.Error()})
		return
	}
	if ct := fh.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "image/") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "the resolution file must be an image"})
		return
	}
	file, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read the uploaded image"})
		return
	}
	defer file.Close()

	url, err := rc.Reports.Resolve(c.Request.Context(), actorID(c), c.Param("owner"), c.Param("id"),
		&reports.Image{Filename: fh.Filename, Size: fh.Size, Body: file})
	if err != nil {
		respondReportError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "report resolved", "resolvedImage": url})
}

func actorID(c *gin.Context) string {
	if u := middleware.CurrentAdmin(c); u != nil {
		return u.ID
	}
	return ""
}

func respondReportError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, reports.ErrInvalidStatus), errors.Is(err, reports.ErrResolveViaImage), errors.Is(err, reports.ErrImageRequired):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, reports.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		logrus.WithError(err).WithField("path", c.Request.URL.Path).Error("report mutation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not update the report, please try again"})
	}
}
