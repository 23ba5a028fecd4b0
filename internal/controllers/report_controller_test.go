package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gardian_admin/internal/blob"
	"gardian_admin/internal/models"
	"gardian_admin/internal/reports"
	"gardian_admin/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type staticFeed []models.ReportView

func (f staticFeed) Current() ([]models.ReportView, bool) { return f, true }

func newReportRouter(t *testing.T) (*gin.Engine, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	uploaded := time.Date(2024, 5, 2, 8, 0, 0, 0, time.UTC)
	report := models.Report{ID: "r1", UserID: "citizen", Status: models.ReportPending, Address: "Rizal St",
		Latitude: 14.6, Longitude: 121.0, UploadedAt: uploaded}
	mem.PutReport(report)

	blobs, err := blob.NewDiskStore(t.TempDir(), "/uploads")
	require.NoError(t, err)

	rc := &ReportController{
		Feed:    staticFeed{models.JoinReport(report, nil)},
		Reports: reports.NewService(mem, blobs, nil),
		Now:     func() time.Time { return uploaded.Add(time.Hour) },
	}
	r := gin.New()
	r.GET("/reports", rc.ListReports)
	r.GET("/reports/geojson", rc.GeoJSON)
	r.GET("/reports/export", rc.Export)
	r.GET("/notifications", rc.Notifications)
	r.PATCH("/reports/:owner/:id/status", rc.UpdateStatus)
	r.POST("/reports/:owner/:id/resolve", rc.Resolve)
	return r, mem
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func jsonRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestListReportsFiltersBySearch(t *testing.T) {
	r, _ := newReportRouter(t)

	w := serve(r, httptest.NewRequest(http.MethodGet, "/reports?search=rizal", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data []map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	name, present := body.Data[0]["name"]
	assert.True(t, present)
	assert.Nil(t, name)

	w = serve(r, httptest.NewRequest(http.MethodGet, "/reports?search=mabini", nil))
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Empty(t, body.Data)
}

func TestUpdateStatusHandler(t *testing.T) {
	r, mem := newReportRouter(t)

	w := serve(r, jsonRequest(http.MethodPatch, "/reports/citizen/r1/status", `{"status":"Withdrawn"}`))
	assert.Equal(t, http.StatusOK, w.Code)
	got, err := mem.GetReport(context.Background(), "citizen", "r1")
	require.NoError(t, err)
	assert.Equal(t, models.ReportWithdrawn, got.Status)

	w = serve(r, jsonRequest(http.MethodPatch, "/reports/citizen/r1/status", `{"status":"Resolved"}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(r, jsonRequest(http.MethodPatch, "/reports/citizen/r1/status", `{"status":"Done"}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(r, jsonRequest(http.MethodPatch, "/reports/citizen/nope/status", `{"status":"Pending"}`))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func multipartImage(t *testing.T, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="image"; filename="fixed.jpg"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestResolveHandler(t *testing.T) {
	r, mem := newReportRouter(t)

	body, ct := multipartImage(t, "image/jpeg", []byte("jpeg bytes"))
	req := httptest.NewRequest(http.MethodPost, "/reports/citizen/r1/resolve", body)
	req.Header.Set("Content-Type", ct)
	w := serve(r, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	got, err := mem.GetReport(context.Background(), "citizen", "r1")
	require.NoError(t, err)
	assert.Equal(t, models.ReportResolved, got.Status)
	require.NotNil(t, got.ResolvedImage)
	assert.Contains(t, *got.ResolvedImage, "/uploads/resolved/citizen/r1/")
	assert.NotNil(t, got.ResolvedAt)

	body, ct = multipartImage(t, "application/pdf", []byte("%PDF"))
	req = httptest.NewRequest(http.MethodPost, "/reports/citizen/r1/resolve", body)
	req.Header.Set("Content-Type", ct)
	assert.Equal(t, http.StatusBadRequest, serve(r, req).Code)

	req = httptest.NewRequest(http.MethodPost, "/reports/citizen/r1/resolve", nil)
	assert.Equal(t, http.StatusBadRequest, serve(r, req).Code)
}

func TestExportHandler(t *testing.T) {
	r, _ := newReportRouter(t)

	w := serve(r, httptest.NewRequest(http.MethodGet, "/reports/export?start=2024-05-01&end=2024-05-31", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "reports_2024-05-01_to_2024-05-31.pdf")
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("%PDF")))

	w = serve(r, httptest.NewRequest(http.MethodGet, "/reports/export?start=2024-05-01&end=2024-05-31&format=xlsx", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), ".xlsx")

	w = serve(r, httptest.NewRequest(http.MethodGet, "/reports/export?start=2024-06-01&end=2024-06-30", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve(r, httptest.NewRequest(http.MethodGet, "/reports/export?start=2024-06-30&end=2024-06-01", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(r, httptest.NewRequest(http.MethodGet, "/reports/export?end=2024-06-01", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(r, httptest.NewRequest(http.MethodGet, "/reports/export?start=2024-05-01&end=2024-05-31&format=csv", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGeoJSONAndNotifications(t *testing.T) {
	r, _ := newReportRouter(t)

	w := serve(r, httptest.NewRequest(http.MethodGet, "/reports/geojson", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/geo+json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), `"FeatureCollection"`)

	w = serve(r, httptest.NewRequest(http.MethodGet, "/notifications?limit=abc", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data []json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Data, 1)
}

func TestNotFoundSplitsAPIAndPages(t *testing.T) {
	pc := &PageController{StaticDir: t.TempDir()}
	r := gin.New()
	r.NoRoute(pc.NotFound)
	r.GET("/login", pc.Shell)

	assert.Equal(t, http.StatusNotFound, serve(r, httptest.NewRequest(http.MethodGet, "/api/x", nil)).Code)
	w := serve(r, httptest.NewRequest(http.MethodGet, "/elsewhere", nil))
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/login", w.Header().Get("Location"))
	assert.Contains(t, serve(r, httptest.NewRequest(http.MethodGet, "/login", nil)).Body.String(), "GARDIAN")
}
