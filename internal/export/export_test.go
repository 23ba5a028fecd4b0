package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"gardian_admin/internal/models"
)

var manila = time.FixedZone("PHT", 8*3600)

func strp(s string) *string { return &s }

func views() []models.ReportView {
	return []models.ReportView{
		{Report: models.Report{ID: "r1", UserID: "u1", Status: models.ReportPending, Address: "Rizal Ave",
			UploadedAt: time.Date(2024, 5, 1, 0, 30, 0, 0, manila), Yolo: models.Classification{DrainageCount: 1, ObstructionCount: 1}},
			SubmitterName: strp("Juan Cruz"), SubmitterBarangay: strp("Sto. Niño")},
		{Report: models.Report{ID: "r2", UserID: "u2", Status: models.ReportResolved, Address: "Mabini St",
			UploadedAt: time.Date(2024, 5, 3, 23, 59, 0, 0, manila), Yolo: models.Classification{PotholeCount: 2}}},
		{Report: models.Report{ID: "r3", UserID: "u1", Status: models.ReportWithdrawn,
			UploadedAt: time.Date(2024, 5, 4, 0, 0, 0, 0, manila)}},
		{Report: models.Report{ID: "r0", UserID: "u3", Status: models.ReportPending,
			UploadedAt: time.Date(2024, 4, 30, 23, 59, 0, 0, manila)}},
	}
}

func TestParseRange(t *testing.T) {
	_, err := ParseRange("", "2024-05-01", manila)
	assert.ErrorIs(t, err, ErrMissingRange)
	_, err = ParseRange("2024-05-01", " ", manila)
	assert.ErrorIs(t, err, ErrMissingRange)
	_, err = ParseRange("05/01/2024", "2024-05-02", manila)
	assert.ErrorIs(t, err, ErrInvalidDate)
	_, err = ParseRange("2024-05-03", "2024-05-01", manila)
	assert.ErrorIs(t, err, ErrInvalidRange)

	r, err := ParseRange("2024-05-01", "2024-05-01", manila)
	require.NoError(t, err)
	assert.Equal(t, "reports_2024-05-01_to_2024-05-01.pdf", r.Filename("pdf"))
}

func TestFilterIsInclusiveByDay(t *testing.T) {
	r, err := ParseRange("2024-05-01", "2024-05-03", manila)
	require.NoError(t, err)
	got := Filter(views(), r)
	require.Len(t, got, 2)
	assert.Equal(t, "r2", got[0].ID)
	assert.Equal(t, "r1", got[1].ID)

	// the same instant seen from UTC falls on the previous day
	utc, err := ParseRange("2024-04-30", "2024-04-30", time.UTC)
	require.NoError(t, err)
	ids := []string{}
	for _, v := range Filter(views(), utc) {
		ids = append(ids, v.ID)
	}
	assert.ElementsMatch(t, []string{"r0", "r1"}, ids)
}

func TestCount(t *testing.T) {
	assert.Equal(t, Totals{Total: 4, Pending: 2, Withdrawn: 1, Resolved: 1, DrainageFlagged: 1}, Count(views()))
}

func TestPDF(t *testing.T) {
	r, err := ParseRange("2024-05-01", "2024-05-04", manila)
	require.NoError(t, err)
	doc, err := PDF(views(), r, time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "reports_2024-05-01_to_2024-05-04.pdf", doc.Filename)
	assert.Equal(t, "application/pdf", doc.ContentType)
	assert.True(t, bytes.HasPrefix(doc.Body, []byte("%PDF-")))
}

func TestPDFManyRowsPaginates(t *testing.T) {
	var many []models.ReportView
	base := time.Date(2024, 5, 1, 8, 0, 0, 0, manila)
	for i := 0; i < 120; i++ {
		many = append(many, models.ReportView{Report: models.Report{
			ID: "r", UserID: "u", Status: models.ReportPending, UploadedAt: base.Add(time.Duration(i) * time.Minute),
			Address: "A very long address line that will certainly not fit inside the address column of the table",
		}})
	}
	r, err := ParseRange("2024-05-01", "2024-05-01", manila)
	require.NoError(t, err)
	doc, err := PDF(many, r, base)
	require.NoError(t, err)
	assert.NotEmpty(t, doc.Body)
}

func TestNoDataProducesNoFile(t *testing.T) {
	r, err := ParseRange("2023-01-01", "2023-01-31", manila)
	require.NoError(t, err)
	doc, err := PDF(views(), r, time.Now())
	assert.ErrorIs(t, err, ErrNoData)
	assert.Nil(t, doc)
	doc, err = XLSX(views(), r, time.Now())
	assert.ErrorIs(t, err, ErrNoData)
	assert.Nil(t, doc)
}

func TestXLSX(t *testing.T) {
	r, err := ParseRange("2024-05-01", "2024-05-04", manila)
	require.NoError(t, err)
	doc, err := XLSX(views(), r, time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "reports_2024-05-01_to_2024-05-04.xlsx", doc.Filename)

	f, err := excelize.OpenReader(bytes.NewReader(doc.Body))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(detailSheet)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, detailHeader, rows[0])
	assert.Equal(t, "r3", rows[1][1])
	assert.Equal(t, "Sto. Niño", rows[3][3])

	total, err := f.GetCellValue(summarySheet, "B6")
	require.NoError(t, err)
	assert.Equal(t, "3", total)
}
