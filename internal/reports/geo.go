package reports

import (
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"gardian_admin/internal/models"
)

// FeatureCollection renders report locations for the map. Reports without coordinates are left out.
func FeatureCollection(views []models.ReportView) *geojson.FeatureCollection {
	fc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(views))}
	for i := range views {
		v := &views[i]
		if v.Latitude == 0 && v.Longitude == 0 {
			continue
		}
		point := geom.NewPointFlat(geom.XY, []float64{v.Longitude, v.Latitude})
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:       v.Key(),
			Geometry: point,
			Properties: map[string]interface{}{
				"reportId":   v.ID,
				"userId":     v.UserID,
				"status":     v.Status,
				"address":    v.Address,
				"issueType":  v.IssueType(),
				"drainage":   v.DrainageLabel(),
				"uploadedAt": v.UploadedAt,
				"barangay":   v.SubmitterBarangay,
			},
		})
	}
	return fc
}
