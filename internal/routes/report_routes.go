package routes

import (
	"gardian_admin/internal/middleware"

	"github.com/gin-gonic/gin"
)

func ReportRoutes(r *gin.Engine, d Deps) {
	api := r.Group("/api")
	api.Use(middleware.RequireAdmin(d.Sessions))
	{
		api.GET("/reports", d.Reports.ListReports)
		api.GET("/reports/summary", d.Reports.Summary)
		api.GET("/reports/geojson", d.Reports.GeoJSON)
		api.GET("/reports/export", d.Reports.Export)
		api.PATCH("/reports/:owner/:id/status", d.Reports.UpdateStatus)
		api.POST("/reports/:owner/:id/resolve", d.Reports.Resolve)
		api.GET("/notifications", d.Reports.Notifications)
		api.GET("/analytics", d.Reports.Analytics)
	}
}
