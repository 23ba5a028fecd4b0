package routes

import (
	"path/filepath"
	"strings"

	"gardian_admin/internal/middleware"

	"github.com/gin-gonic/gin"
)

// dashboardPages are the client-side routes behind the administrator guard.
var dashboardPages = []string{"/", "/reports", "/analytics", "/usermanagement", "/feedback"}

func PageRoutes(r *gin.Engine, d Deps) {
	r.GET("/healthz", d.Pages.Health)
	r.GET("/login", d.Pages.Shell)
	r.GET("/signup", d.Pages.Shell)

	if d.StaticDir != "" {
		r.Static("/assets", filepath.Join(d.StaticDir, "assets"))
	}
	if d.BlobDir != "" && strings.HasPrefix(d.BlobPrefix, "/") {
		r.Static(d.BlobPrefix, d.BlobDir)
	}

	pages := r.Group("/")
	pages.Use(middleware.RequireAdminPage(d.Sessions))
	for _, p := range dashboardPages {
		pages.GET(p, d.Pages.Shell)
	}

	r.NoRoute(d.Pages.NotFound)
}
