package routes

import (
	ginlog "github.com/gin-contrib/logger"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"gardian_admin/internal/controllers"
	"gardian_admin/internal/middleware"
)

// Deps is everything the router hands to its controllers.
type Deps struct {
	Auth     *controllers.AuthController
	Reports  *controllers.ReportController
	Users    *controllers.UserController
	Pages    *controllers.PageController
	Hub      *controllers.ReportHub
	Sessions middleware.SessionResolver

	BlobDir     string
	BlobPrefix  string
	StaticDir   string
	AccessLog   bool
	MaxUploadMB int64
}

// SetupRouter builds the gin engine with every route group mounted.
func SetupRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if d.AccessLog {
		r.Use(ginlog.SetLogger(
			ginlog.WithUTC(true),
			ginlog.WithSkipPath([]string{"/healthz"}),
			ginlog.WithWriter(logrus.StandardLogger().Out),
		))
	}
	if d.MaxUploadMB > 0 {
		r.MaxMultipartMemory = d.MaxUploadMB << 20
	}

	AuthRoutes(r, d)
	ReportRoutes(r, d)
	AdminRoutes(r, d)
	WebSocketRoutes(r, d)
	PageRoutes(r, d)

	logrus.WithField("routes", len(r.Routes())).Info("Router ready.")
	return r
}
