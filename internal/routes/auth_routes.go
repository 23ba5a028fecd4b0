package routes

import (
	"gardian_admin/internal/middleware"

	"github.com/gin-gonic/gin"
)

func AuthRoutes(r *gin.Engine, d Deps) {
	auth := r.Group("/api/auth")
	{
		auth.POST("/login", d.Auth.StartLogin)
		auth.GET("/login/:flow", d.Auth.GetLogin)
		auth.POST("/login/:flow/credentials", d.Auth.SubmitCredentials)
		auth.POST("/login/:flow/code", d.Auth.SubmitCode)
		auth.POST("/login/:flow/resend", d.Auth.Resend)
		auth.POST("/login/:flow/cancel", d.Auth.CancelLogin)
		auth.DELETE("/login/:flow", d.Auth.CloseLogin)
		auth.POST("/logout", d.Auth.Logout)
		auth.GET("/session", middleware.RequireAdmin(d.Sessions), d.Auth.CurrentSession)
	}
}
