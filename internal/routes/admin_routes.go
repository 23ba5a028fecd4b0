package routes

import (
	"gardian_admin/internal/middleware"

	"github.com/gin-gonic/gin"
)

func AdminRoutes(r *gin.Engine, d Deps) {
	users := r.Group("/api/users")
	users.Use(middleware.RequireAdmin(d.Sessions))
	{
		users.GET("", d.Users.ListUsers)
		users.POST("", d.Users.CreateUser)
		users.PATCH("/:id", d.Users.UpdateUser)
		users.DELETE("/:id", d.Users.DeleteUser)
	}
}
