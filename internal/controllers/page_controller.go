package controllers

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
)

const fallbackShell = `<!doctype html>
<html lang="en">
<head><meta charset="utf-8"><title>GARDIAN Admin</title></head>
<body><div id="root"></div></body>
</html>
`

// PageController serves the dashboard's single-page shell.
type PageController struct {
	StaticDir string
}

// Shell writes index.html from the static build, or a bare shell when no build is deployed.
func (pc *PageController) Shell(c *gin.Context) {
	if pc.StaticDir != "" {
		index := filepath.Join(pc.StaticDir, "index.html")
		if _, err := os.Stat(index); err == nil {
			c.File(index)
			return
		}
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(fallbackShell))
}

// NotFound answers unknown API paths with JSON and sends every other path to the login page.
func (pc *PageController) NotFound(c *gin.Context) {
	p := c.Request.URL.Path
	if p == "/api" || strings.HasPrefix(p, "/api/") || strings.HasPrefix(p, "/ws/") {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.Redirect(http.StatusFound, "/login")
}

// Health reports liveness.
func (pc *PageController) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
