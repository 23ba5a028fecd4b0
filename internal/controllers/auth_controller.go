package controllers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"gardian_admin/internal/captcha"
	"gardian_admin/internal/loginflow"
	"gardian_admin/internal/middleware"
	"gardian_admin/internal/session"
)

// AuthController serves the two-factor login flow and the session endpoints.
type AuthController struct {
	Flows        *loginflow.Registry
	Sessions     *session.Store
	CookieSecure bool
}

type credentialsInput struct {
	Email        string `json:"email" binding:"required"`
	Password     string `json:"password" binding:"required"`
	CaptchaToken string `json:"captchaToken"`
}

type codeInput struct {
	Code string `json:"code" binding:"required"`
}

// StartLogin mounts a new login flow.
func (a *AuthController) StartLogin(c *gin.Context) {
	f, err := a.Flows.Start()
	if err != nil {
		logrus.WithError(err).Error("starting login flow failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not start sign-in"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"flow": f.View()})
}

func (a *AuthController) flow(c *gin.Context) (*loginflow.Flow, bool) {
	f, ok := a.Flows.Get(c.Param("flow"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "sign-in expired, please start again"})
		return nil, false
	}
	return f, true
}

// GetLogin returns the flow's current step.
func (a *AuthController) GetLogin(c *gin.Context) {
	f, ok := a.flow(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"flow": f.View()})
}

// SubmitCredentials runs the password step.
func (a *AuthController) SubmitCredentials(c *gin.Context) {
	f, ok := a.flow(c)
	if !ok {
		return
	}
	var input credentialsInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": loginflow.ErrMissingCredentials.Error(), "flow": f.View()})
		return
	}

	err := f.SubmitCredentials(c.Request.Context(), input.Email, input.Password, input.CaptchaToken)
	if errors.Is(err, captcha.ErrExpired) {
		// The challenge was reset in place; the page re-renders it and the user solves it again.
		c.JSON(http.StatusOK, gin.H{"flow": f.View(), "captchaReset": true})
		return
	}
	if err != nil {
		c.JSON(flowErrorStatus(err), gin.H{"error": err.Error(), "flow": f.View()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"flow": f.View()})
}

// SubmitCode runs the code step and, on success, hands the session to the browser.
func (a *AuthController) SubmitCode(c *gin.Context) {
	f, ok := a.flow(c)
	if !ok {
		return
	}
	var input codeInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": loginflow.ErrIncompleteCode.Error(), "flow": f.View()})
		return
	}
	if err := f.SubmitCode(c.Request.Context(), input.Code); err != nil {
		c.JSON(flowErrorStatus(err), gin.H{"error": err.Error(), "flow": f.View()})
		return
	}

	sess := f.Session()
	view := f.View()
	a.Flows.Close(c.Request.Context(), f.ID())
	a.setSessionCookie(c, sess.Token, sess.ExpiresAt)
	c.JSON(http.StatusOK, gin.H{"flow": view, "token": sess.Token, "expiresAt": sess.ExpiresAt, "redirect": "/"})
}

// Resend issues a new code once the cooldown is over.
func (a *AuthController) Resend(c *gin.Context) {
	f, ok := a.flow(c)
	if !ok {
		return
	}
	if err := f.Resend(c.Request.Context()); err != nil {
		c.JSON(flowErrorStatus(err), gin.H{"error": err.Error(), "flow": f.View()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"flow": f.View()})
}

// CancelLogin returns the flow to the password step.
func (a *AuthController) CancelLogin(c *gin.Context) {
	f, ok := a.flow(c)
	if !ok {
		return
	}
	f.Cancel(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"flow": f.View()})
}

// CloseLogin unmounts the flow when the login page goes away.
func (a *AuthController) CloseLogin(c *gin.Context) {
	a.Flows.Close(c.Request.Context(), c.Param("flow"))
	c.Status(http.StatusNoContent)
}

// Logout ends the caller's session.
func (a *AuthController) Logout(c *gin.Context) {
	if token := middleware.SessionToken(c); token != "" {
		if err := a.Sessions.SignOut(c.Request.Context(), token); err != nil {
			logrus.WithError(err).Error("sign-out failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not sign out"})
			return
		}
	}
	a.setSessionCookie(c, "", time.Time{})
	c.JSON(http.StatusOK, gin.H{"message": "signed out"})
}

// CurrentSession describes the signed-in administrator.
func (a *AuthController) CurrentSession(c *gin.Context) {
	st, _ := middleware.CurrentSession(c)
	c.JSON(http.StatusOK, gin.H{"session": st, "user": middleware.CurrentAdmin(c)})
}

func (a *AuthController) setSessionCookie(c *gin.Context, token string, expires time.Time) {
	maxAge := -1
	if token != "" {
		maxAge = int(time.Until(expires).Seconds())
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.SessionCookie, token, maxAge, "/", "", a.CookieSecure, true)
}

func flowErrorStatus(err error) int {
	switch {
	case errors.Is(err, loginflow.ErrMissingCredentials), errors.Is(err, loginflow.ErrIncompleteCode),
		errors.Is(err, loginflow.ErrCaptcha):
		return http.StatusBadRequest
	case errors.Is(err, loginflow.ErrInvalidCredentials), errors.Is(err, loginflow.ErrInvalidCode):
		return http.StatusUnauthorized
	case errors.Is(err, loginflow.ErrAccessDenied), errors.Is(err, loginflow.ErrNoPhone):
		return http.StatusForbidden
	case errors.Is(err, loginflow.ErrCodeExpired):
		return http.StatusGone
	case errors.Is(err, loginflow.ErrCooldown):
		return http.StatusTooManyRequests
	case errors.Is(err, loginflow.ErrWrongState):
		return http.StatusConflict
	case errors.Is(err, loginflow.ErrSendFailed):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
