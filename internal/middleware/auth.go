package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"ssepush-lite/internal/auth"
	"ssepush-lite/internal/rest"
)

const (
	installationIDContextKey = "installationID"
	masterContextKey         = "master"
)

// AppKeys authenticate REST calls.
type AppKeys struct {
	AppID     string
	AppKey    string
	MasterKey string
}

func InstallationIDFromContext(c *gin.Context) (string, bool) {
	id, ok := c.Get(installationIDContextKey)
	if !ok {
		return "", false
	}
	value, ok := id.(string)
	return value, ok && value != ""
}

// IsMaster reports whether the request was made with the master key.
func IsMaster(c *gin.Context) bool {
	return c.GetBool(masterContextKey)
}

// RequireApp accepts the application key or the master key.
func RequireApp(keys AppKeys) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !equal(c.GetHeader(rest.HeaderAppID), keys.AppID) {
			abort(c, http.StatusUnauthorized, "Invalid application")
			return
		}
		key := c.GetHeader(rest.HeaderAppKey)
		switch {
		case keys.MasterKey != "" && equal(key, keys.MasterKey):
			c.Set(masterContextKey, true)
		case equal(key, keys.AppKey):
		default:
			abort(c, http.StatusUnauthorized, "Invalid application key")
			return
		}
		c.Next()
	}
}

// RequireMaster must follow RequireApp.
func RequireMaster() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsMaster(c) {
			abort(c, http.StatusForbidden, "Master key required")
			return
		}
		c.Next()
	}
}

// RequireStreamAuth checks basic auth credentials issued by auth.IssueCredentials.
func RequireStreamAuth(cfg auth.TokenConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		username, password, ok := c.Request.BasicAuth()
		if !ok || username == "" {
			c.Header("WWW-Authenticate", `Basic realm="push"`)
			abort(c, http.StatusUnauthorized, "Invalid credentials")
			return
		}

		claims, err := auth.VerifyToken(password, cfg)
		if err != nil || claims.InstallationID != username {
			abort(c, http.StatusUnauthorized, "Invalid credentials")
			return
		}

		c.Set(installationIDContextKey, claims.InstallationID)
		c.Next()
	}
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func abort(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"error": msg})
	c.Abort()
}
