package handlers

import (
	"net/http"
	"strings"

	"aquasync/internal/service"

	"github.com/gin-gonic/gin"
)

// Gin context keys set by accountMiddleware.
const (
	ctxUserID    = "userId"
	ctxAccountID = "accountId"
)

// accountMiddleware authenticates the dashboard and pins the request to the token's account.
// Browsers cannot set headers on a websocket upgrade, so ?token= is accepted when the header is absent.
func (h *Handler) accountMiddleware(c *gin.Context) {
	token, msg := bearerToken(c)
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": msg,
		})
		return
	}

	id, err := h.services.ParseToken(token)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "invalid or expired token",
		})
		return
	}

	// store in Gin context
	c.Set(ctxUserID, id.UserID)
	c.Set(ctxAccountID, id.AccountID)
	c.Next()
}

func bearerToken(c *gin.Context) (token, problem string) {
	header := c.GetHeader("Authorization")
	if header == "" {
		if q := c.Query("token"); q != "" {
			return q, ""
		}
		return "", "missing Authorization header"
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
		return "", "invalid Authorization header format"
	}
	return parts[1], ""
}

// accountOf returns the account pinned by accountMiddleware.
func accountOf(c *gin.Context) string {
	return c.GetString(ctxAccountID)
}

func actorOf(c *gin.Context) string {
	return service.DashboardActor(c.GetString(ctxUserID))
}
