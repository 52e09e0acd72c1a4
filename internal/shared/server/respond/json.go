package respond

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Job documents change between polls.
const cacheControl = "no-store"

// Status writes payload with an explicit status code.
func Status(c *gin.Context, status int, payload any) {
	c.Header("Cache-Control", cacheControl)
	c.JSON(status, payload)
}

// OK writes a 200 response.
func OK(c *gin.Context, payload any) {
	Status(c, http.StatusOK, payload)
}

// Accepted acknowledges queued work; location names where to poll for it.
func Accepted(c *gin.Context, location string, payload any) {
	if location != "" {
		c.Header("Location", location)
	}
	Status(c, http.StatusAccepted, payload)
}
