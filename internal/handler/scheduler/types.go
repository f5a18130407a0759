// Package scheduler exposes the sync scheduler over HTTP.
package scheduler

import "github.com/gin-gonic/gin"

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func fail(c *gin.Context, code int, kind, message string) {
	c.JSON(code, ErrorResponse{Error: kind, Message: message, Code: code})
}
