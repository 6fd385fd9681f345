// Package response defines the JSON envelope returned by all HTTP handlers.
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Body is the uniform response envelope.
type Body struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Success writes a 200 envelope with data.
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Body{Code: 0, Message: "ok", Data: data})
}

// Error writes a 500 envelope with the given message.
func Error(c *gin.Context, message string) {
	ErrorWithStatus(c, http.StatusInternalServerError, message)
}

// ErrorWithStatus writes an envelope with an explicit HTTP status.
func ErrorWithStatus(c *gin.Context, status int, message string) {
	c.JSON(status, Body{Code: status, Message: message})
}
