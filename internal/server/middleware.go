package server

import (
	"auction-engine/utils"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const requestIDHeader = "X-Request-ID"

// RequestLoggerMiddleware tags each request with an ID and logs it with timing.
// Server errors are logged at error level.
func RequestLoggerMiddleware(c *gin.Context) {
	start := time.Now()

	requestID := c.GetHeader(requestIDHeader)
	if requestID == "" {
		requestID = utils.GenerateID()
	}
	c.Set("request_id", requestID)
	c.Header(requestIDHeader, requestID)

	c.Next() // process request

	fields := map[string]any{
		"request_id": requestID,
		"method":     c.Request.Method,
		"path":       c.FullPath(),
		"status":     c.Writer.Status(),
		"client_ip":  c.ClientIP(),
		"latency":    time.Since(start).String(),
	}
	if c.Writer.Status() >= http.StatusInternalServerError {
		utils.Error("HTTP Request", fields)
		return
	}
	utils.Info("HTTP Request", fields)
}
