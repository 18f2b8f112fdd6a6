package sse

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Stream writes raw SSE lines in the form:
//
//	data: <token>\n\n
//
// and finishes with:
//
//	data: [DONE]\n\n
//
// This matches the frontend's simple 'data:' line parsing.
func Stream(c *gin.Context, ch <-chan string) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	for msg := range ch {
		// Multi-line tokens: every line needs its own 'data: ' prefix or
		// the client loses content between line breaks. Newlines lost to
		// Split are re-added inside the token except for the last line.
		lines := strings.Split(msg, "\n")
		for i, line := range lines {
			token := line
			if i < len(lines)-1 {
				token += "\n"
			}
			_, _ = c.Writer.Write([]byte("data: " + token + "\n"))
		}
		_, _ = c.Writer.Write([]byte("\n"))
		flusher.Flush()
	}
	_, _ = c.Writer.Write([]byte("data: [DONE]\n\n"))
	flusher.Flush()
}
