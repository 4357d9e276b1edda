package interceptors

import (
	"net"
	"strings"

	"github.com/gin-gonic/gin"
)

// clientIP returns the address of the caller, preferring proxy headers over the socket address.
// An empty string means the address could not be determined.
func clientIP(c *gin.Context) string {
	if ip := strings.TrimSpace(c.Request.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	// CloudFront sends "ip:port"
	if viewer := c.Request.Header.Get("CloudFront-Viewer-Address"); viewer != "" {
		if host, _, err := net.SplitHostPort(viewer); err == nil {
			return host
		}
	}
	if forwarded := c.Request.Header.Get("X-Forwarded-For"); forwarded != "" {
		if first := strings.TrimSpace(strings.Split(forwarded, ",")[0]); first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(c.Request.RemoteAddr)
	if err != nil {
		return ""
	}
	return host
}
