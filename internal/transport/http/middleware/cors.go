package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// CORSPolicy lists the origins allowed per surface. Admin nil reuses Storefront.
type CORSPolicy struct {
	Storefront []string
	Admin      []string
}

type originSet struct {
	any     bool
	origins map[string]bool
}

func newOriginSet(origins []string) originSet {
	set := originSet{origins: make(map[string]bool, len(origins))}
	for _, origin := range origins {
		if origin == "*" {
			set.any = true
			continue
		}
		set.origins[origin] = true
	}
	return set
}

func (s originSet) allow(origin string) (string, bool) {
	switch {
	case origin == "":
		return "", false
	case s.origins[origin]:
		return origin, true
	case s.any:
		return "*", true
	default:
		return "", false
	}
}

var (
	corsExposed = strings.Join([]string{RequestIDHeader, TraceIDHeader, "Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"}, ",")
	corsAllowed = strings.Join([]string{"Origin", "Content-Type", "Accept", "Authorization", RequestIDHeader, TraceIDHeader, DeviceIDHeader}, ",")
)

// CORS answers cross-origin requests. Admin and relay routes are checked against the admin origins,
// everything else against the storefront origins.
func CORS(policy CORSPolicy) gin.HandlerFunc {
	storefront := newOriginSet(policy.Storefront)
	admin := storefront
	if policy.Admin != nil {
		admin = newOriginSet(policy.Admin)
	}

	return func(c *gin.Context) {
		set := storefront
		// Preflights never match a route, so classify by raw path.
		switch FlowOf(c.Request.URL.Path) {
		case FlowAdmin, FlowRelay:
			set = admin
		}

		c.Header("Vary", "Origin")
		allowed, ok := set.allow(c.GetHeader("Origin"))
		if ok {
			c.Header("Access-Control-Allow-Origin", allowed)
			c.Header("Access-Control-Expose-Headers", corsExposed)
			if allowed != "*" {
				c.Header("Access-Control-Allow-Credentials", "true")
			}
		}

		if c.Request.Method == http.MethodOptions {
			if ok {
				c.Header("Access-Control-Allow-Methods", "GET,POST,PATCH,OPTIONS")
				c.Header("Access-Control-Allow-Headers", corsAllowed)
				c.Header("Access-Control-Max-Age", "86400")
			}
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
