package middleware

import (
	"github.com/aman-churiwal/healthgate/internal/ratelimit"
	"github.com/gin-gonic/gin"
)

// IdentityFunc picks the identity a request is counted under. An empty
// string lets the limiter derive one from the client address.
type IdentityFunc func(c *gin.Context) string

func ByClientIP(*gin.Context) string {
	return ""
}

// ByUser counts authenticated requests per user and falls back to the
// client address for anonymous ones.
func ByUser(c *gin.Context) string {
	return c.GetString(ContextUserID)
}

// RateLimit gates the route on the category's quota. Blocked requests get
// the limiter's 429 verbatim; backend failures let the request through.
func RateLimit(limiter *ratelimit.Facade, category ratelimit.Category, identify IdentityFunc) gin.HandlerFunc {
	if identify == nil {
		identify = ByClientIP
	}

	return func(c *gin.Context) {
		resp := limiter.Check(c.Request.Context(), c.Request, category, identify(c))
		if resp == nil {
			c.Next()
			return
		}

		abortWith(c, resp)
	}
}

// RateLimitHeaders works like RateLimit but also sets the X-RateLimit
// headers on admitted responses. Degraded decisions carry no headers.
func RateLimitHeaders(limiter *ratelimit.Facade, category ratelimit.Category, identify IdentityFunc) gin.HandlerFunc {
	if identify == nil {
		identify = ByClientIP
	}

	return func(c *gin.Context) {
		identity := ratelimit.ResolveIdentity(c.Request, identify(c))
		d := limiter.Decide(c.Request.Context(), category, identity)
		limiter.Record(c.Request, d)

		switch d.Outcome {
		case ratelimit.Blocked:
			abortWith(c, ratelimit.NewResponse(d.Result, limiter.Now()))
			return
		case ratelimit.Allowed:
			now := limiter.Now()
			for k, vs := range ratelimit.Headers(d.Result, now) {
				if k == ratelimit.HeaderRetryAfter {
					continue
				}
				c.Writer.Header()[k] = vs
			}
		}

		c.Next()
	}
}

// The blocking category's headers replace any set by an outer tier
func abortWith(c *gin.Context, resp *ratelimit.Response) {
	for k, vs := range resp.Header {
		c.Writer.Header()[k] = vs
	}
	c.AbortWithStatusJSON(resp.StatusCode, resp.Body)
}
