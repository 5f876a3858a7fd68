// Package filter puts the rate limit engine in front of HTTP traffic: a
// gin middleware that checks each request and a decision endpoint for
// callers that enforce limits themselves.
package filter

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/fluxgate/fluxgate"
	"github.com/fluxgate/fluxgate/rules"
)

// Header names set on filtered responses.
const (
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderRetryAfter = "Retry-After"
)

// Default identity headers the middleware reads when no customizer
// overrides them.
const (
	HeaderUserID = "X-User-Id"
	HeaderAPIKey = "X-Api-Key"
)

// Options tunes the middleware. The zero value filters every path against
// the engine's default rule-set.
type Options struct {
	// RuleSetID names the rule-set to check; empty falls back to the
	// engine's configured default.
	RuleSetID string
	// IncludePatterns are ant-style path patterns the filter applies to.
	// Empty means all paths.
	IncludePatterns []string
	// ExcludePatterns are ant-style path patterns the filter skips.
	// Exclusion wins over inclusion.
	ExcludePatterns []string
	// Customizer runs after the default request context is built, letting
	// callers plug in their authentication scheme.
	Customizer func(c *gin.Context, reqCtx *rules.RequestContext)
	// Logger for filter-level failures; nil discards.
	Logger *zap.Logger
}

// Middleware enforces the engine's verdicts on gin requests. For rules
// with the wait policy it parks the request until the bucket refills,
// bounded by the configured wait budget and concurrency cap.
type Middleware struct {
	engine  *fluxgate.Engine
	options Options
	logger  *zap.Logger

	maxWait time.Duration
	waiters *semaphore.Weighted
}

// NewMiddleware builds the filter around an engine.
func NewMiddleware(engine *fluxgate.Engine, options Options) *Middleware {
	if options.Logger == nil {
		options.Logger = zap.NewNop()
	}
	m := &Middleware{
		engine:  engine,
		options: options,
		logger:  options.Logger,
	}
	wait := engine.Config().RateLimit.WaitForRefill
	if wait.Enabled && wait.MaxWaitTimeMs > 0 {
		m.maxWait = time.Duration(wait.MaxWaitTimeMs) * time.Millisecond
		slots := wait.MaxConcurrentWaits
		if slots <= 0 {
			slots = 100
		}
		m.waiters = semaphore.NewWeighted(int64(slots))
	}
	return m
}

// Handler returns the gin handler chain entry.
func (m *Middleware) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.applies(c.Request.URL.Path) {
			c.Next()
			return
		}

		reqCtx := m.buildContext(c)
		verdict, err := m.engine.Check(c.Request.Context(), m.options.RuleSetID, reqCtx)
		if err != nil {
			// the limiter must never take the service down with it
			m.logger.Error("rate limit check failed, admitting request",
				zap.String("path", c.Request.URL.Path), zap.Error(err))
			c.Next()
			return
		}

		if !verdict.Allowed && m.shouldWait(verdict) {
			verdict = m.waitAndRetry(c, reqCtx, verdict)
		}

		remaining := verdict.Remaining
		if remaining < 0 {
			remaining = 0
		}
		c.Header(HeaderRemaining, strconv.FormatInt(remaining, 10))
		if verdict.Allowed {
			c.Next()
			return
		}

		retryAfter := verdict.RetryAfter()
		c.Header(HeaderRetryAfter, strconv.FormatInt(retryAfter, 10))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":      "Rate limit exceeded",
			"retryAfter": retryAfter,
		})
	}
}

func (m *Middleware) applies(path string) bool {
	for _, pattern := range m.options.ExcludePatterns {
		if MatchPath(pattern, path) {
			return false
		}
	}
	if len(m.options.IncludePatterns) == 0 {
		return true
	}
	for _, pattern := range m.options.IncludePatterns {
		if MatchPath(pattern, path) {
			return true
		}
	}
	return false
}

func (m *Middleware) buildContext(c *gin.Context) rules.RequestContext {
	reqCtx := rules.RequestContext{
		ClientIP: c.ClientIP(),
		UserID:   c.GetHeader(HeaderUserID),
		APIKey:   c.GetHeader(HeaderAPIKey),
		Endpoint: c.Request.URL.Path,
		Method:   c.Request.Method,
	}
	if m.options.Customizer != nil {
		m.options.Customizer(c, &reqCtx)
	}
	return reqCtx
}

func (m *Middleware) shouldWait(verdict rules.Verdict) bool {
	if m.waiters == nil || verdict.MatchedRule == nil {
		return false
	}
	if verdict.MatchedRule.OnLimitExceed != rules.WaitForRefill {
		return false
	}
	return verdict.Wait() > 0 && verdict.Wait() <= m.maxWait
}

// waitAndRetry parks the request until the bucket should have refilled,
// then checks exactly once more. When the wait pool is full the original
// rejection stands.
func (m *Middleware) waitAndRetry(c *gin.Context, reqCtx rules.RequestContext, verdict rules.Verdict) rules.Verdict {
	if !m.waiters.TryAcquire(1) {
		return verdict
	}
	defer m.waiters.Release(1)

	timer := time.NewTimer(verdict.Wait())
	defer timer.Stop()
	select {
	case <-c.Request.Context().Done():
		return verdict
	case <-timer.C:
	}

	retried, err := m.engine.Check(c.Request.Context(), m.options.RuleSetID, reqCtx)
	if err != nil {
		m.logger.Warn("post-wait rate limit check failed",
			zap.String("path", c.Request.URL.Path), zap.Error(err))
		return verdict
	}
	return retried
}
