package filter

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fluxgate/fluxgate"
	"github.com/fluxgate/fluxgate/rules"
)

// CheckPath is where RegisterRoutes mounts the decision endpoint.
const CheckPath = "/api/ratelimit/check"

// CheckRequest is the decision endpoint's request body. The request
// attributes sit flat beside ruleSetId: {ruleSetId, clientIp, path,
// method, userId?, apiKey?, attributes?, permits?}.
type CheckRequest struct {
	RuleSetID string `json:"ruleSetId"`
	rules.RequestContext
	Permits int64 `json:"permits"`
}

// CheckResponse carries the verdict. The verdict itself is data, so both
// allowed and rejected decisions come back with status 200.
type CheckResponse struct {
	Allowed          bool         `json:"allowed"`
	RemainingTokens  int64        `json:"remainingTokens"`
	RetryAfterMillis int64        `json:"retryAfterMillis"`
	MatchedRule      *MatchedRule `json:"matchedRule,omitempty"`
}

type MatchedRule struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CheckHandler serves rate-limit decisions to callers that enforce the
// verdict themselves, such as sidecars and API gateways.
func CheckHandler(engine *fluxgate.Engine, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		var req CheckRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request: " + err.Error()})
			return
		}
		if req.Permits == 0 {
			req.Permits = 1
		}

		verdict, err := engine.CheckN(c.Request.Context(), req.RuleSetID, req.RequestContext, req.Permits)
		if err != nil {
			switch {
			case errors.Is(err, fluxgate.ErrMissingRuleSet), errors.Is(err, fluxgate.ErrNoRuleSetID):
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			case errors.Is(err, rules.ErrInvalidPermits):
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			default:
				logger.Error("decision endpoint check failed", zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "rate limit check failed"})
			}
			return
		}

		resp := CheckResponse{
			Allowed:         verdict.Allowed,
			RemainingTokens: verdict.Remaining,
		}
		if !verdict.Allowed {
			resp.RetryAfterMillis = verdict.Wait().Milliseconds()
		}
		if verdict.MatchedRule != nil {
			resp.MatchedRule = &MatchedRule{
				ID:   verdict.MatchedRule.ID,
				Name: verdict.MatchedRule.Name,
			}
		}
		c.JSON(http.StatusOK, resp)
	}
}

// RegisterRoutes mounts the decision endpoint on a gin router.
func RegisterRoutes(router gin.IRouter, engine *fluxgate.Engine, logger *zap.Logger) {
	router.POST(CheckPath, CheckHandler(engine, logger))
}
