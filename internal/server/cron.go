package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/rentledger/internal/scheduler"
	"go.uber.org/zap"
)

const headerCronSecret = "X-Cron-Secret"

type dailyCheckResponse struct {
	OK                 bool     `json:"ok"`
	RunID              string   `json:"run_id,omitempty"`
	ExpirationSent     int      `json:"expiration_sent"`
	AdjustmentsApplied int      `json:"adjustments_applied"`
	ChargesGenerated   int      `json:"charges_generated"`
	Errors             []string `json:"errors"`
}

func newDailyCheckResponse(ok bool, summary scheduler.Summary) dailyCheckResponse {
	errs := summary.Errors
	if errs == nil {
		errs = []string{}
	}
	return dailyCheckResponse{
		OK:                 ok,
		RunID:              summary.RunID,
		ExpirationSent:     summary.ExpirationSent,
		AdjustmentsApplied: summary.AdjustmentsApplied,
		ChargesGenerated:   summary.ChargesGenerated,
		Errors:             errs,
	}
}

// RunDailyCheck is the external cron trigger for the billing day.
func (s *Server) RunDailyCheck(c *gin.Context) {
	secret := strings.TrimSpace(s.cfg.CronSecret)
	if secret == "" {
		s.log.Error("cron secret is not configured")
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	provided := strings.TrimSpace(c.GetHeader(headerCronSecret))
	if provided == "" {
		provided = strings.TrimSpace(c.Query("token"))
	}
	if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
		AbortWithError(c, ErrForbidden)
		return
	}

	// the run outlives a client that hangs up
	ctx := context.WithoutCancel(c.Request.Context())
	summary, err := s.dailyCheck.DailyCheck(ctx)
	switch {
	case errors.Is(err, scheduler.ErrRunInProgress):
		// another replica is running today's check
		summary.Errors = append(summary.Errors, err.Error())
		c.JSON(http.StatusOK, newDailyCheckResponse(false, summary))
	case err != nil:
		s.log.Error("daily check failed", zap.Error(err), zap.String("run_id", summary.RunID))
		c.JSON(http.StatusInternalServerError, newDailyCheckResponse(false, summary))
	default:
		c.JSON(http.StatusOK, newDailyCheckResponse(true, summary))
	}
}
