package server

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/rentledger/internal/audit/domain"
	paymentdomain "github.com/smallbiznis/rentledger/internal/payment/domain"
	"go.uber.org/zap"
)

type upgradePlanRequest struct {
	Plan string `json:"plan"`
}

func (s *Server) ListPayments(c *gin.Context) {
	var query paymentdomain.ListPaymentRequest
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.paymentSvc.List(c.Request.Context(), scopeFromGin(c), query)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ChargePreference(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	pref, err := s.paymentSvc.ChargePreference(c.Request.Context(), scopeFromGin(c), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": pref})
}

// UpgradePlanPreference reads the plan from the JSON body or, failing that,
// the new_plan query parameter.
func (s *Server) UpgradePlanPreference(c *gin.Context) {
	var req upgradePlanRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}
	plan := strings.TrimSpace(req.Plan)
	if plan == "" {
		plan = strings.TrimSpace(c.Query("new_plan"))
	}
	if plan == "" {
		AbortWithError(c, newValidationError("plan", "invalid_plan", "plan is required"))
		return
	}

	scope := scopeFromGin(c)
	pref, err := s.paymentSvc.UpgradePreference(c.Request.Context(), scope, plan)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if tenantID, ok := scope.TenantID(); ok && s.auditSvc != nil {
		actor, _ := actorFromGin(c)
		if err := s.auditSvc.Record(c.Request.Context(), nil, auditdomain.Entry{
			TenantID:   &tenantID,
			ActorType:  auditdomain.ActorTypeUser,
			ActorID:    actor.Subject,
			Action:     "tenant.upgrade_requested",
			TargetType: "tenant",
			TargetID:   tenantID.String(),
			Metadata:   map[string]any{"plan": strings.ToLower(plan), "preference_id": pref.ID},
		}); err != nil {
			s.log.Warn("upgrade request audit failed", zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, gin.H{"data": pref})
}

func (s *Server) ExportMovements(c *gin.Context) {
	scope := scopeFromGin(c)
	tenantID, ok := scope.TenantID()
	if !ok {
		AbortWithError(c, ErrForbidden)
		return
	}

	var buf bytes.Buffer
	if err := s.paymentSvc.ExportMovements(c.Request.Context(), scope, &buf); err != nil {
		AbortWithError(c, err)
		return
	}

	filename := fmt.Sprintf("movimientos_%s_%s.csv", tenantID.String(), time.Now().UTC().Format("20060102"))
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}
