package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/rentledger/internal/audit/domain"
	chargedomain "github.com/smallbiznis/rentledger/internal/charge/domain"
	"go.uber.org/zap"
)

type generateChargesRequest struct {
	Month int `json:"month"`
	Year  int `json:"year"`
}

func (s *Server) ListCharges(c *gin.Context) {
	var query chargedomain.ListChargeRequest
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	query.Period = strings.TrimSpace(query.Period)

	resp, err := s.chargeSvc.List(c.Request.Context(), scopeFromGin(c), query)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GenerateCharges(c *gin.Context) {
	var req generateChargesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	scope := scopeFromGin(c)
	tenantID, ok := scope.TenantID()
	if !ok {
		AbortWithError(c, ErrForbidden)
		return
	}

	created, err := s.chargeSvc.Generate(c.Request.Context(), tenantID, req.Month, req.Year)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.auditSvc != nil {
		period := fmt.Sprintf("%04d-%02d", req.Year, req.Month)
		if err := s.auditSvc.Record(c.Request.Context(), nil, auditdomain.Entry{
			TenantID:   &tenantID,
			Action:     "charges.generated",
			TargetType: "charge_period",
			TargetID:   period,
			Metadata:   map[string]any{"created": created},
		}); err != nil {
			s.log.Warn("charge generation audit failed", zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"created": created}})
}

func (s *Server) ChargeReceipt(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	pdf, err := s.chargeSvc.Receipt(c.Request.Context(), scopeFromGin(c), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`inline; filename="recibo-%s.pdf"`, id.String()))
	c.Data(http.StatusOK, "application/pdf", pdf)
}
