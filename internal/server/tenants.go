package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/rentledger/internal/audit/domain"
	tenantdomain "github.com/smallbiznis/rentledger/internal/tenant/domain"
	"go.uber.org/zap"
)

func (s *Server) CreateTenant(c *gin.Context) {
	var req tenantdomain.CreateTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Plan = strings.TrimSpace(req.Plan)
	req.WhatsAppInstance = strings.TrimSpace(req.WhatsAppInstance)

	resp, err := s.tenantSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.auditSvc != nil {
		if err := s.auditSvc.Record(c.Request.Context(), nil, auditdomain.Entry{
			TenantID:   &resp.ID,
			Action:     "tenant.created",
			TargetType: "tenant",
			TargetID:   resp.ID.String(),
			Metadata: map[string]any{
				"name": resp.Name,
				"slug": resp.Slug,
				"plan": string(resp.Plan),
			},
		}); err != nil {
			s.log.Warn("tenant create audit failed", zap.Error(err))
		}
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) PurgeTenant(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	actor, _ := actorFromGin(c)
	counts, err := s.tenantSvc.Purge(c.Request.Context(), id, actor.Subject)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": counts})
}
