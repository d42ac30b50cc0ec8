package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	contractdomain "github.com/smallbiznis/rentledger/internal/contract/domain"
	"github.com/smallbiznis/rentledger/pkg/db/pagination"
)

type updateContractRequest struct {
	EndDate                *string          `json:"end_date"`
	MonthlyRent            *decimal.Decimal `json:"monthly_rent"`
	CurrentRent            *decimal.Decimal `json:"current_rent"`
	BaseAmount             *decimal.Decimal `json:"base_amount"`
	AdjustmentType         *string          `json:"adjustment_type"`
	AdjustmentPeriodMonths *int             `json:"adjustment_period_months"`
	Status                 *string          `json:"status"`
	ExpirationNotified     *bool            `json:"expiration_notified"`
}

func (r updateContractRequest) command() (contractdomain.UpdateContractCommand, error) {
	cmd := contractdomain.UpdateContractCommand{
		MonthlyRent:            r.MonthlyRent,
		CurrentRent:            r.CurrentRent,
		BaseAmount:             r.BaseAmount,
		AdjustmentPeriodMonths: r.AdjustmentPeriodMonths,
		ExpirationNotified:     r.ExpirationNotified,
	}
	if r.EndDate != nil {
		endDate, err := parseDate(*r.EndDate)
		if err != nil {
			return cmd, contractdomain.ErrInvalidEndDate
		}
		cmd.EndDate = &endDate
	}
	if r.AdjustmentType != nil {
		t := contractdomain.AdjustmentType(strings.ToUpper(strings.TrimSpace(*r.AdjustmentType)))
		cmd.AdjustmentType = &t
	}
	if r.Status != nil {
		st := contractdomain.Status(strings.ToUpper(strings.TrimSpace(*r.Status)))
		cmd.Status = &st
	}
	return cmd, nil
}

func (s *Server) ListContracts(c *gin.Context) {
	var query struct {
		pagination.Pagination
		Status string `form:"status"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.contractSvc.List(c.Request.Context(), scopeFromGin(c), contractdomain.ListContractRequest{
		Pagination: query.Pagination,
		Status:     contractdomain.Status(strings.ToUpper(strings.TrimSpace(query.Status))),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetContract(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	resp, err := s.contractSvc.Get(c.Request.Context(), scopeFromGin(c), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) UpdateContract(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req updateContractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	cmd, err := req.command()
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.contractSvc.Update(c.Request.Context(), scopeFromGin(c), id, cmd)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func pathID(c *gin.Context) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil || id <= 0 {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return 0, false
	}
	return id, true
}

func parseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, value)
}
