package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/rentledger/internal/audit/domain"
	"github.com/smallbiznis/rentledger/internal/billingcycle"
	"github.com/smallbiznis/rentledger/internal/contract/domain"
	"github.com/smallbiznis/rentledger/pkg/db/option"
	"github.com/smallbiznis/rentledger/pkg/db/pagination"
	"github.com/smallbiznis/rentledger/pkg/repository"
	"github.com/smallbiznis/rentledger/pkg/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	AuditSvc auditdomain.Service `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	auditSvc auditdomain.Service
}

func NewService(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("contract.service"),
		auditSvc: p.AuditSvc,
	}
}

func (s *Service) List(ctx context.Context, scope tenantctx.Scope, req domain.ListContractRequest) (domain.ListContractResponse, error) {
	limit := req.Limit()
	opts := []option.QueryOption{
		option.WithSortBy("id", "asc"),
		option.WithLimit(limit + 1),
	}
	if req.Status != "" {
		if !req.Status.Valid() {
			return domain.ListContractResponse{}, domain.ErrInvalidStatus
		}
		opts = append(opts, option.WithWhere("status = ?", req.Status))
	}
	if token := strings.TrimSpace(req.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return domain.ListContractResponse{}, domain.ErrInvalidPageToken
		}
		after, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return domain.ListContractResponse{}, domain.ErrInvalidPageToken
		}
		opts = append(opts, option.WithWhere("id > ?", after))
	}

	items, err := s.contracts(s.db, scope).Find(ctx, nil, opts...)
	if err != nil {
		return domain.ListContractResponse{}, err
	}

	items, pageInfo := pagination.Trim(items, limit, func(c *domain.Contract) string {
		return c.ID.String()
	})
	contracts := make([]domain.Contract, 0, len(items))
	for _, item := range items {
		contracts = append(contracts, *item)
	}
	return domain.ListContractResponse{PageInfo: pageInfo, Contracts: contracts}, nil
}

func (s *Service) Get(ctx context.Context, scope tenantctx.Scope, id snowflake.ID) (*domain.Contract, error) {
	contract, err := s.contracts(s.db, scope).FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if contract == nil {
		return nil, domain.ErrContractNotFound
	}
	return contract, nil
}

func (s *Service) Update(ctx context.Context, scope tenantctx.Scope, id snowflake.ID, cmd domain.UpdateContractCommand) (*domain.Contract, error) {
	repo := s.contracts(s.db, scope)
	current, err := repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, domain.ErrContractNotFound
	}

	values, fields, err := buildUpdate(current, cmd)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, domain.ErrEmptyUpdate
	}
	values["updated_at"] = time.Now().UTC()

	updated, err := repo.Update(ctx, id, values)
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, domain.ErrContractNotFound
	}

	if s.auditSvc != nil {
		tenantID, _ := scope.TenantID()
		if err := s.auditSvc.Record(ctx, nil, auditdomain.Entry{
			TenantID:   &tenantID,
			Action:     "contract.updated",
			TargetType: "contract",
			TargetID:   id.String(),
			Metadata:   map[string]any{"fields": fields},
		}); err != nil {
			s.log.Warn("contract update audit failed", zap.String("contract_id", id.String()), zap.Error(err))
		}
	}

	return s.Get(ctx, scope, id)
}

func (s *Service) ListActive(ctx context.Context, tx *gorm.DB, scope tenantctx.Scope) ([]*domain.Contract, error) {
	return s.contracts(tx, scope).Find(ctx, nil,
		option.WithWhere("status = ?", domain.StatusActive),
		option.WithSortBy("id", "asc"),
	)
}

func (s *Service) ApplyAdjustment(ctx context.Context, tx *gorm.DB, scope tenantctx.Scope, id snowflake.ID, amount decimal.Decimal, on time.Time) error {
	if amount.IsNegative() {
		return domain.ErrInvalidAmount
	}
	adjustedOn := billingcycle.DateOf(on, time.UTC)
	updated, err := s.contracts(tx, scope).Update(ctx, id, map[string]any{
		"current_rent":         amount,
		"base_amount":          amount,
		"last_adjustment_date": adjustedOn,
		"updated_at":           time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	if !updated {
		return domain.ErrContractNotFound
	}
	return nil
}

func (s *Service) MarkExpirationNotified(ctx context.Context, tx *gorm.DB, scope tenantctx.Scope, id snowflake.ID) error {
	updated, err := s.contracts(tx, scope).Update(ctx, id, map[string]any{
		"expiration_notified": true,
		"updated_at":          time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	if !updated {
		return domain.ErrContractNotFound
	}
	return nil
}

func (s *Service) Contact(ctx context.Context, tx *gorm.DB, scope tenantctx.Scope, contract *domain.Contract) (domain.Contact, error) {
	if contract == nil {
		return domain.Contact{}, domain.ErrContractNotFound
	}
	db := s.dbFor(tx)

	person, err := repository.ForTenant[domain.Person](db, s.log, scope).FindByID(ctx, contract.PersonID)
	if err != nil {
		return domain.Contact{}, err
	}
	property, err := repository.ForTenant[domain.Property](db, s.log, scope).FindByID(ctx, contract.PropertyID)
	if err != nil {
		return domain.Contact{}, err
	}
	return domain.Contact{Person: person, Property: property}, nil
}

func (s *Service) contracts(tx *gorm.DB, scope tenantctx.Scope) repository.ScopedRepository[domain.Contract] {
	return repository.ForTenant[domain.Contract](s.dbFor(tx), s.log, scope)
}

func (s *Service) dbFor(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return s.db
	}
	return tx
}

func buildUpdate(current *domain.Contract, cmd domain.UpdateContractCommand) (map[string]any, []string, error) {
	values := map[string]any{}
	fields := []string{}
	set := func(column string, value any) {
		values[column] = value
		fields = append(fields, column)
	}

	if cmd.EndDate != nil {
		end := billingcycle.DateOf(*cmd.EndDate, time.UTC)
		if end.Before(billingcycle.DateOf(current.StartDate, time.UTC)) {
			return nil, nil, domain.ErrInvalidEndDate
		}
		set("end_date", end)
	}
	if cmd.MonthlyRent != nil {
		if cmd.MonthlyRent.IsNegative() {
			return nil, nil, domain.ErrInvalidAmount
		}
		set("monthly_rent", cmd.MonthlyRent.Round(2))
	}
	if cmd.CurrentRent != nil {
		if cmd.CurrentRent.IsNegative() {
			return nil, nil, domain.ErrInvalidAmount
		}
		set("current_rent", cmd.CurrentRent.Round(2))
	}
	if cmd.BaseAmount != nil {
		if cmd.BaseAmount.IsNegative() {
			return nil, nil, domain.ErrInvalidAmount
		}
		set("base_amount", cmd.BaseAmount.Round(2))
	}
	if cmd.AdjustmentType != nil {
		if !cmd.AdjustmentType.Valid() {
			return nil, nil, domain.ErrInvalidAdjustment
		}
		set("adjustment_type", *cmd.AdjustmentType)
	}
	if cmd.AdjustmentPeriodMonths != nil {
		if *cmd.AdjustmentPeriodMonths <= 0 {
			return nil, nil, domain.ErrInvalidPeriod
		}
		set("adjustment_period_months", *cmd.AdjustmentPeriodMonths)
	}
	if cmd.Status != nil {
		if !cmd.Status.Valid() {
			return nil, nil, domain.ErrInvalidStatus
		}
		set("status", *cmd.Status)
	}
	if cmd.ExpirationNotified != nil {
		set("expiration_notified", *cmd.ExpirationNotified)
	}
	return values, fields, nil
}
