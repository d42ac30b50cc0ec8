package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/rentledger/internal/billingcycle"
	"github.com/smallbiznis/rentledger/internal/charge/domain"
	"github.com/smallbiznis/rentledger/internal/config"
	contractdomain "github.com/smallbiznis/rentledger/internal/contract/domain"
	"github.com/smallbiznis/rentledger/internal/notification"
	"github.com/smallbiznis/rentledger/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/rentledger/internal/payment/domain"
	"github.com/smallbiznis/rentledger/internal/providers/pdf"
	tenantdomain "github.com/smallbiznis/rentledger/internal/tenant/domain"
	"github.com/smallbiznis/rentledger/pkg/db"
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

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	ContractSvc contractdomain.Service
	TenantSvc   tenantdomain.Service
	Billing     *config.BillingConfigHolder
	PDF         pdf.Provider     `optional:"true"`
	Metrics     *metrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	contractSvc contractdomain.Service
	tenantSvc   tenantdomain.Service
	billing     *config.BillingConfigHolder
	pdf         pdf.Provider
	metrics     *metrics.Metrics
}

func NewService(p Params) domain.Service {
	renderer := p.PDF
	if renderer == nil {
		renderer = &pdf.NoOpProvider{}
	}
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("charge.service"),
		genID:       p.GenID,
		contractSvc: p.ContractSvc,
		tenantSvc:   p.TenantSvc,
		billing:     p.Billing,
		pdf:         renderer,
		metrics:     p.Metrics,
	}
}

func (s *Service) Generate(ctx context.Context, tenantID snowflake.ID, month, year int) (int, error) {
	scope := tenantctx.ForJob(tenantID)
	var created int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		count, err := s.GenerateTx(ctx, tx, scope, month, year)
		if err != nil {
			return err
		}
		created = count
		return nil
	})
	if err != nil {
		return 0, err
	}
	return created, nil
}

func (s *Service) GenerateTx(ctx context.Context, tx *gorm.DB, scope tenantctx.Scope, month, year int) (int, error) {
	period, err := billingcycle.Period(month, year)
	if err != nil {
		return 0, domain.ErrInvalidPeriod
	}
	if !scope.Bound() {
		return 0, repository.ErrScopeUnset
	}

	contracts, err := s.contractSvc.ListActive(ctx, tx, scope)
	if err != nil {
		return 0, err
	}

	dueDate := billingcycle.DueDate(month, year, s.billing.Get().ChargeDueDay)
	repo := s.charges(tx, scope)
	now := time.Now().UTC()

	created := 0
	for _, contract := range contracts {
		charge := &domain.Charge{
			ID:          s.genID.Generate(),
			ContractID:  contract.ID,
			Period:      period,
			Description: domain.Describe(month, year),
			Amount:      contract.EffectiveRent().Round(2),
			DueDate:     dueDate,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		inserted, err := repo.CreateIfAbsent(ctx, charge, "contract_id", "period")
		if err != nil {
			return created, fmt.Errorf("create charge for contract %s: %w", contract.ID, err)
		}
		if inserted {
			created++
		}
	}

	s.log.Info("charges generated",
		zap.String("tenant_id", scope.String()),
		zap.String("period", period),
		zap.Int("contracts", len(contracts)),
		zap.Int("created", created),
	)
	s.metrics.RecordChargesGenerated(ctx, created)
	return created, nil
}

func (s *Service) List(ctx context.Context, scope tenantctx.Scope, req domain.ListChargeRequest) (domain.ListChargeResponse, error) {
	limit := req.Limit()
	opts := []option.QueryOption{
		option.WithSortBy("id", "desc"),
		option.WithLimit(limit + 1),
	}
	if period := strings.TrimSpace(req.Period); period != "" {
		if _, err := time.Parse("2006-01", period); err != nil {
			return domain.ListChargeResponse{}, domain.ErrInvalidPeriod
		}
		opts = append(opts, option.WithWhere("period = ?", period))
	}
	if req.IsPaid != nil {
		opts = append(opts, option.WithWhere("is_paid = ?", *req.IsPaid))
	}
	if token := strings.TrimSpace(req.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return domain.ListChargeResponse{}, domain.ErrInvalidPageToken
		}
		before, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return domain.ListChargeResponse{}, domain.ErrInvalidPageToken
		}
		opts = append(opts, option.WithWhere("id < ?", before))
	}

	items, err := s.charges(nil, scope).Find(ctx, nil, opts...)
	if err != nil {
		return domain.ListChargeResponse{}, err
	}

	items, pageInfo := pagination.Trim(items, limit, func(c *domain.Charge) string {
		return c.ID.String()
	})
	charges := make([]domain.Charge, 0, len(items))
	for _, item := range items {
		charges = append(charges, *item)
	}
	return domain.ListChargeResponse{PageInfo: pageInfo, Charges: charges}, nil
}

func (s *Service) Get(ctx context.Context, scope tenantctx.Scope, id snowflake.ID) (*domain.Charge, error) {
	charge, err := s.charges(nil, scope).FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if charge == nil {
		return nil, domain.ErrChargeNotFound
	}
	return charge, nil
}

func (s *Service) Receipt(ctx context.Context, scope tenantctx.Scope, id snowflake.ID) ([]byte, error) {
	charge, err := s.Get(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	if !charge.IsPaid {
		return nil, domain.ErrChargeNotPaid
	}

	tenantID, _ := scope.TenantID()
	tenant, err := s.tenantSvc.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	contract, err := s.contractSvc.Get(ctx, scope, charge.ContractID)
	if err != nil {
		return nil, err
	}
	contact, err := s.contractSvc.Contact(ctx, nil, scope, contract)
	if err != nil {
		return nil, err
	}

	method, err := s.paymentMethod(ctx, scope, charge.ID)
	if err != nil {
		return nil, err
	}

	data := pdf.ReceiptData{
		TenantName:    tenant.Name,
		ReceiptNumber: charge.ID.String(),
		Period:        charge.Period,
		Description:   charge.Description,
		Amount:        notification.FormatAmount(charge.Amount),
		DueDate:       notification.FormatDate(charge.DueDate),
		Method:        method,
	}
	if charge.PaidAt != nil {
		data.PaidAt = notification.FormatDate(*charge.PaidAt)
	}
	if contact.Person != nil {
		data.PayerName = contact.Person.FullName
	}
	if contact.Property != nil {
		data.PropertyAddress = contact.Property.Address
	}

	return s.pdf.GenerateReceipt(ctx, data)
}

func (s *Service) FindForSettlement(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.Charge, error) {
	var charge domain.Charge
	err := db.ForUpdate(s.dbFor(tx).WithContext(ctx)).
		Where("id = ?", id).
		Take(&charge).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &charge, nil
}

func (s *Service) MarkPaid(ctx context.Context, tx *gorm.DB, scope tenantctx.Scope, id snowflake.ID, paidAt time.Time) (bool, error) {
	// the is_paid predicate makes a concurrent second settlement a no-op
	res := s.dbFor(tx).WithContext(ctx).Model(&domain.Charge{}).
		Where("id = ? AND is_paid = ?", id, false).
		Scopes(tenantPredicate(scope)).
		Updates(map[string]any{
			"is_paid":    true,
			"paid_at":    paidAt.UTC(),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Service) paymentMethod(ctx context.Context, scope tenantctx.Scope, chargeID snowflake.ID) (string, error) {
	payment, err := repository.ForTenant[paymentdomain.Payment](s.db, s.log, scope).FindOne(ctx, nil,
		option.WithWhere("charge_id = ?", chargeID),
		option.WithSortBy("created_at", "desc"),
	)
	if err != nil || payment == nil {
		return "", err
	}
	return string(payment.Method), nil
}

func (s *Service) charges(tx *gorm.DB, scope tenantctx.Scope) repository.ScopedRepository[domain.Charge] {
	return repository.ForTenant[domain.Charge](s.dbFor(tx), s.log, scope)
}

func (s *Service) dbFor(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return s.db
	}
	return tx
}

// tenantPredicate restricts a statement to the scope's tenant. An unbound
// scope matches nothing.
func tenantPredicate(scope tenantctx.Scope) func(*gorm.DB) *gorm.DB {
	return func(stmt *gorm.DB) *gorm.DB {
		tenantID, ok := scope.TenantID()
		if !ok {
			return stmt.Where("1 = 0")
		}
		return stmt.Where("tenant_id = ?", tenantID)
	}
}
