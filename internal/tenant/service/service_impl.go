package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	auditdomain "github.com/smallbiznis/rentledger/internal/audit/domain"
	"github.com/smallbiznis/rentledger/internal/tenant/domain"
	"github.com/smallbiznis/rentledger/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Repo     domain.Repository
	AuditSvc auditdomain.Service
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	repo     domain.Repository
	auditSvc auditdomain.Service
}

func NewService(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("tenant.service"),
		genID:    p.GenID,
		repo:     p.Repo,
		auditSvc: p.AuditSvc,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateTenantRequest) (*domain.Tenant, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}

	plan := domain.PlanLite
	if strings.TrimSpace(req.Plan) != "" {
		parsed, ok := domain.ParsePlan(req.Plan)
		if !ok {
			return nil, domain.ErrInvalidPlan
		}
		plan = parsed
	}

	now := time.Now().UTC()
	tenant := domain.Tenant{
		ID:        s.genID.Generate(),
		Name:      name,
		Slug:      slug.Make(name),
		IsActive:  true,
		Plan:      plan,
		Features:  datatypes.JSONMap(req.Features),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if tenant.Features == nil {
		tenant.Features = datatypes.JSONMap{}
	}
	if instance := strings.TrimSpace(req.WhatsAppInstance); instance != "" {
		tenant.WhatsAppInstance = &instance
	}

	if err := s.repo.Create(ctx, &tenant); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrSlugTaken
		}
		return nil, err
	}

	s.log.Info("tenant created",
		zap.String("tenant_id", tenant.ID.String()),
		zap.String("slug", tenant.Slug),
		zap.String("plan", string(plan)),
	)
	return &tenant, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Tenant, error) {
	tenant, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if tenant == nil {
		return nil, domain.ErrTenantNotFound
	}
	return tenant, nil
}

func (s *Service) ListActive(ctx context.Context, tx *gorm.DB) ([]domain.Tenant, error) {
	return s.repoFor(tx).ListActive(ctx)
}

func (s *Service) FindForUpdate(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.Tenant, error) {
	return s.repoFor(tx).FindByIDForUpdate(ctx, id)
}

func (s *Service) ApplyPlanUpgrade(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, plan domain.Plan) (bool, error) {
	if plan.Rank() == 0 {
		return false, domain.ErrInvalidPlan
	}

	repo := s.repoFor(tx)
	tenant, err := repo.FindByIDForUpdate(ctx, tenantID)
	if err != nil {
		return false, err
	}
	if tenant == nil {
		return false, domain.ErrTenantNotFound
	}

	if plan.Rank() <= tenant.Plan.Rank() {
		s.log.Info("plan change ignored",
			zap.String("tenant_id", tenantID.String()),
			zap.String("current_plan", string(tenant.Plan)),
			zap.String("requested_plan", string(plan)),
		)
		return false, nil
	}

	if err := repo.UpdatePlan(ctx, tenantID, plan); err != nil {
		return false, err
	}
	s.log.Info("plan upgraded",
		zap.String("tenant_id", tenantID.String()),
		zap.String("from", string(tenant.Plan)),
		zap.String("to", string(plan)),
	)
	return true, nil
}

func (s *Service) Purge(ctx context.Context, tenantID snowflake.ID, actorID string) (domain.PurgeCounts, error) {
	var counts domain.PurgeCounts
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		tenant, err := repo.FindByIDForUpdate(ctx, tenantID)
		if err != nil {
			return err
		}
		if tenant == nil {
			return domain.ErrTenantNotFound
		}
		if strings.EqualFold(tenant.Slug, domain.MasterSlug) {
			return domain.ErrProtectedTenant
		}

		counts, err = repo.DeleteOwnedRows(ctx, tenantID)
		if err != nil {
			return fmt.Errorf("delete tenant rows: %w", err)
		}

		if s.auditSvc != nil {
			if err := s.auditSvc.Record(ctx, tx, auditdomain.Entry{
				TenantID:   &tenantID,
				ActorType:  auditdomain.ActorTypeUser,
				ActorID:    actorID,
				Action:     "tenant.purged",
				TargetType: "tenant",
				TargetID:   tenantID.String(),
				Metadata: map[string]any{
					"slug":       tenant.Slug,
					"payments":   counts.Payments,
					"charges":    counts.Charges,
					"contracts":  counts.Contracts,
					"properties": counts.Properties,
					"people":     counts.People,
				},
			}); err != nil {
				return err
			}
		}

		if _, err := repo.Delete(ctx, tenantID); err != nil {
			return fmt.Errorf("delete tenant: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.PurgeCounts{}, err
	}

	s.log.Warn("tenant purged",
		zap.String("tenant_id", tenantID.String()),
		zap.String("actor_id", actorID),
		zap.Int64("contracts", counts.Contracts),
		zap.Int64("charges", counts.Charges),
		zap.Int64("payments", counts.Payments),
	)
	return counts, nil
}

func (s *Service) repoFor(tx *gorm.DB) domain.Repository {
	if tx == nil {
		return s.repo
	}
	return s.repo.WithTx(tx)
}
