package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/rentledger/internal/audit/domain"
	chargedomain "github.com/smallbiznis/rentledger/internal/charge/domain"
	"github.com/smallbiznis/rentledger/internal/config"
	obsmetrics "github.com/smallbiznis/rentledger/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/rentledger/internal/payment/domain"
	tenantdomain "github.com/smallbiznis/rentledger/internal/tenant/domain"
	"github.com/smallbiznis/rentledger/pkg/repository"
	"github.com/smallbiznis/rentledger/pkg/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Gateway    paymentdomain.Gateway
	Checkout   paymentdomain.Checkout `optional:"true"`
	Repo       paymentdomain.Repository
	ChargeSvc  chargedomain.Service
	TenantSvc  tenantdomain.Service
	AuditSvc   auditdomain.Service
	Billing    *config.BillingConfigHolder
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	gateway    paymentdomain.Gateway
	checkout   paymentdomain.Checkout
	repo       paymentdomain.Repository
	chargeSvc  chargedomain.Service
	tenantSvc  tenantdomain.Service
	auditSvc   auditdomain.Service
	billing    *config.BillingConfigHolder
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.service"),
		genID:      p.GenID,
		gateway:    p.Gateway,
		checkout:   p.Checkout,
		repo:       p.Repo,
		chargeSvc:  p.ChargeSvc,
		tenantSvc:  p.TenantSvc,
		auditSvc:   p.AuditSvc,
		billing:    p.Billing,
		obsMetrics: p.ObsMetrics,
	}
}

// errAlreadyRecorded rolls back a delivery whose transaction id was stored
// by a concurrent delivery between the gate and the insert.
var errAlreadyRecorded = errors.New("payment_already_recorded")

const (
	outcomeApplied   = "applied"
	outcomeDuplicate = "duplicate"
	outcomeIgnored   = "ignored"
	outcomeUnknown   = "unknown_reference"
	outcomeFailed    = "failed"
)

func (s *Service) Reconcile(ctx context.Context, paymentID string) error {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return paymentdomain.ErrInvalidPaymentID
	}
	log := s.log.With(zap.String("payment_id", paymentID))

	gp, err := s.gateway.FetchPayment(ctx, paymentID)
	if err != nil {
		log.Warn("gateway fetch failed", zap.Error(err))
		s.record(ctx, outcomeFailed)
		return err
	}
	if !gp.Approved() {
		log.Info("payment not approved, skipping", zap.String("status", gp.Status))
		s.record(ctx, outcomeIgnored)
		return nil
	}

	ref := paymentdomain.ParseReference(gp.ExternalReference)
	outcome := outcomeApplied
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindByExternalID(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		if existing != nil {
			outcome = outcomeDuplicate
			return nil
		}

		switch ref.Kind {
		case paymentdomain.ReferenceCharge:
			applied, err := s.settleCharge(ctx, tx, paymentID, gp, ref)
			if err != nil {
				return err
			}
			if !applied {
				outcome = outcomeIgnored
			}
			return nil
		case paymentdomain.ReferenceUpgrade:
			return s.settleUpgrade(ctx, tx, paymentID, gp, ref)
		default:
			outcome = outcomeUnknown
			log.Warn("unrecognized external reference", zap.String("external_reference", ref.Raw))
			return nil
		}
	})
	if errors.Is(err, errAlreadyRecorded) {
		outcome, err = outcomeDuplicate, nil
	}
	if err != nil {
		if errors.Is(err, paymentdomain.ErrAmountMismatch) {
			log.Error("payment amount below expected", zap.String("external_reference", ref.Raw), zap.Error(err))
		} else {
			log.Error("reconcile failed", zap.String("external_reference", ref.Raw), zap.Error(err))
		}
		s.record(ctx, outcomeFailed)
		return err
	}

	log.Info("payment reconciled",
		zap.String("external_reference", ref.Raw),
		zap.String("outcome", outcome),
	)
	s.record(ctx, outcome)
	return nil
}

func (s *Service) settleCharge(ctx context.Context, tx *gorm.DB, paymentID string, gp *paymentdomain.GatewayPayment, ref paymentdomain.Reference) (bool, error) {
	charge, err := s.chargeSvc.FindForSettlement(ctx, tx, ref.ChargeID)
	if err != nil {
		return false, err
	}
	if charge == nil {
		return false, fmt.Errorf("%w: %s", paymentdomain.ErrChargeNotFound, ref.ChargeID)
	}
	if charge.IsPaid {
		return false, nil
	}
	if gp.TransactionAmount.LessThan(charge.Amount) {
		return false, fmt.Errorf("%w: charge %s expects %s, got %s",
			paymentdomain.ErrAmountMismatch, charge.ID, charge.Amount.StringFixed(2), gp.TransactionAmount.StringFixed(2))
	}

	scope := tenantctx.ForJob(charge.TenantID)
	paidAt := approvedAt(gp)
	chargeID := charge.ID
	if err := s.insertPayment(ctx, tx, scope, &paymentdomain.Payment{
		ChargeID:              &chargeID,
		Amount:                gp.TransactionAmount.Round(2),
		Method:                paymentdomain.MethodMercadoPago,
		ExternalTransactionID: paymentID,
		RawPayload:            rawPayload(gp.Raw),
		PaidAt:                paidAt,
	}); err != nil {
		return false, err
	}

	if _, err := s.chargeSvc.MarkPaid(ctx, tx, scope, charge.ID, paidAt); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) settleUpgrade(ctx context.Context, tx *gorm.DB, paymentID string, gp *paymentdomain.GatewayPayment, ref paymentdomain.Reference) error {
	plan, ok := tenantdomain.ParsePlan(ref.Plan)
	if !ok {
		return fmt.Errorf("%w: unknown plan %q", paymentdomain.ErrInvalidReference, ref.Plan)
	}
	tenant, err := s.tenantSvc.FindForUpdate(ctx, tx, ref.TenantID)
	if err != nil {
		return err
	}
	if tenant == nil {
		return tenantdomain.ErrTenantNotFound
	}
	if price, ok := s.billing.Get().PlanPrice(string(plan)); ok && gp.TransactionAmount.LessThan(price) {
		return fmt.Errorf("%w: plan %s expects %s, got %s",
			paymentdomain.ErrAmountMismatch, plan, price.StringFixed(2), gp.TransactionAmount.StringFixed(2))
	}

	scope := tenantctx.ForJob(tenant.ID)
	if err := s.insertPayment(ctx, tx, scope, &paymentdomain.Payment{
		Amount:                gp.TransactionAmount.Round(2),
		Method:                paymentdomain.MethodMercadoPagoUpgrade,
		ExternalTransactionID: paymentID,
		RawPayload:            rawPayload(gp.Raw),
		PaidAt:                approvedAt(gp),
	}); err != nil {
		return err
	}

	upgraded, err := s.tenantSvc.ApplyPlanUpgrade(ctx, tx, tenant.ID, plan)
	if err != nil {
		return err
	}

	action := "tenant.plan_upgraded"
	if !upgraded {
		action = "tenant.plan_upgrade_ignored"
	}
	tenantID := tenant.ID
	return s.auditSvc.Record(ctx, tx, auditdomain.Entry{
		TenantID:   &tenantID,
		ActorType:  auditdomain.ActorTypeGateway,
		ActorID:    s.gateway.Name(),
		Action:     action,
		TargetType: "tenant",
		TargetID:   tenantID.String(),
		Metadata: map[string]any{
			"from_plan":  string(tenant.Plan),
			"to_plan":    string(plan),
			"payment_id": paymentID,
		},
	})
}

func (s *Service) insertPayment(ctx context.Context, tx *gorm.DB, scope tenantctx.Scope, payment *paymentdomain.Payment) error {
	now := time.Now().UTC()
	payment.ID = s.genID.Generate()
	payment.CreatedAt = now

	inserted, err := repository.ForTenant[paymentdomain.Payment](tx, s.log, scope).
		CreateIfAbsent(ctx, payment, "external_transaction_id")
	if err != nil {
		return err
	}
	if !inserted {
		return errAlreadyRecorded
	}
	return nil
}

func (s *Service) record(ctx context.Context, outcome string) {
	if s.obsMetrics == nil {
		return
	}
	s.obsMetrics.RecordPaymentEvent(ctx, s.gateway.Name(), outcome)
}

func approvedAt(gp *paymentdomain.GatewayPayment) time.Time {
	if gp.ApprovedAt != nil {
		return gp.ApprovedAt.UTC()
	}
	return time.Now().UTC()
}

func rawPayload(raw []byte) datatypes.JSON {
	if len(raw) == 0 || !json.Valid(raw) {
		return datatypes.JSON("{}")
	}
	return datatypes.JSON(raw)
}
