package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	chargedomain "github.com/smallbiznis/rentledger/internal/charge/domain"
	contractdomain "github.com/smallbiznis/rentledger/internal/contract/domain"
	paymentdomain "github.com/smallbiznis/rentledger/internal/payment/domain"
	tenantdomain "github.com/smallbiznis/rentledger/internal/tenant/domain"
	"github.com/smallbiznis/rentledger/pkg/db/option"
	"github.com/smallbiznis/rentledger/pkg/db/pagination"
	"github.com/smallbiznis/rentledger/pkg/repository"
	"github.com/smallbiznis/rentledger/pkg/tenantctx"
	"go.uber.org/zap"
)

func (s *Service) ChargePreference(ctx context.Context, scope tenantctx.Scope, chargeID snowflake.ID) (*paymentdomain.Preference, error) {
	if s.checkout == nil {
		return nil, fmt.Errorf("%w: checkout not configured", paymentdomain.ErrGatewayUnavailable)
	}
	charge, err := s.chargeSvc.Get(ctx, scope, chargeID)
	if err != nil {
		return nil, err
	}
	if charge.IsPaid {
		return nil, paymentdomain.ErrChargeAlreadyPaid
	}

	pref, err := s.checkout.CreatePreference(ctx, paymentdomain.PreferenceRequest{
		Title:             charge.Description,
		Amount:            charge.Amount,
		PayerEmail:        s.payerEmail(ctx, scope, charge),
		ExternalReference: paymentdomain.ChargeReference(charge.ID),
	})
	if err != nil {
		s.log.Warn("charge preference failed", zap.String("charge_id", charge.ID.String()), zap.Error(err))
		return nil, err
	}
	s.log.Info("charge preference created",
		zap.String("charge_id", charge.ID.String()),
		zap.String("preference_id", pref.ID),
	)
	return pref, nil
}

// payerEmail prefills checkout with the contract contact, when known.
func (s *Service) payerEmail(ctx context.Context, scope tenantctx.Scope, charge *chargedomain.Charge) string {
	contract, err := repository.ForTenant[contractdomain.Contract](s.db, s.log, scope).FindByID(ctx, charge.ContractID)
	if err != nil || contract == nil {
		return ""
	}
	person, err := repository.ForTenant[contractdomain.Person](s.db, s.log, scope).FindByID(ctx, contract.PersonID)
	if err != nil || person == nil {
		return ""
	}
	return person.EmailAddress()
}

func (s *Service) UpgradePreference(ctx context.Context, scope tenantctx.Scope, raw string) (*paymentdomain.Preference, error) {
	plan, ok := tenantdomain.ParsePlan(raw)
	if !ok {
		return nil, tenantdomain.ErrInvalidPlan
	}
	price, ok := s.billing.Get().PlanPrice(string(plan))
	if !ok || !price.IsPositive() {
		return nil, tenantdomain.ErrInvalidPlan
	}
	tenantID, ok := scope.TenantID()
	if !ok {
		return nil, repository.ErrScopeUnset
	}
	if s.checkout == nil {
		return nil, fmt.Errorf("%w: checkout not configured", paymentdomain.ErrGatewayUnavailable)
	}

	tenant, err := s.tenantSvc.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if plan.Rank() <= tenant.Plan.Rank() {
		return nil, paymentdomain.ErrPlanNotUpgrade
	}

	pref, err := s.checkout.CreatePreference(ctx, paymentdomain.PreferenceRequest{
		Title:             "Upgrade a Plan " + planTitle(plan),
		Amount:            price,
		ExternalReference: paymentdomain.UpgradeReference(tenant.ID, string(plan)),
	})
	if err != nil {
		s.log.Warn("upgrade preference failed", zap.String("tenant_id", tenant.ID.String()), zap.Error(err))
		return nil, err
	}
	s.log.Info("upgrade preference created",
		zap.String("tenant_id", tenant.ID.String()),
		zap.String("from_plan", string(tenant.Plan)),
		zap.String("to_plan", string(plan)),
		zap.String("preference_id", pref.ID),
	)
	return pref, nil
}

func planTitle(plan tenantdomain.Plan) string {
	name := string(plan)
	if name == "" {
		return name
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

func (s *Service) List(ctx context.Context, scope tenantctx.Scope, req paymentdomain.ListPaymentRequest) (paymentdomain.ListPaymentResponse, error) {
	limit := req.Limit()
	opts := []option.QueryOption{
		option.WithSortBy("id", "desc"),
		option.WithLimit(limit + 1),
	}
	if raw := strings.TrimSpace(req.Method); raw != "" {
		method, ok := paymentdomain.ParseMethod(raw)
		if !ok {
			return paymentdomain.ListPaymentResponse{}, paymentdomain.ErrInvalidMethod
		}
		opts = append(opts, option.WithWhere("method = ?", method))
	}
	if token := strings.TrimSpace(req.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return paymentdomain.ListPaymentResponse{}, pagination.ErrInvalidPageToken
		}
		before, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return paymentdomain.ListPaymentResponse{}, pagination.ErrInvalidPageToken
		}
		opts = append(opts, option.WithWhere("id < ?", before))
	}

	items, err := repository.ForTenant[paymentdomain.Payment](s.db, s.log, scope).Find(ctx, nil, opts...)
	if err != nil {
		return paymentdomain.ListPaymentResponse{}, err
	}

	items, pageInfo := pagination.Trim(items, limit, func(p *paymentdomain.Payment) string {
		return p.ID.String()
	})
	payments := make([]paymentdomain.Payment, 0, len(items))
	for _, item := range items {
		payments = append(payments, *item)
	}
	return paymentdomain.ListPaymentResponse{PageInfo: pageInfo, Payments: payments}, nil
}
