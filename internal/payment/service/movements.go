package service

import (
	"context"
	"encoding/csv"
	"io"

	"github.com/bwmarrin/snowflake"
	chargedomain "github.com/smallbiznis/rentledger/internal/charge/domain"
	contractdomain "github.com/smallbiznis/rentledger/internal/contract/domain"
	paymentdomain "github.com/smallbiznis/rentledger/internal/payment/domain"
	"github.com/smallbiznis/rentledger/pkg/db/option"
	"github.com/smallbiznis/rentledger/pkg/repository"
	"github.com/smallbiznis/rentledger/pkg/tenantctx"
)

// utf8BOM lets spreadsheet apps detect the encoding.
const utf8BOM = "\ufeff"

var movementColumns = []string{"fecha", "tipo", "concepto", "monto", "entidad", "metodo", "estado"}

const (
	movementIncome    = "INGRESO"
	movementCompleted = "Completado"
)

// ExportMovements writes one income row per settled charge payment, newest
// first. Plan upgrade payments belong to the platform and are left out.
func (s *Service) ExportMovements(ctx context.Context, scope tenantctx.Scope, w io.Writer) error {
	payments, err := repository.ForTenant[paymentdomain.Payment](s.db, s.log, scope).Find(ctx, nil,
		option.WithWhere("charge_id IS NOT NULL"),
		option.WithSortBy("paid_at", "desc"),
	)
	if err != nil {
		return err
	}

	chargeIDs := make([]snowflake.ID, 0, len(payments))
	for _, p := range payments {
		chargeIDs = append(chargeIDs, *p.ChargeID)
	}
	charges, err := findByIDs[chargedomain.Charge](ctx, s, scope, chargeIDs, func(c *chargedomain.Charge) snowflake.ID { return c.ID })
	if err != nil {
		return err
	}

	contractIDs := make([]snowflake.ID, 0, len(charges))
	for _, c := range charges {
		contractIDs = append(contractIDs, c.ContractID)
	}
	contracts, err := findByIDs[contractdomain.Contract](ctx, s, scope, contractIDs, func(c *contractdomain.Contract) snowflake.ID { return c.ID })
	if err != nil {
		return err
	}

	personIDs := make([]snowflake.ID, 0, len(contracts))
	for _, c := range contracts {
		personIDs = append(personIDs, c.PersonID)
	}
	people, err := findByIDs[contractdomain.Person](ctx, s, scope, personIDs, func(p *contractdomain.Person) snowflake.ID { return p.ID })
	if err != nil {
		return err
	}

	if _, err := io.WriteString(w, utf8BOM); err != nil {
		return err
	}
	out := csv.NewWriter(w)
	if err := out.Write(movementColumns); err != nil {
		return err
	}
	loc := s.billing.Get().Location()
	for _, p := range payments {
		charge, ok := charges[*p.ChargeID]
		if !ok {
			continue
		}
		entity := ""
		if contract, ok := contracts[charge.ContractID]; ok {
			if person, ok := people[contract.PersonID]; ok {
				entity = person.FullName + " (Inquilino)"
			}
		}
		if err := out.Write([]string{
			p.PaidAt.In(loc).Format("2006-01-02 15:04"),
			movementIncome,
			"Cobro: " + charge.Description,
			p.Amount.StringFixed(2),
			entity,
			string(p.Method),
			movementCompleted,
		}); err != nil {
			return err
		}
	}
	out.Flush()
	return out.Error()
}

func findByIDs[T any, P interface {
	*T
	repository.TenantOwned
}](ctx context.Context, s *Service, scope tenantctx.Scope, ids []snowflake.ID, key func(*T) snowflake.ID) (map[snowflake.ID]*T, error) {
	out := make(map[snowflake.ID]*T, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := repository.ForTenant[T, P](s.db, s.log, scope).Find(ctx, nil, option.WithWhere("id IN ?", ids))
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[key(row)] = row
	}
	return out, nil
}
