package payment

import (
	paymentdomain "github.com/smallbiznis/rentledger/internal/payment/domain"
	"github.com/smallbiznis/rentledger/internal/payment/gateway/mercadopago"
	"github.com/smallbiznis/rentledger/internal/payment/repository"
	paymentservice "github.com/smallbiznis/rentledger/internal/payment/service"
	"github.com/smallbiznis/rentledger/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(mercadopago.New),
	fx.Provide(func(c *mercadopago.Client) paymentdomain.Gateway { return c }),
	fx.Provide(func(c *mercadopago.Client) paymentdomain.Checkout { return c }),
	fx.Provide(paymentservice.NewService),
	fx.Provide(func(s paymentdomain.Service) paymentdomain.Reconciler { return s }),
	fx.Provide(webhook.NewQueue),
)
