package economicindex

import (
	"github.com/smallbiznis/rentledger/internal/economicindex/service"
	"github.com/smallbiznis/rentledger/internal/economicindex/source"
	"go.uber.org/fx"
)

var Module = fx.Module("economicindex.service",
	fx.Provide(source.NewClient),
	fx.Provide(service.NewService),
)
