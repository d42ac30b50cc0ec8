package providers

import (
	"github.com/smallbiznis/rentledger/internal/providers/email"
	"github.com/smallbiznis/rentledger/internal/providers/pdf"
	"github.com/smallbiznis/rentledger/internal/providers/whatsapp"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	email.Module,
	pdf.Module,
	whatsapp.Module,
)
