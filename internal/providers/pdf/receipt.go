package pdf

import (
	"context"
	"strings"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

type MarotoProvider struct{}

func New() Provider {
	return &MarotoProvider{}
}

func (p *MarotoProvider) GenerateReceipt(ctx context.Context, data ReceiptData) ([]byte, error) {
	if strings.TrimSpace(data.ReceiptNumber) == "" || strings.TrimSpace(data.Amount) == "" {
		return nil, ErrInvalidReceipt
	}

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Página {current} de {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(20,
		text.NewCol(8, "Recibo de alquiler", props.Text{
			Size:  18,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		text.NewCol(4, data.TenantName, props.Text{
			Size:  11,
			Style: fontstyle.Bold,
			Align: align.Right,
		}),
	)

	m.AddRow(22,
		col.New(6).Add(
			text.New("Recibo N°: "+data.ReceiptNumber, props.Text{Top: 0}),
			text.New("Período: "+data.Period, props.Text{Top: 5}),
			text.New("Vencimiento: "+data.DueDate, props.Text{Top: 10}),
		),
		col.New(6).Add(
			text.New("Inquilino: "+data.PayerName, props.Text{Top: 0, Align: align.Right}),
			text.New(data.PropertyAddress, props.Text{Top: 5, Align: align.Right}),
		),
	)

	m.AddRow(4, line.NewCol(12))

	m.AddRow(10,
		text.NewCol(9, "Concepto", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(3, "Importe", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	m.AddRow(10,
		text.NewCol(9, data.Description, props.Text{Size: 9}),
		text.NewCol(3, "$ "+data.Amount, props.Text{Size: 9, Align: align.Right}),
	)

	m.AddRow(15,
		text.NewCol(12, "Pagado el "+data.PaidAt+methodSuffix(data.Method), props.Text{
			Size:  12,
			Style: fontstyle.Bold,
			Top:   5,
		}),
	)

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return doc.GetBytes(), nil
}

func methodSuffix(method string) string {
	if strings.TrimSpace(method) == "" {
		return ""
	}
	return " vía " + method
}
