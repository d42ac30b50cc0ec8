package pdf

import (
	"context"
	"errors"
)

var ErrInvalidReceipt = errors.New("invalid_receipt")

// ReceiptData is the printable view of a paid charge.
type ReceiptData struct {
	TenantName      string
	ReceiptNumber   string
	Period          string
	Description     string
	PropertyAddress string
	PayerName       string
	Amount          string
	DueDate         string
	PaidAt          string
	Method          string
}

type Provider interface {
	GenerateReceipt(ctx context.Context, data ReceiptData) ([]byte, error)
}

type NoOpProvider struct{}

func (p *NoOpProvider) GenerateReceipt(ctx context.Context, data ReceiptData) ([]byte, error) {
	return nil, nil
}
