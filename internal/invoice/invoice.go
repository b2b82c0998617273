// Package invoice renders proforma and receipt PDFs for orders.
package invoice

import (
	"fmt"
	"time"

	"checkout-service/internal/models"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

// Seller is printed in the document header.
type Seller struct {
	Name    string
	Address string
	Email   string
}

// Document is the data shared by proformas and receipts. Amounts are minor units.
type Document struct {
	Seller      Seller
	Number      string
	IssuedAt    time.Time
	CustomerTo  string
	Currency    string
	Items       []models.OrderItemData
	Amount      int64
	Entity      string
	Reference   string
	ExpiresAt   time.Time
	PaymentNote string
}

const dateLayout = "2006-01-02"

func money(minor int64, currency string) string {
	return models.FormatAmount(minor) + " " + currency
}

func newDocument() core.Maroto {
	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()
	return maroto.New(cfg)
}

func header(m core.Maroto, title string, doc Document) {
	m.AddRow(20,
		text.NewCol(12, title, props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
	)

	m.AddRow(30,
		col.New(6).Add(
			text.New(doc.Seller.Name, props.Text{Style: fontstyle.Bold}),
			text.New(doc.Seller.Address, props.Text{Top: 5}),
			text.New(doc.Seller.Email, props.Text{Top: 10}),
		),
		col.New(6).Add(
			text.New("Number: "+doc.Number, props.Text{Align: align.Right}),
			text.New("Date: "+doc.IssuedAt.Format(dateLayout), props.Text{Top: 5, Align: align.Right}),
			text.New("Bill to: "+doc.CustomerTo, props.Text{Top: 10, Align: align.Right}),
		),
	)
}

func lines(m core.Maroto, doc Document) {
	m.AddRow(10,
		text.NewCol(6, "Description", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Qty", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Unit price", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)

	var subtotal int64
	for _, item := range doc.Items {
		extension := item.UnitPrice * int64(item.Quantity)
		subtotal += extension
		m.AddRow(8,
			text.NewCol(6, item.ProductName, props.Text{Size: 9}),
			text.NewCol(2, fmt.Sprintf("%d", item.Quantity), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, money(item.UnitPrice, doc.Currency), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, money(extension, doc.Currency), props.Text{Size: 9, Align: align.Right}),
		)
	}

	if discount := subtotal - doc.Amount; discount > 0 {
		m.AddRow(8,
			col.New(8),
			text.NewCol(2, "Discount", props.Text{Size: 9}),
			text.NewCol(2, "-"+money(discount, doc.Currency), props.Text{Size: 9, Align: align.Right}),
		)
	}
	m.AddRow(10,
		col.New(8),
		text.NewCol(2, "Total", props.Text{Size: 9, Style: fontstyle.Bold}),
		text.NewCol(2, money(doc.Amount, doc.Currency), props.Text{Size: 9, Style: fontstyle.Bold, Align: align.Right}),
	)
}

// Proforma renders the bank-transfer proforma with the entity/reference to pay.
func Proforma(doc Document) ([]byte, error) {
	m := newDocument()
	header(m, "Proforma", doc)

	m.AddRow(30,
		col.New(12).Add(
			text.New("Payment by bank transfer or ATM", props.Text{Style: fontstyle.Bold, Size: 11}),
			text.New("Entity: "+doc.Entity, props.Text{Top: 6}),
			text.New("Reference: "+doc.Reference, props.Text{Top: 11}),
			text.New("Amount: "+money(doc.Amount, doc.Currency), props.Text{Top: 16}),
			text.New("Valid until: "+doc.ExpiresAt.Format(dateLayout), props.Text{Top: 21}),
		),
	)
	lines(m, doc)

	document, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate proforma: %w", err)
	}
	return document.GetBytes(), nil
}

// Receipt renders the payment receipt.
func Receipt(doc Document) ([]byte, error) {
	m := newDocument()
	header(m, "Receipt", doc)

	m.AddRow(15,
		text.NewCol(12, money(doc.Amount, doc.Currency)+" paid on "+doc.IssuedAt.Format(dateLayout), props.Text{
			Size:  14,
			Style: fontstyle.Bold,
			Top:   5,
		}),
	)
	if doc.PaymentNote != "" {
		m.AddRow(10, text.NewCol(12, doc.PaymentNote, props.Text{Size: 9}))
	}
	lines(m, doc)

	document, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate receipt: %w", err)
	}
	return document.GetBytes(), nil
}
