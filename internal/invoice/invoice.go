// Package invoice формирует текстовый счёт по заказу.
package invoice

import (
	"bytes"
	"fmt"
	"text/template"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/ledger-system/internal/model"
)

const invoiceTemplate = `INVOICE {{ .Number }}
Date:     {{ .Date }}
Customer: {{ .UserID }}
Status:   {{ .Status }}

{{ range .Lines -}}
{{ printf "%-10s %6d x %10s %s= %10s" .Product .Quantity .UnitPrice .Bulk .Total }}
{{ end }}
Subtotal:       {{ .Subtotal }}
{{- if .Discount }}
Discount {{ .Discount.Code }}: -{{ .Discount.Amount }}
{{- end }}
Total:          {{ .Total }}
{{- if .Credit }}
Paid by credit: {{ .Credit }}
Due:            {{ .Due }}
{{- end }}
`

type line struct {
	Product   string
	Quantity  int64
	UnitPrice string
	Bulk      string
	Total     string
}

type discountView struct {
	Code   string
	Amount string
}

type view struct {
	Number   string
	Date     string
	UserID   int64
	Status   model.OrderStatus
	Lines    []line
	Subtotal string
	Discount *discountView
	Total    string
	Credit   string
	Due      string
}

// Renderer формирует счёт по шаблону.
type Renderer struct {
	tmpl *template.Template
}

// NewRenderer создаёт Renderer со встроенным шаблоном.
func NewRenderer() *Renderer {
	return &Renderer{tmpl: template.Must(template.New("invoice").Parse(invoiceTemplate))}
}

// ContentType возвращает MIME-тип результата Render.
func (r *Renderer) ContentType() string {
	return "text/plain; charset=utf-8"
}

// Render формирует счёт по заказу.
func (r *Renderer) Render(o *model.Order) ([]byte, error) {
	if o == nil {
		return nil, fmt.Errorf("%w: order is nil", model.ErrInvalidInput)
	}

	v := view{
		Number:   o.Number,
		Date:     o.CreatedAt.UTC().Format(time.DateOnly),
		UserID:   o.UserID,
		Status:   o.Status,
		Subtotal: money(o.Subtotal),
		Total:    money(o.Total),
	}
	for _, it := range o.Items {
		l := line{
			Product:   fmt.Sprintf("#%d", it.ProductID),
			Quantity:  it.Quantity,
			UnitPrice: money(it.UnitPrice),
			Total:     money(it.LineTotal()),
		}
		if it.BulkPrice {
			l.Bulk = "(bulk) "
		}
		v.Lines = append(v.Lines, l)
	}
	if o.Discount != nil {
		v.Discount = &discountView{Code: o.Discount.Code, Amount: money(o.Discount.Amount)}
	}
	if o.CreditApplied.IsPositive() {
		v.Credit = money(o.CreditApplied)
		v.Due = money(o.Total.Sub(o.CreditApplied))
	}

	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, v); err != nil {
		return nil, fmt.Errorf("render invoice %s: %w", o.Number, err)
	}
	return buf.Bytes(), nil
}

func money(d decimal.Decimal) string {
	return model.RoundMoney(d).StringFixed(2)
}
