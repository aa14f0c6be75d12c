package billing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Subtotal sums the line amounts. An empty list totals zero.
func Subtotal(items []LineItem) decimal.Decimal {
	sum := decimal.Zero
	for _, li := range items {
		sum = sum.Add(li.Amount())
	}
	return sum
}

// Total is the bill total. There is no adjustment line, so it equals the
// subtotal.
func Total(items []LineItem) decimal.Decimal {
	return Subtotal(items)
}

// NewLineItem builds a line item from raw form input. Non-numeric, empty
// and negative quantity or rate become zero.
func NewLineItem(item, details string, qty, rate any) LineItem {
	return LineItem{
		Item:     item,
		Details:  details,
		Quantity: ParseNonNegative(qty),
		Rate:     ParseNonNegative(rate),
	}
}

// LineRow is an editable service row as typed into a form. Qty and Rate stay
// raw text until the row is read.
type LineRow struct {
	Key     int    `json:"key"`
	Item    string `json:"item"`
	Details string `json:"details"`
	Qty     string `json:"qty"`
	Rate    string `json:"rate"`
}

// LineItem parses the row.
func (r LineRow) LineItem() LineItem {
	return NewLineItem(r.Item, r.Details, ParseQuantity(r.Qty), r.Rate)
}

// LineForm is the list of service rows of one bill form. Row keys come from
// a counter owned by the form.
type LineForm struct {
	rows        []LineRow
	nextKey     int
	defaultRate string
}

// NewLineForm starts a form with a single row at the given default rate.
func NewLineForm(defaultRate string) *LineForm {
	f := &LineForm{defaultRate: defaultRate}
	f.rows = append(f.rows, f.newRow(defaultRate))
	return f
}

// LineFormFrom loads existing items into a form, e.g. when editing a bill.
func LineFormFrom(items []LineItem) *LineForm {
	f := &LineForm{defaultRate: "0"}
	for _, li := range items {
		row := f.newRow(li.Rate.String())
		row.Item = li.Item
		row.Details = li.Details
		row.Qty = li.Quantity.String()
		f.rows = append(f.rows, row)
	}
	if len(f.rows) == 0 {
		f.rows = append(f.rows, f.newRow("0"))
	}
	return f
}

func (f *LineForm) newRow(rate string) LineRow {
	f.nextKey++
	return LineRow{Key: f.nextKey, Qty: "1", Rate: rate}
}

// Add appends an empty row priced at zero and returns its key.
func (f *LineForm) Add() int {
	row := f.newRow("0")
	f.rows = append(f.rows, row)
	return row.Key
}

// Update sets one field ("item", "details", "qty" or "rate") of a row.
func (f *LineForm) Update(key int, field, value string) error {
	for i := range f.rows {
		if f.rows[i].Key != key {
			continue
		}
		switch field {
		case "item":
			f.rows[i].Item = value
		case "details":
			f.rows[i].Details = value
		case "qty":
			f.rows[i].Qty = value
		case "rate":
			f.rows[i].Rate = value
		default:
			return fmt.Errorf("unknown line field %q", field)
		}
		return nil
	}
	return fmt.Errorf("line %d not found", key)
}

// Remove drops a row. The last remaining row is kept.
func (f *LineForm) Remove(key int) {
	if len(f.rows) <= 1 {
		return
	}
	for i := range f.rows {
		if f.rows[i].Key == key {
			f.rows = append(f.rows[:i], f.rows[i+1:]...)
			return
		}
	}
}

// Rows returns a copy of the raw rows.
func (f *LineForm) Rows() []LineRow {
	return append([]LineRow(nil), f.rows...)
}

// Items parses every row.
func (f *LineForm) Items() []LineItem {
	items := make([]LineItem, 0, len(f.rows))
	for _, r := range f.rows {
		items = append(items, r.LineItem())
	}
	return items
}

// Total re-derives the total from the current rows.
func (f *LineForm) Total() decimal.Decimal {
	return Total(f.Items())
}

// FormView is a form as sent to the desk: the raw rows, each row's amount
// and the running total.
type FormView struct {
	Rows    []LineRow `json:"rows"`
	Amounts []string  `json:"amounts"`
	Total   string    `json:"total"`
}

// View renders the form.
func (f *LineForm) View() FormView {
	return RowsView(f.rows)
}

// RowsView prices rows that were edited elsewhere.
func RowsView(rows []LineRow) FormView {
	v := FormView{
		Rows:    append([]LineRow{}, rows...),
		Amounts: make([]string, 0, len(rows)),
	}
	items := make([]LineItem, 0, len(rows))
	for _, r := range rows {
		li := r.LineItem()
		items = append(items, li)
		v.Amounts = append(v.Amounts, FormatMoney(li.Amount()))
	}
	v.Total = FormatMoney(Total(items))
	return v
}
