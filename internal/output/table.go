package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"
	"github.com/shopspring/decimal"

	"cloudbridge/internal/billing"
)

var (
	headerColor = color.New(color.Bold)
	upColor     = color.New(color.FgRed)
	downColor   = color.New(color.FgGreen)
	okColor     = color.New(color.FgGreen)
	failColor   = color.New(color.FgRed)
)

// table pads cells to column width before any coloring so escape codes do
// not disturb alignment
type table struct {
	header []string
	rows   [][]string
	paint  map[[2]int]*color.Color
}

func newTable(header ...string) *table {
	return &table{header: header, paint: map[[2]int]*color.Color{}}
}

func (t *table) add(cells ...string) int {
	t.rows = append(t.rows, cells)
	return len(t.rows) - 1
}

func (t *table) color(row, col int, c *color.Color) {
	t.paint[[2]int{row, col}] = c
}

func (t *table) render(w io.Writer) {
	widths := make([]int, len(t.header))
	for i, h := range t.header {
		widths[i] = utf8.RuneCountInString(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if n := utf8.RuneCountInString(cell); n > widths[i] {
				widths[i] = n
			}
		}
	}

	pad := func(s string, width int) string {
		return s + strings.Repeat(" ", width-utf8.RuneCountInString(s))
	}

	cells := make([]string, len(t.header))
	for i, h := range t.header {
		cells[i] = headerColor.Sprint(pad(h, widths[i]))
	}
	fmt.Fprintln(w, strings.TrimRight(strings.Join(cells, "  "), " "))

	for r, row := range t.rows {
		for i := range cells {
			cell := ""
			if i < len(row) {
				cell = row[i]
			}
			padded := pad(cell, widths[i])
			if c, ok := t.paint[[2]int{r, i}]; ok {
				padded = c.Sprint(padded)
			}
			cells[i] = padded
		}
		fmt.Fprintln(w, strings.TrimRight(strings.Join(cells, "  "), " "))
	}
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func changeCell(pct float64) (string, *color.Color) {
	switch {
	case pct > 0:
		return fmt.Sprintf("+%.1f%%", pct), upColor
	case pct < 0:
		return fmt.Sprintf("%.1f%%", pct), downColor
	default:
		return "0.0%", nil
	}
}

// RenderSummaries prints one row per account and, when detailed, the
// per-service breakdown of the current month below the table
func RenderSummaries(w io.Writer, summaries []billing.CostSummary, detailed bool) {
	if len(summaries) == 0 {
		fmt.Fprintln(w, "No cost data available")
		return
	}

	t := newTable("ACCOUNT", "NAME", "PROVIDER", "CURRENT", "LAST MONTH", "CHANGE", "CURRENCY")
	for _, s := range summaries {
		change, c := changeCell(s.MonthOverMonthChangePct)
		row := t.add(s.AccountID, s.AccountName, string(s.Provider),
			money(s.CurrentMonthCost), money(s.LastMonthCost), change, s.Currency)
		if c != nil {
			t.color(row, 5, c)
		}
	}
	t.render(w)

	if !detailed {
		return
	}
	for _, s := range summaries {
		if len(s.CurrentMonthDetails) == 0 {
			continue
		}
		fmt.Fprintf(w, "\n%s (%s)\n", headerColor.Sprint(s.AccountName), s.AccountID)
		services := newTable("SERVICE", "AMOUNT", "CURRENCY")
		for _, svc := range s.CurrentMonthDetails {
			services.add(svc.Service, money(svc.Amount), svc.Currency)
		}
		services.render(w)
	}
}

// RenderTrend prints the daily series of one account with a simple bar
func RenderTrend(w io.Writer, account billing.Account, trend *billing.CostTrend) {
	fmt.Fprintf(w, "%s (%s, %s)\n", headerColor.Sprint(account.Name), account.ID, account.Provider)
	if trend == nil || len(trend.DailyCosts) == 0 {
		fmt.Fprintln(w, "No daily cost data available")
		return
	}

	peak := decimal.Zero
	for _, d := range trend.DailyCosts {
		if d.Amount.GreaterThan(peak) {
			peak = d.Amount
		}
	}

	const barWidth = 30
	t := newTable("DATE", "AMOUNT", "")
	for _, d := range trend.DailyCosts {
		bar := ""
		if peak.IsPositive() && d.Amount.IsPositive() {
			n := int(d.Amount.Div(peak).Mul(decimal.NewFromInt(barWidth)).Ceil().IntPart())
			bar = strings.Repeat("#", n)
		}
		t.add(d.Date, money(d.Amount), bar)
	}
	t.render(w)
	fmt.Fprintf(w, "Total: %s %s\n", money(trend.Total()), trend.Currency)
}

// ValidationRow is one line of a credential check report
type ValidationRow struct {
	AccountID string `json:"account_id"`
	Name      string `json:"name"`
	Provider  string `json:"provider"`
	Valid     bool   `json:"valid"`
	Status    string `json:"status"`
}

// RenderValidation prints credential check results
func RenderValidation(w io.Writer, rows []ValidationRow) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "No accounts configured")
		return
	}
	t := newTable("ACCOUNT", "NAME", "PROVIDER", "STATUS")
	for _, r := range rows {
		i := t.add(r.AccountID, r.Name, r.Provider, r.Status)
		if r.Valid {
			t.color(i, 3, okColor)
		} else {
			t.color(i, 3, failColor)
		}
	}
	t.render(w)
}

// WriteJSON prints v as indented JSON
func WriteJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}
