package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"

	"execgateway/internal/exchange"
	"execgateway/internal/models"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	okStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	errStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	bidStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	askStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

func renderError(err error) string {
	return errStyle.Render("error:") + " " + err.Error()
}

// formatNum печатает число без хвостовых нулей и экспоненты
func formatNum(v float64) string {
	return decimal.NewFromFloat(v).String()
}

func formatTime(us int64) string {
	if us == 0 {
		return "-"
	}
	return time.UnixMicro(us).UTC().Format("2006-01-02 15:04:05.000000")
}

func stateStyle(s models.OrderState) lipgloss.Style {
	switch s {
	case models.StateFilled:
		return okStyle
	case models.StateRejected:
		return errStyle
	case models.StateCanceled:
		return dimStyle
	default:
		return lipgloss.NewStyle()
	}
}

func renderResult(op string, res exchange.ExecutionResult) string {
	if res.Success {
		line := fmt.Sprintf("%s %s (http %d)", okStyle.Render("OK"), op, res.HTTPStatus)
		if res.ExchangeOrderID != "" {
			line += " exchange id " + res.ExchangeOrderID
		}
		return line
	}
	return fmt.Sprintf("%s %s (http %d): %s", errStyle.Render("FAILED"), op, res.HTTPStatus, res.ErrorMessage)
}

// renderOrder - подробная карточка ордера
func renderOrder(o models.Order) string {
	exID := o.ExchangeOrderID
	if exID == "" {
		exID = "-"
	}

	rows := [][2]string{
		{"client id", o.ClientOrderID},
		{"exchange id", exID},
		{"symbol", o.Symbol},
		{"side", o.Side.String()},
		{"type", o.Type.String()},
		{"price", formatNum(o.Price)},
		{"amount", formatNum(o.Amount)},
		{"filled", formatNum(o.FilledAmount)},
		{"state", stateStyle(o.State).Render(o.State.String())},
		{"created", formatTime(o.CreatedAtUs)},
		{"updated", formatTime(o.UpdatedAtUs)},
	}
	if o.ErrorMessage != "" {
		rows = append(rows, [2]string{"error", errStyle.Render(o.ErrorMessage)})
	}

	var b strings.Builder
	for i, r := range rows {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s %s", dimStyle.Render(fmt.Sprintf("%-12s", r[0])), r[1])
	}
	return boxStyle.Render(b.String())
}

// renderOrders - таблица ордеров, по одной строке на ордер
func renderOrders(list []models.Order) string {
	if len(list) == 0 {
		return dimStyle.Render("no orders")
	}

	header := fmt.Sprintf("%-24s %-16s %-16s %-4s %-6s %14s %12s %12s  %s",
		"CLIENT ID", "EXCHANGE ID", "SYMBOL", "SIDE", "TYPE", "PRICE", "AMOUNT", "FILLED", "STATE")

	lines := []string{titleStyle.Render(header)}
	for _, o := range list {
		exID := o.ExchangeOrderID
		if exID == "" {
			exID = "-"
		}
		lines = append(lines, fmt.Sprintf("%-24s %-16s %-16s %-4s %-6s %14s %12s %12s  %s",
			o.ClientOrderID, exID, o.Symbol, o.Side, o.Type,
			formatNum(o.Price), formatNum(o.Amount), formatNum(o.FilledAmount),
			stateStyle(o.State).Render(o.State.String())))
	}
	lines = append(lines, dimStyle.Render(fmt.Sprintf("%d order(s)", len(list))))
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

// renderBook - стакан: asks сверху (от дальних к лучшей), затем bids
func renderBook(book models.OrderBook) string {
	title := titleStyle.Render(book.Symbol) + dimStyle.Render(" @ "+formatTime(book.TimestampUs))

	var b strings.Builder
	for i := len(book.Asks) - 1; i >= 0; i-- {
		lvl := book.Asks[i]
		fmt.Fprintf(&b, "%s %14s %12s\n", askStyle.Render("ask"), formatNum(lvl.Price), formatNum(lvl.Amount))
	}
	b.WriteString(dimStyle.Render(fmt.Sprintf("--- spread %s  mid %s ---", formatNum(book.Spread()), formatNum(book.MidPrice()))))
	for _, lvl := range book.Bids {
		fmt.Fprintf(&b, "\n%s %14s %12s", bidStyle.Render("bid"), formatNum(lvl.Price), formatNum(lvl.Amount))
	}

	return lipgloss.JoinVertical(lipgloss.Left, title, boxStyle.Render(b.String()))
}
