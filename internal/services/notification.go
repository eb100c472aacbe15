package services

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var moneyPrinter = message.NewPrinter(language.English)

// FormatMoney renders an amount with its currency symbol, e.g. "₹ 1,112.00". Unknown currency
// codes fall back to "<code> <amount>".
func FormatMoney(code string, amount decimal.Decimal) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	unit, err := currency.ParseISO(code)
	if err != nil {
		return strings.TrimSpace(code + " " + amount.StringFixed(2))
	}
	return moneyPrinter.Sprint(currency.Symbol(unit.Amount(amount.Round(2).InexactFloat64())))
}

// notifyQuietly delivers msg and reports failure through the logger only.
func notifyQuietly(ctx context.Context, sink NotificationSink, logger func(context.Context, string, map[string]any), msg Notification) {
	if sink == nil {
		return
	}
	if err := sink.Notify(ctx, msg); err != nil {
		logger(ctx, "notification.failed", map[string]any{
			"kind":    msg.Kind,
			"orderID": msg.OrderID,
			"error":   err.Error(),
		})
	}
}
