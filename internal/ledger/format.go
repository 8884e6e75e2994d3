package ledger

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Formatter renders amounts for human facing text such as reminders.
type Formatter struct {
	printer  *message.Printer
	currency string
}

// NewFormatter builds a Formatter for the given BCP 47 locale. Unknown
// locales fall back to French.
func NewFormatter(locale, currency string) *Formatter {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.French
	}
	return &Formatter{printer: message.NewPrinter(tag), currency: strings.TrimSpace(currency)}
}

// Amount formats minor units with locale grouping and the currency suffix.
func (f *Formatter) Amount(amount int64) string {
	if f == nil {
		f = NewFormatter("fr", "")
	}
	s := f.printer.Sprintf("%d", amount)
	if f.currency == "" {
		return s
	}
	return s + " " + f.currency
}
