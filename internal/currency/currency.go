// Package currency renders USD amounts of record in a display currency.
// Conversion is presentation only: nothing produced here is ever stored.
package currency

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

const DefaultCode = "USD"

var (
	ErrUnknownCurrency = errors.New("unknown currency")
	ErrInvalidAmount   = errors.New("invalid amount")
)

type Currency struct {
	Code     string
	Name     string
	Symbol   string
	Locale   string
	Rate     decimal.Decimal
	Decimals int
	// SymbolAfter places the symbol after the number, separated by a space.
	SymbolAfter bool
}

func (c Currency) validate() error {
	switch {
	case c.Code == "":
		return errors.New("currency code is required")
	case !c.Rate.IsPositive():
		return fmt.Errorf("currency %s: rate must be positive", c.Code)
	case c.Decimals < 0 || c.Decimals > 4:
		return fmt.Errorf("currency %s: decimals must be between 0 and 4", c.Code)
	}
	if _, err := language.Parse(c.Locale); err != nil {
		return fmt.Errorf("currency %s: locale %q: %w", c.Code, c.Locale, err)
	}
	return nil
}

// Table is an immutable rate table. Unknown codes fall back to the table's
// default currency.
type Table struct {
	byCode   map[string]Currency
	codes    []string
	fallback string
}

func NewTable(fallback string, currencies ...Currency) (*Table, error) {
	t := &Table{byCode: make(map[string]Currency, len(currencies))}
	for _, c := range currencies {
		c.Code = strings.ToUpper(c.Code)
		if err := c.validate(); err != nil {
			return nil, err
		}
		if _, dup := t.byCode[c.Code]; dup {
			return nil, fmt.Errorf("currency %s listed twice", c.Code)
		}
		t.byCode[c.Code] = c
		t.codes = append(t.codes, c.Code)
	}
	fallback = strings.ToUpper(fallback)
	if _, ok := t.byCode[fallback]; !ok {
		return nil, fmt.Errorf("%w: default %q", ErrUnknownCurrency, fallback)
	}
	t.fallback = fallback
	return t, nil
}

// DefaultTable holds the rates the storefront ships with.
func DefaultTable() *Table {
	t, err := NewTable(DefaultCode,
		Currency{Code: "USD", Name: "US Dollar", Symbol: "$", Locale: "en-US", Rate: decimal.NewFromInt(1), Decimals: 2},
		Currency{Code: "BIF", Name: "Franc Burundais", Symbol: "FBu", Locale: "fr-BI", Rate: decimal.NewFromInt(2850), Decimals: 0, SymbolAfter: true},
		Currency{Code: "EUR", Name: "Euro", Symbol: "€", Locale: "de-DE", Rate: decimal.RequireFromString("0.92"), Decimals: 2, SymbolAfter: true},
		Currency{Code: "GBP", Name: "British Pound", Symbol: "£", Locale: "en-GB", Rate: decimal.RequireFromString("0.79"), Decimals: 2},
	)
	if err != nil {
		panic(err)
	}
	return t
}

// Lookup returns the currency for code, or the default currency.
func (t *Table) Lookup(code string) Currency {
	if c, ok := t.byCode[strings.ToUpper(code)]; ok {
		return c
	}
	return t.byCode[t.fallback]
}

func (t *Table) Known(code string) bool {
	_, ok := t.byCode[strings.ToUpper(code)]
	return ok
}

func (t *Table) Codes() []string {
	out := make([]string, len(t.codes))
	copy(out, t.codes)
	return out
}

func (t *Table) Default() Currency { return t.byCode[t.fallback] }

// Convert multiplies a USD cent amount by the currency rate and rounds to the
// currency's minor unit, half away from zero.
func (t *Table) Convert(amountCents int64, code string) decimal.Decimal {
	c := t.Lookup(code)
	usd := decimal.New(amountCents, -2)
	return usd.Mul(c.Rate).Round(int32(c.Decimals))
}

// Format renders a USD cent amount in the given currency using its locale's
// digit grouping and decimal separator.
func (t *Table) Format(amountCents int64, code string) string {
	c := t.Lookup(code)
	v := t.Convert(amountCents, c.Code)

	tag, err := language.Parse(c.Locale)
	if err != nil {
		tag = language.AmericanEnglish
	}
	p := message.NewPrinter(tag)
	digits := p.Sprint(number.Decimal(v.Abs().InexactFloat64(), number.Scale(c.Decimals)))

	sign := ""
	if v.IsNegative() {
		sign = "-"
	}
	if c.SymbolAfter {
		return sign + digits + " " + c.Symbol
	}
	return sign + c.Symbol + digits
}

// Parse reads a string produced by Format back into the converted amount.
// Format always prints exactly Decimals fraction digits, so the digits alone
// determine the value regardless of the locale's separators.
func (t *Table) Parse(s, code string) (decimal.Decimal, error) {
	c := t.Lookup(code)

	var b strings.Builder
	negative := false
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '−':
			negative = true
		}
	}
	if b.Len() == 0 {
		return decimal.Decimal{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	v, err := decimal.NewFromString(b.String())
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %q: %v", ErrInvalidAmount, s, err)
	}
	v = v.Shift(int32(-c.Decimals))
	if negative {
		v = v.Neg()
	}
	return v, nil
}
