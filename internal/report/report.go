// Package report renders index, portfolio and run results as markdown, csv or terminal tables.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/charmbracelet/glamour"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Format output format of a report.
type Format string

const (
	FormatMarkdown Format = "md"
	FormatCSV      Format = "csv"
	FormatPretty   Format = "pretty"
)

const prettyWordWrap = 120

// ParseFormat converts a flag value into a Format.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatMarkdown, FormatCSV, FormatPretty:
		return f, nil
	case "":
		return FormatMarkdown, nil
	default:
		return "", errors.Errorf("unknown output format %q (md, csv, pretty)", s)
	}
}

// Table titled grid of cells.
type Table struct {
	Title  string
	Header []string
	Rows   [][]string
}

// Render writes tables to w in the given format.
func Render(w io.Writer, format Format, tables ...Table) error {
	switch format {
	case FormatCSV:
		return renderCSV(w, tables)
	case FormatPretty:
		out, err := renderPretty(Markdown(tables...))
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, out)
		return err
	default:
		_, err := io.WriteString(w, Markdown(tables...))
		return err
	}
}

// Markdown renders tables as GitHub flavoured markdown.
func Markdown(tables ...Table) string {
	var b strings.Builder
	for i, t := range tables {
		if i > 0 {
			b.WriteString("\n")
		}
		if t.Title != "" {
			fmt.Fprintf(&b, "## %s\n\n", t.Title)
		}
		writeMarkdownRow(&b, t.Header)
		sep := make([]string, len(t.Header))
		for j := range sep {
			sep[j] = "---"
		}
		writeMarkdownRow(&b, sep)
		for _, row := range t.Rows {
			writeMarkdownRow(&b, row)
		}
	}
	return b.String()
}

func writeMarkdownRow(b *strings.Builder, cells []string) {
	b.WriteString("|")
	for _, c := range cells {
		b.WriteString(" ")
		b.WriteString(strings.ReplaceAll(c, "|", `\|`))
		b.WriteString(" |")
	}
	b.WriteString("\n")
}

func renderCSV(w io.Writer, tables []Table) error {
	cw := csv.NewWriter(w)
	for i, t := range tables {
		if i > 0 {
			if err := cw.Write(nil); err != nil {
				return errors.Wrap(err, "failed to write csv")
			}
		}
		if err := cw.Write(t.Header); err != nil {
			return errors.Wrap(err, "failed to write csv header")
		}
		if err := cw.WriteAll(t.Rows); err != nil {
			return errors.Wrap(err, "failed to write csv rows")
		}
	}
	cw.Flush()
	return errors.Wrap(cw.Error(), "failed to flush csv")
}

func renderPretty(md string) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(prettyWordWrap),
	)
	if err != nil {
		return "", errors.Wrap(err, "failed to create terminal renderer")
	}
	out, err := r.Render(md)
	if err != nil {
		return "", errors.Wrap(err, "failed to render markdown")
	}
	return out, nil
}

// Money formats amount in currency, e.g. $1,234.56. Currencies unknown to
// go-money (USDT, BUSD) fall back to two decimals and the code.
func Money(amount decimal.Decimal, currency string) string {
	cur := money.GetCurrency(strings.ToUpper(currency))
	if cur == nil {
		return amount.StringFixed(2) + " " + strings.ToUpper(currency)
	}

	factor := decimal.New(1, int32(cur.Fraction))
	return money.New(amount.Mul(factor).Round(0).IntPart(), cur.Code).Display()
}

// Percent formats a percentage with two decimals.
func Percent(p decimal.Decimal) string {
	return p.StringFixed(2) + "%"
}

func percentFloat(p float64) string {
	return Percent(decimal.NewFromFloat(p))
}
