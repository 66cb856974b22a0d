package terminal

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"candleflow/internal/domain/model"
)

// Renderer draws the tail of a chart view as a table.
type Renderer struct {
	// Rows caps the historical bars shown; the forming bar is always shown.
	Rows int
	// UTC formats period starts in UTC instead of local time.
	UTC bool
}

func (r Renderer) Render(w io.Writer, v model.View) error {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.SetTitle(fmt.Sprintf("%s %s  rev %d%s", v.Symbol, v.Timeframe.String(), v.Revision, status(v)))
	t.AppendHeader(table.Row{"", "Time", "Open", "High", "Low", "Close"})

	hist := v.Historical
	if r.Rows > 0 && len(hist) > r.Rows {
		hist = hist[len(hist)-r.Rows:]
	}
	for _, b := range hist {
		t.AppendRow(r.row("", b))
	}
	if v.Forming != nil {
		t.AppendSeparator()
		t.AppendRow(r.row("*", *v.Forming))
	}
	t.AppendFooter(table.Row{"", "bars", len(v.Historical)})

	_, err := io.WriteString(w, t.Render()+"\n")
	return err
}

func (r Renderer) row(mark string, b model.Bar) table.Row {
	return table.Row{mark, r.clock(b.Time), price(b.Open), price(b.High), price(b.Low), price(b.Close)}
}

func (r Renderer) clock(ts int64) string {
	t := time.Unix(ts, 0)
	if r.UTC {
		t = t.UTC()
	}
	return t.Format("2006-01-02 15:04:05")
}

func price(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func status(v model.View) string {
	if !v.Settled {
		return "  loading"
	}
	return ""
}
