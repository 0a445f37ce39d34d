package vice

import (
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-analyze/charts"
)

// TimingEntry is one measured step.
type TimingEntry struct {
	Scope    string
	Label    string
	Duration time.Duration
}

func (e TimingEntry) String() string {
	return fmt.Sprintf("[t] %s:%s=%dms", e.Scope, e.Label, e.Duration.Milliseconds())
}

// Timings records step durations. A nil *Timings ignores all calls.
type Timings struct {
	mu      sync.Mutex
	entries []TimingEntry
	quiet   bool
}

// NewTimings creates a recorder. Unless quiet, each entry is logged as it is tracked.
func NewTimings(quiet bool) *Timings {
	return &Timings{quiet: quiet}
}

// Track records the time elapsed since start.
func (t *Timings) Track(scope, label string, start time.Time) time.Duration {
	d := time.Since(start)
	if t == nil {
		return d
	}
	e := TimingEntry{Scope: scope, Label: label, Duration: d}
	t.mu.Lock()
	t.entries = append(t.entries, e)
	t.mu.Unlock()
	if !t.quiet {
		log.Print(e)
	}
	return d
}

// Entries returns a copy of the recorded entries in tracking order.
func (t *Timings) Entries() []TimingEntry {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]TimingEntry(nil), t.entries...)
}

// WriteSummary writes one line per entry.
func (t *Timings) WriteSummary(w io.Writer) error {
	for _, e := range t.Entries() {
		if _, err := fmt.Fprintln(w, e); err != nil {
			return err
		}
	}
	return nil
}

// WriteTimingsChart renders entries to path, the format is chosen by the file extension.
func WriteTimingsChart(path, title string, entries []TimingEntry) error {
	var outputType string
	if strings.HasSuffix(path, ".png") {
		outputType = charts.ChartOutputPNG
	} else if strings.HasSuffix(path, ".jpg") || strings.HasSuffix(path, ".jpeg") {
		outputType = charts.ChartOutputJPG
	} else if strings.HasSuffix(path, ".svg") {
		outputType = charts.ChartOutputSVG
	} else {
		return fmt.Errorf("unhandled chart file type: %s", path)
	}

	if buf, err := RenderTimingsChart(outputType, title, entries); err != nil {
		return fmt.Errorf("render chart failed: %w", err)
	} else if err = os.WriteFile(path, buf, 0644); err != nil {
		return fmt.Errorf("write chart file failed: %w", err)
	}
	return nil
}

// RenderTimingsChart draws a stacked bar of all step durations above a table listing each step.
func RenderTimingsChart(outputType, title string, entries []TimingEntry) ([]byte, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: no timings to chart", ErrInvalidArgument)
	}
	const rowHeight = 30
	root := charts.NewPainter(charts.PainterOptions{
		OutputFormat: outputType,
		Width:        800,
		Height:       200 + rowHeight*(len(entries)+1),
	})
	root.FilledRect(0, 0, root.Width(), root.Height(), charts.ColorWhite, charts.ColorWhite, 0)
	p := root.Child(charts.PainterPaddingOption(charts.NewBoxEqual(10)))

	painters, err := p.LayoutByRows().
		Row().Height("140").Columns("bar").
		Row().Columns("table").
		Build()
	if err != nil {
		return nil, fmt.Errorf("error building chart layout: %w", err)
	}

	var total time.Duration
	values := make([][]float64, len(entries))
	rows := make([][]string, len(entries))
	for i, e := range entries {
		total += e.Duration
		values[i] = []float64{float64(e.Duration.Milliseconds())}
		rows[i] = []string{e.Scope, e.Label, strconv.FormatInt(e.Duration.Milliseconds(), 10)}
	}

	barOpt := charts.NewHorizontalBarChartOptionWithData(values)
	barOpt.StackSeries = charts.Ptr(true)
	barOpt.Title.Text = title + " (" + strconv.FormatInt(total.Milliseconds(), 10) + " ms)"
	barOpt.YAxis.Show = charts.Ptr(false)
	for i := range barOpt.SeriesList {
		label := entries[i].Label
		barOpt.SeriesList[i].Label.Show = charts.Ptr(true)
		barOpt.SeriesList[i].Label.ValueFormatter = func(float64) string {
			return label
		}
	}
	if err := painters["bar"].HorizontalBarChart(barOpt); err != nil {
		return nil, fmt.Errorf("error rendering chart: %w", err)
	}

	tableOpt := charts.TableChartOption{
		Header:                []string{"Scope", "Step", "ms"},
		Data:                  rows,
		HeaderBackgroundColor: charts.Color{R: 210, G: 210, B: 210, A: 255},
		Padding:               charts.NewBoxEqual(6),
		Spans:                 []int{10, 20, 6},
		TextAligns:            []string{charts.AlignLeft, charts.AlignLeft, charts.AlignRight},
	}
	if err := painters["table"].TableChart(tableOpt); err != nil {
		return nil, fmt.Errorf("error rendering table: %w", err)
	}
	return root.Bytes()
}
