// Package chart renders the funnel report as an HTML page or an Excel
// workbook, and can open the page in a browser window.
package chart

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"funnel/internal/config"
	"funnel/internal/funnel"
)

//go:embed templates/funnel.html.tmpl
var templates embed.FS

var page = template.Must(template.ParseFS(templates, "templates/funnel.html.tmpl"))

var hexColor = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// Options controls chart appearance.
type Options struct {
	Title  string
	Colors []string
}

// OptionsFrom builds Options from the chart section of the config.
func OptionsFrom(c config.Chart) Options {
	return Options{Title: c.Title, Colors: c.Colors}
}

func (o Options) title() string {
	if o.Title == "" {
		return config.DefaultChartTitle
	}
	return o.Title
}

// color returns the i-th bar color, cycling the palette. Anything that is not
// a plain hex color falls back to the default palette.
func (o Options) color(i int) string {
	if len(o.Colors) > 0 {
		if c := o.Colors[i%len(o.Colors)]; hexColor.MatchString(c) {
			return c
		}
	}
	return config.DefaultColors[i%len(config.DefaultColors)]
}

type bar struct {
	Stage string
	Users int
	Label string
	Style template.CSS
}

// Label is the text shown on a bar: the user count and its share of the
// first stage, e.g. "600 (60%)".
func Label(m funnel.StageMetrics) string {
	return fmt.Sprintf("%d (%s%%)", m.UniqueUsers, strconv.FormatFloat(m.OverallConversionRate, 'f', -1, 64))
}

// RenderHTML writes a self-contained page with one bar per stage. Bar widths
// are proportional to the stage's users relative to the largest stage.
func RenderHTML(w io.Writer, r funnel.Report, opt Options) error {
	widest := 0
	for _, m := range r.Stages {
		if m.UniqueUsers > widest {
			widest = m.UniqueUsers
		}
	}

	bars := make([]bar, len(r.Stages))
	for i, m := range r.Stages {
		pct := 0.0
		if widest > 0 {
			pct = float64(m.UniqueUsers) / float64(widest) * 100
		}
		bars[i] = bar{
			Stage: m.Stage,
			Users: m.UniqueUsers,
			Label: Label(m),
			Style: template.CSS(fmt.Sprintf("width: %.2f%%; background: %s", pct, opt.color(i))),
		}
	}

	if err := page.Execute(w, struct {
		Title string
		Bars  []bar
	}{Title: opt.title(), Bars: bars}); err != nil {
		return fmt.Errorf("chart: render html: %w", err)
	}
	return nil
}

// WriteHTMLFile renders the chart to path, creating parent directories.
func WriteHTMLFile(path string, r funnel.Report, opt Options) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("chart: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("chart: %w", err)
	}
	if err := RenderHTML(f, r, opt); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
