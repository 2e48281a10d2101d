// Package config defines the funnel pipeline configuration: where events come
// from, which stages make up the funnel, and where the chart goes.
//
// A zero-config run is valid: DefaultPipeline reads user_data.csv from the
// working directory and renders the standard five-stage funnel.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultInputPath is the dataset read when no source is configured.
const DefaultInputPath = "user_data.csv"

// DefaultChartPath is where the HTML funnel is written when not configured.
const DefaultChartPath = "funnel_chart.html"

// DefaultChartTitle is the funnel chart heading.
const DefaultChartTitle = "User Journey Funnel Analysis"

// DefaultColors are the marker colors applied to funnel bars in order.
var DefaultColors = []string{"#1f77b4", "#ff7f0e", "#2ca02c", "#d62728", "#9467bd"}

// Pipeline is the top-level configuration document.
type Pipeline struct {
	Job    string `json:"job" yaml:"job"`
	Source Source `json:"source" yaml:"source"`
	Funnel Funnel `json:"funnel" yaml:"funnel"`
	Chart  Chart  `json:"chart" yaml:"chart"`
}

// Source selects the input backend.
//
// Kind "file" reads Path (Format inferred from the extension when empty).
// Database kinds read UserColumn and StageColumn from Table using DSN; for
// "mongo" Table names the collection and Database the database.
type Source struct {
	Kind        string  `json:"kind" yaml:"kind" validate:"required,oneof=file sqlite postgres mssql mysql mongo"`
	Path        string  `json:"path,omitempty" yaml:"path,omitempty" validate:"required_if=Kind file"`
	Format      string  `json:"format,omitempty" yaml:"format,omitempty" validate:"omitempty,oneof=csv tsv json jsonl xlsx"`
	DSN         string  `json:"dsn,omitempty" yaml:"dsn,omitempty" validate:"required_unless=Kind file"`
	Database    string  `json:"database,omitempty" yaml:"database,omitempty"`
	Table       string  `json:"table,omitempty" yaml:"table,omitempty" validate:"required_unless=Kind file"`
	UserColumn  string  `json:"user_column,omitempty" yaml:"user_column,omitempty"`
	StageColumn string  `json:"stage_column,omitempty" yaml:"stage_column,omitempty"`
	Options     Options `json:"options,omitempty" yaml:"options,omitempty"`
}

// Funnel lists the ordered stage names. Empty means the default funnel.
type Funnel struct {
	Stages []string `json:"stages,omitempty" yaml:"stages,omitempty" validate:"omitempty,unique,dive,required"`
}

// Chart controls chart rendering.
type Chart struct {
	Title    string   `json:"title,omitempty" yaml:"title,omitempty"`
	HTMLPath string   `json:"html_path,omitempty" yaml:"html_path,omitempty"`
	XLSXPath string   `json:"xlsx_path,omitempty" yaml:"xlsx_path,omitempty"`
	Colors   []string `json:"colors,omitempty" yaml:"colors,omitempty" validate:"omitempty,dive,hexcolor"`
	// Show opens the rendered chart in a browser window. nil means true.
	Show *bool `json:"show,omitempty" yaml:"show,omitempty"`
}

// DefaultPipeline returns the configuration used when no config file is given.
func DefaultPipeline() Pipeline {
	return Pipeline{
		Job: "funnel",
		Source: Source{
			Kind: "file",
			Path: DefaultInputPath,
		},
	}
}

// ApplyDefaults fills unset fields with their defaults in place.
func (p *Pipeline) ApplyDefaults() {
	if p.Job == "" {
		p.Job = "funnel"
	}
	if p.Source.Kind == "" {
		p.Source.Kind = "file"
	}
	if p.Source.Kind == "file" && p.Source.Path == "" {
		p.Source.Path = DefaultInputPath
	}
	if p.Source.UserColumn == "" {
		p.Source.UserColumn = "user_id"
	}
	if p.Source.StageColumn == "" {
		p.Source.StageColumn = "stage"
	}
	if p.Chart.Title == "" {
		p.Chart.Title = DefaultChartTitle
	}
	if p.Chart.HTMLPath == "" {
		p.Chart.HTMLPath = DefaultChartPath
	}
	if len(p.Chart.Colors) == 0 {
		p.Chart.Colors = append([]string(nil), DefaultColors...)
	}
}

// ShowChart reports whether the chart should be opened in a window.
func (c Chart) ShowChart() bool {
	return c.Show == nil || *c.Show
}

// Decode parses a pipeline document. YAML is used for .yaml/.yml paths,
// JSON otherwise. Unknown JSON fields are rejected.
func Decode(path string, data []byte) (Pipeline, error) {
	var p Pipeline
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &p); err != nil {
			return Pipeline{}, fmt.Errorf("yaml: %w", err)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&p); err != nil {
			return Pipeline{}, fmt.Errorf("json: %w", err)
		}
	}
	return p, nil
}
