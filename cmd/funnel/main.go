// Command funnel computes a conversion funnel from user events, prints the
// report, renders a funnel chart and names the stage with the biggest drop-off.
//
// With no flags it reads user_data.csv from the working directory.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"funnel/internal/chart"
	"funnel/internal/config"
	"funnel/internal/funnel"
	"funnel/internal/report"
	pipeline "funnel/internal/runner"
	"funnel/internal/server"
	"funnel/internal/source"

	// register every source backend; the config picks one.
	_ "funnel/internal/source/all"
)

const defaultPushgatewayURL = "http://localhost:9091"

// runner executes one pipeline run.
type runner interface {
	Run(ctx context.Context, p config.Pipeline) (pipeline.Result, error)
}

// metricsConfig selects and configures the metrics backend.
type metricsConfig struct {
	Backend        string
	PushgatewayURL string
	Tags           string
}

// appDeps are the side-effecting seams of runMain.
type appDeps struct {
	readFile    func(path string) ([]byte, error)
	decode      func(path string, data []byte) (config.Pipeline, error)
	loadEnv     func() (config.Env, error)
	initMetrics func(ctx context.Context, jobName string, mc metricsConfig) (func(), error)
	newRunner   func() runner
	writeChart  func(path string, r funnel.Report, opt chart.Options) error
	writeXLSX   func(path string, r funnel.Report, opt chart.Options) error
	showChart   func(ctx context.Context, path string) error
	serve       func(ctx context.Context, addr string, r funnel.Report, opt chart.Options) error
}

func defaultDeps() appDeps {
	return appDeps{
		readFile:    os.ReadFile,
		decode:      config.Decode,
		loadEnv:     config.LoadEnv,
		initMetrics: initMetrics,
		newRunner:   func() runner { return pipeline.NewDefaultRunner() },
		writeChart:  chart.WriteHTMLFile,
		writeXLSX:   chart.WriteXLSX,
		showChart:   chart.Show,
		serve: func(ctx context.Context, addr string, r funnel.Report, opt chart.Options) error {
			return server.New(r, opt).ListenAndServe(ctx, addr)
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, defaultDeps())
	stop()
	os.Exit(code)
}

// runMain is main without the process exit. It returns 0 on success, 1 on a
// runtime failure and 2 on a usage error.
func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, d appDeps) int {
	fs := flag.NewFlagSet("funnel", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		cfgPath        = fs.String("config", "", "pipeline config (JSON or YAML); default reads "+config.DefaultInputPath)
		input          = fs.String("input", "", "input file, overrides the config source (env FUNNEL_INPUT)")
		metricsBackend = fs.String("metrics-backend", "", "metrics backend: none, datadog or pushgateway (env METRICS_BACKEND)")
		pushgatewayURL = fs.String("pushgateway-url", "", "Pushgateway base URL (env PUSHGATEWAY_URL)")
		chartPath      = fs.String("chart", "", "HTML chart output path (default "+config.DefaultChartPath+")")
		xlsxPath       = fs.String("xlsx", "", "also export the report and chart to this .xlsx file")
		noShow         = fs.Bool("no-show", false, "write the chart but do not open it in a browser")
		serveAddr      = fs.String("serve", "", "after the report, serve it over HTTP on this address (e.g. :8080)")
		validateOnly   = fs.Bool("validate", false, "validate the configuration and exit")
		verbose        = fs.Bool("v", false, "enable verbose logs")
	)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "usage: funnel [-config path] [-input file] [flags]; unexpected argument %q\n", fs.Arg(0))
		return 2
	}
	if strings.TrimSpace(*cfgPath) == "" && *cfgPath != "" {
		fmt.Fprintln(stderr, "usage: funnel -config path/to/pipeline.json")
		return 2
	}

	env, err := d.loadEnv()
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}
	if err := configureLogging(stderr, *verbose, env.LogLevel); err != nil {
		fmt.Fprintf(stderr, "usage: %v\n", err)
		return 2
	}

	p := config.DefaultPipeline()
	if *cfgPath != "" {
		raw, err := d.readFile(*cfgPath)
		if err != nil {
			fmt.Fprintf(stderr, "read config: %v\n", err)
			return 1
		}
		if p, err = d.decode(*cfgPath, raw); err != nil {
			fmt.Fprintf(stderr, "parse config: %v\n", err)
			return 1
		}
	} else if env.Input != "" {
		p.Source.Path = env.Input
	}

	if *input != "" {
		p.Source = config.Source{
			Kind:        "file",
			Path:        *input,
			UserColumn:  p.Source.UserColumn,
			StageColumn: p.Source.StageColumn,
		}
	}
	if *chartPath != "" {
		p.Chart.HTMLPath = *chartPath
	}
	if *xlsxPath != "" {
		p.Chart.XLSXPath = *xlsxPath
	}
	if *noShow || *serveAddr != "" {
		show := false
		p.Chart.Show = &show
	}
	p.ApplyDefaults()

	issues := config.ValidatePipeline(p)
	for _, iss := range issues {
		fmt.Fprintln(stderr, iss.String())
	}
	if config.HasErrors(issues) {
		fmt.Fprintln(stderr, "configuration is invalid")
		return 1
	}
	if *validateOnly {
		fmt.Fprintln(stdout, "configuration is valid")
		return 0
	}

	cleanup, err := d.initMetrics(ctx, p.Job, metricsConfig{
		Backend:        firstNonEmpty(*metricsBackend, env.MetricsBackend, "none"),
		PushgatewayURL: firstNonEmpty(*pushgatewayURL, env.PushgatewayURL, defaultPushgatewayURL),
		Tags:           env.MetricsTags,
	})
	if err != nil {
		cleanup()
		fmt.Fprintf(stderr, "init metrics: %v\n", err)
		return 1
	}
	defer cleanup()

	log.WithFields(log.Fields{"job": p.Job, "source": p.Source.Kind, "path": p.Source.Path}).Info("starting")

	res, err := d.newRunner().Run(ctx, p)
	switch {
	case errors.Is(err, source.ErrInputNotFound):
		fmt.Fprintln(stdout, report.NotFoundMessage(p.Source.Path))
		return 1
	case errors.Is(err, funnel.ErrNoData):
		fmt.Fprintln(stdout, report.LoadedMessage)
		fmt.Fprintf(stderr, "run: %v\n", err)
		return 1
	case err != nil:
		fmt.Fprintf(stderr, "run: %v\n", err)
		return 1
	}

	fmt.Fprintln(stdout, report.LoadedMessage)
	if err := report.WriteTable(stdout, res.Report); err != nil {
		fmt.Fprintf(stderr, "write report: %v\n", err)
		return 1
	}

	opt := chart.OptionsFrom(p.Chart)
	if err := d.writeChart(p.Chart.HTMLPath, res.Report, opt); err != nil {
		log.WithError(err).Error("chart not written")
	} else if p.Chart.ShowChart() {
		if err := d.showChart(ctx, p.Chart.HTMLPath); err != nil {
			log.WithError(err).WithField("path", p.Chart.HTMLPath).Warn("could not open chart window")
		}
	}
	if p.Chart.XLSXPath != "" {
		if err := d.writeXLSX(p.Chart.XLSXPath, res.Report, opt); err != nil {
			log.WithError(err).Error("xlsx export failed")
		}
	}

	worst, ok := res.Report.Bottleneck()
	if err := report.WriteBottleneck(stdout, worst, ok); err != nil {
		fmt.Fprintf(stderr, "write report: %v\n", err)
		return 1
	}

	if *serveAddr != "" {
		if err := d.serve(ctx, *serveAddr, res.Report, opt); err != nil {
			fmt.Fprintf(stderr, "serve: %v\n", err)
			return 1
		}
	}
	return 0
}

// configureLogging sends logrus output to w at warn level, info with -v, or
// the level named by FUNNEL_LOG_LEVEL.
func configureLogging(w io.Writer, verbose bool, level string) error {
	lvl := log.WarnLevel
	if verbose {
		lvl = log.InfoLevel
	}
	if level != "" {
		parsed, err := log.ParseLevel(level)
		if err != nil {
			return fmt.Errorf("FUNNEL_LOG_LEVEL: %w", err)
		}
		lvl = parsed
	}
	log.SetOutput(w)
	log.SetLevel(lvl)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
