// Package runner executes a funnel pipeline: open the source, stream rows into
// a distinct-user counter and compute the report.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"funnel/internal/config"
	"funnel/internal/funnel"
	"funnel/internal/metrics"
	"funnel/internal/source"
	"funnel/internal/transformer"
)

const defaultBufferSize = 1024

// Runner holds the seams used by Run. The zero value is not usable; use
// NewDefaultRunner.
type Runner struct {
	// NewSource opens the configured input.
	NewSource func(ctx context.Context, cfg config.Source) (source.Source, error)

	// BufferSize is the capacity of the row channel between the source and
	// the aggregator.
	BufferSize int
}

// Result is the outcome of one run.
type Result struct {
	RunID    string
	Report   funnel.Report
	Rows     int
	Skipped  int
	Duration time.Duration
}

// NewDefaultRunner returns a Runner backed by the source registry.
func NewDefaultRunner() *Runner {
	return &Runner{
		NewSource:  source.New,
		BufferSize: defaultBufferSize,
	}
}

// Run loads events from p.Source, counts distinct users per stage of p.Funnel
// and computes the report. Source errors, including source.ErrInputNotFound,
// are returned wrapped; funnel.ErrNoData is returned when no row matched a
// stage.
func (r *Runner) Run(ctx context.Context, p config.Pipeline) (Result, error) {
	res := Result{RunID: uuid.NewString()}
	start := time.Now()
	logger := log.WithFields(log.Fields{"run_id": res.RunID, "job": p.Job, "source": p.Source.Kind})

	counter, err := funnel.NewCounter(p.Funnel.Stages)
	if err != nil {
		return res, err
	}

	var src source.Source
	if err := step("open", func() error {
		var err error
		src, err = r.NewSource(ctx, p.Source)
		return err
	}); err != nil {
		return res, err
	}
	defer func() {
		if err := src.Close(); err != nil {
			logger.WithError(err).Warn("close source")
		}
	}()

	if err := step("load", func() error {
		res.Rows, res.Skipped, err = r.load(ctx, src, counter)
		return err
	}); err != nil {
		return res, err
	}
	metrics.RecordRecords("read", res.Rows)
	metrics.RecordRecords("skipped", res.Skipped)
	logger.WithFields(log.Fields{"rows": res.Rows, "skipped": res.Skipped}).Info("events loaded")

	if err := step("compute", func() error {
		res.Report, err = funnel.Compute(counter.Counts())
		return err
	}); err != nil {
		return res, err
	}
	for _, m := range res.Report.Stages {
		metrics.RecordStage(m.Stage, m.UniqueUsers, m.DropOffRate)
	}

	res.Duration = time.Since(start)
	logger.WithFields(log.Fields{
		"stages":   len(res.Report.Stages),
		"duration": res.Duration.Truncate(time.Millisecond),
	}).Info("funnel computed")
	return res, nil
}

// load streams src into counter. The source and the aggregator run as an
// errgroup so a failure on either side cancels the other.
func (r *Runner) load(ctx context.Context, src source.Source, counter *funnel.Counter) (rows, skipped int, err error) {
	size := r.BufferSize
	if size <= 0 {
		size = defaultBufferSize
	}
	ch := make(chan *transformer.Row, size)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(ch)
		return src.Stream(gctx, ch)
	})
	g.Go(func() error {
		for row := range ch {
			rows++
			if len(row.V) < 2 || !counter.AddValues(row.V[0], row.V[1]) {
				skipped++
				log.WithField("line", row.Line).Debug("row skipped: empty user id or unknown stage")
			}
			row.Free()
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return rows, skipped, fmt.Errorf("load: %w", err)
	}
	return rows, skipped, nil
}

// step runs fn and records its outcome and duration.
func step(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RecordStep(name, status, time.Since(start))
	return err
}
