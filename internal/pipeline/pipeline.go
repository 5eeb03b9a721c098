// Package pipeline runs one csvload job: extract the delimited file, apply
// the field rules and de-duplication, add calculated fields, infer the
// destination schema and load. Stages run in order on the caller's
// goroutine and each one yields a new table. Only the load stage touches the
// destination, and it is never reached once an earlier stage fails.
package pipeline

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"csvload/internal/apperrors"
	"csvload/internal/config"
	"csvload/internal/datasource"
	"csvload/internal/enrich"
	"csvload/internal/metrics"
	csvparser "csvload/internal/parser/csv"
	"csvload/internal/schema"
	"csvload/internal/storage"
	"csvload/internal/transformer"
	"csvload/pkg/records"
)

// Stage names used in errors, logs and metrics.
const (
	StageConfig    = "config"
	StageExtract   = "extract"
	StageTransform = "transform"
	StageEnrich    = "enrich"
	StageInfer     = "infer"
	StageLoad      = "load"
)

// Deps are the run's collaborators. Every field is optional.
type Deps struct {
	// Source overrides extraction.csv_file.
	Source datasource.Source
	// OpenWarehouse defaults to storage.Open.
	OpenWarehouse storage.Factory
	// Now is the enrichment clock.
	Now func() time.Time
	Log *zap.Logger
}

// StageReport is one stage's outcome.
type StageReport struct {
	Stage    string
	Rows     int
	Duration time.Duration
}

// Report describes a finished (or dry) run.
type Report struct {
	Job    string
	DryRun bool

	Stages []StageReport

	Extracted int
	// DateFallbacks are parse_dates columns kept as text.
	DateFallbacks []string
	Rules         *transformer.Stats
	// Flags counts false values per validity column, is_valid included.
	Flags map[string]int

	Schema schema.Schema
	Table  *records.Table
	// DataQualityScore is the percentage of final rows with is_valid true.
	DataQualityScore float64

	Load     storage.Result
	Duration time.Duration
}

// Run executes cfg. Errors are *apperrors.StageError values naming the
// failed stage.
func Run(ctx context.Context, cfg config.Pipeline, deps Deps) (rep Report, err error) {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	r := &runner{job: cfg.Job, log: log.Named("pipeline")}
	r.rep = Report{Job: cfg.Job, DryRun: cfg.Runtime.DryRun, Flags: map[string]int{}}
	start := time.Now()
	defer func() { rep.Duration = time.Since(start) }()

	pl, err := compile(cfg, log)
	if err != nil {
		return r.rep, apperrors.InStage(StageConfig, err)
	}
	pl.enricher.Now = deps.Now

	src := deps.Source
	if src == nil {
		src = datasource.For(cfg.Extraction.CSVFile)
	}

	var tbl *records.Table
	if err := r.step(ctx, StageExtract, func() (int, error) {
		rc, err := src.Open(ctx)
		if err != nil {
			return 0, err
		}
		defer rc.Close()
		t, xr, err := csvparser.Extract(ctx, rc, pl.extract)
		if err != nil {
			return 0, err
		}
		tbl = t
		r.rep.Extracted = t.Len()
		r.rep.DateFallbacks = xr.DateFallbacks
		for _, col := range xr.DateFallbacks {
			r.log.Warn("date column kept as text", zap.String("column", col))
		}
		metrics.RecordRow(r.job, "extracted", int64(t.Len()))
		return t.Len(), nil
	}); err != nil {
		return r.rep, err
	}

	if err := r.step(ctx, StageTransform, func() (int, error) {
		t, st, err := pl.engine.Apply(ctx, tbl)
		if err != nil {
			return 0, err
		}
		tbl = t
		r.rep.Rules = st
		r.recordRules(st)
		return t.Len(), nil
	}); err != nil {
		return r.rep, err
	}

	if err := r.step(ctx, StageEnrich, func() (int, error) {
		t, err := pl.enricher.Apply(ctx, tbl)
		if err != nil {
			return 0, err
		}
		tbl = t
		if t.HasColumn(enrich.ValidColumn) {
			n := countFalse(t, enrich.ValidColumn)
			r.rep.Flags[enrich.ValidColumn] = n
			metrics.RecordFlags(r.job, enrich.ValidColumn, n)
		}
		return t.Len(), nil
	}); err != nil {
		return r.rep, err
	}
	r.rep.Table = tbl
	r.rep.DataQualityScore = QualityScore(tbl)

	if err := r.step(ctx, StageInfer, func() (int, error) {
		r.rep.Schema = schema.Infer(tbl, cfg.Transformation.Nullability)
		return tbl.Len(), nil
	}); err != nil {
		return r.rep, err
	}

	if cfg.Runtime.DryRun {
		r.log.Info("dry run, load skipped",
			zap.Int("rows", tbl.Len()),
			zap.Int("fields", len(r.rep.Schema.Fields)),
			zap.Float64("data_quality_score", r.rep.DataQualityScore))
		return r.rep, nil
	}

	if err := r.step(ctx, StageLoad, func() (int, error) {
		open := deps.OpenWarehouse
		if open == nil {
			open = storage.Open
		}
		wh, err := open(ctx, StorageConfig(cfg.Loading, log))
		if err != nil {
			return 0, err
		}
		defer func() {
			if err := wh.Close(); err != nil {
				r.log.Warn("close warehouse", zap.Error(err))
			}
		}()
		co := storage.NewCoordinator(wh, RetryPolicy(cfg.Loading.Retry), log.Named("load"))
		co.CreateTable = cfg.Loading.CreateTable
		res, err := co.Load(ctx, tbl, r.rep.Schema, Destination(cfg.Loading), pl.mode)
		r.rep.Load = res
		if err != nil {
			return 0, err
		}
		metrics.RecordRow(r.job, "loaded", res.RowsWritten)
		return int(res.RowsWritten), nil
	}); err != nil {
		return r.rep, err
	}

	r.log.Info("run complete",
		zap.String("job", cfg.Job),
		zap.Int("extracted", r.rep.Extracted),
		zap.Int64("loaded", r.rep.Load.RowsWritten),
		zap.Float64("data_quality_score", r.rep.DataQualityScore),
		zap.Stringer("destination", r.rep.Load.Destination))
	return r.rep, nil
}

// compiled is everything compiled from the config before any data is read.
type compiled struct {
	extract  csvparser.Options
	engine   *transformer.Engine
	enricher *enrich.Stage
	mode     storage.WriteMode
}

func compile(cfg config.Pipeline, log *zap.Logger) (compiled, error) {
	issues := config.ValidatePipeline(cfg)
	if cfg.Runtime.DryRun {
		issues = withoutLoading(issues)
	}
	for _, iss := range issues {
		if iss.Severity == config.SeverityWarning {
			log.Warn("config", zap.String("path", iss.Path), zap.String("issue", iss.Message))
		}
	}
	if err := config.Err(issues); err != nil {
		return compiled{}, err
	}

	var (
		p   compiled
		err error
	)
	if p.extract, err = ExtractOptions(cfg.Extraction); err != nil {
		return compiled{}, err
	}
	if p.engine, err = transformer.Compile(cfg.Transformation, log.Named("transform")); err != nil {
		return compiled{}, err
	}
	if p.enricher, err = enrich.Compile(cfg.Transformation, log.Named("enrich")); err != nil {
		return compiled{}, err
	}
	if !cfg.Runtime.DryRun {
		if p.mode, err = storage.ParseWriteMode(cfg.Loading.WriteDisposition); err != nil {
			return compiled{}, apperrors.Configf("loading.write_disposition", "%v", err)
		}
	}
	return p, nil
}

// withoutLoading drops loading issues; a dry run never opens the destination.
func withoutLoading(issues []config.Issue) []config.Issue {
	out := issues[:0:0]
	for _, iss := range issues {
		if !strings.HasPrefix(iss.Path, "loading.") {
			out = append(out, iss)
		}
	}
	return out
}

type runner struct {
	job string
	log *zap.Logger
	rep Report
}

// step times fn, logs and records the outcome and wraps a failure in a
// StageError.
func (r *runner) step(ctx context.Context, stage string, fn func() (int, error)) error {
	if err := ctx.Err(); err != nil {
		return apperrors.InStage(stage, err)
	}
	start := time.Now()
	rows, err := fn()
	d := time.Since(start)
	metrics.RecordStep(r.job, stage, err, d)
	if err != nil {
		err = apperrors.InStage(stage, err)
		r.log.Error("stage failed", zap.String("stage", stage), zap.Duration("took", d), zap.Error(err))
		return err
	}
	r.rep.Stages = append(r.rep.Stages, StageReport{Stage: stage, Rows: rows, Duration: d})
	r.log.Info("stage complete", zap.String("stage", stage), zap.Int("rows", rows), zap.Duration("took", d))
	return nil
}

func (r *runner) recordRules(st *transformer.Stats) {
	if st == nil {
		return
	}
	metrics.RecordRow(r.job, "dropped", int64(st.TotalDropped()-st.Duplicates))
	metrics.RecordRow(r.job, "duplicates", int64(st.Duplicates))
	for col, n := range st.Filled {
		metrics.RecordRow(r.job, "filled", int64(n))
		r.log.Debug("nulls filled", zap.String("column", col), zap.Int("count", n))
	}
	for col, n := range st.ConversionFailures {
		metrics.RecordRow(r.job, "conversion_failures", int64(n))
		r.log.Warn("values failed conversion", zap.String("column", col), zap.Int("count", n))
	}
	for _, flag := range st.FlagNames() {
		n := st.Flags[flag]
		r.rep.Flags[flag] = n
		metrics.RecordFlags(r.job, flag, n)
		r.log.Info("validation flags", zap.String("column", flag), zap.Int("invalid", n))
	}
	for key, n := range st.Dropped {
		r.log.Info("rows dropped", zap.String("rule", key), zap.Int("count", n))
	}
}

// QualityScore is the percentage of rows whose is_valid is true, rounded to
// two decimals. A table without is_valid scores 100; an empty one scores 0.
func QualityScore(t *records.Table) float64 {
	if t == nil || t.Len() == 0 {
		return 0
	}
	if !t.HasColumn(enrich.ValidColumn) {
		return 100
	}
	valid := 0
	for _, row := range t.Rows {
		if b, ok := row[enrich.ValidColumn].(bool); ok && b {
			valid++
		}
	}
	return math.Round(float64(valid)/float64(t.Len())*10000) / 100
}

func countFalse(t *records.Table, col string) int {
	n := 0
	for _, row := range t.Rows {
		if b, ok := row[col].(bool); ok && !b {
			n++
		}
	}
	return n
}

// Summary renders the report as a few human-readable lines.
func (r Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "job %s: extracted %d rows", r.Job, r.Extracted)
	if r.Table != nil {
		fmt.Fprintf(&b, ", %d after cleaning and enrichment", r.Table.Len())
	}
	fmt.Fprintf(&b, " (data quality %.2f%%)\n", r.DataQualityScore)
	for _, s := range r.Stages {
		fmt.Fprintf(&b, "  %-9s %8d rows  %s\n", s.Stage, s.Rows, s.Duration.Round(time.Millisecond))
	}
	if r.DryRun {
		b.WriteString("dry run: nothing loaded\n")
		return b.String()
	}
	fmt.Fprintf(&b, "loaded %d rows into %s (%s, %d attempt(s))\n",
		r.Load.RowsWritten, r.Load.Destination, r.Load.Mode, r.Load.Attempts)
	return b.String()
}
