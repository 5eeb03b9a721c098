// Package bigquery is the BigQuery warehouse backend. A namespace is a
// dataset, created in the configured location when missing. Every write is
// a single load job of newline-delimited JSON with an explicit schema; the
// job's write disposition gives replace (WRITE_TRUNCATE), append
// (WRITE_APPEND) and fail-if-present (WRITE_EMPTY) their atomicity.
//
// Load jobs get a job ID derived from the run, the destination, the
// disposition and the payload. When an attempt loses track of its job
// (a polling error, or a submit whose response never arrived), the retry
// submits the same ID, gets a duplicate-job conflict and waits on the
// existing job instead of loading the rows a second time. A new ID is only
// used once a job has finished with an error, since a failed load job
// writes nothing.
package bigquery

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	bq "cloud.google.com/go/bigquery"
	"github.com/zeebo/xxh3"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"csvload/internal/apperrors"
	"csvload/internal/schema"
	"csvload/internal/storage"
)

func init() {
	storage.Register("bigquery", func(ctx context.Context, cfg storage.Config) (storage.Warehouse, error) {
		return New(ctx, cfg)
	})
}

// Warehouse loads into BigQuery.
type Warehouse struct {
	client   *bq.Client
	jobs     jobRunner
	location string
	log      *zap.Logger

	// runID scopes job IDs to this Warehouse so separate runs loading the
	// same payload never collide.
	runID string

	mu sync.Mutex
	// failed counts load jobs per payload that finished with an error.
	failed map[string]int
}

// loadJob is the part of *bq.Job a write needs.
type loadJob interface {
	ID() string
	Wait(ctx context.Context) (*bq.JobStatus, error)
}

// jobRunner submits and finds load jobs.
type jobRunner interface {
	start(ctx context.Context, table *bq.Table, src bq.LoadSource, disposition bq.TableWriteDisposition, jobID string) (loadJob, error)
	lookup(ctx context.Context, jobID string) (loadJob, error)
}

type clientJobs struct{ client *bq.Client }

func (c clientJobs) start(ctx context.Context, table *bq.Table, src bq.LoadSource, disposition bq.TableWriteDisposition, jobID string) (loadJob, error) {
	loader := table.LoaderFrom(src)
	loader.JobID = jobID
	loader.WriteDisposition = disposition
	loader.CreateDisposition = bq.CreateIfNeeded
	job, err := loader.Run(ctx)
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (c clientJobs) lookup(ctx context.Context, jobID string) (loadJob, error) {
	job, err := c.client.JobFromID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return job, nil
}

var _ storage.Warehouse = (*Warehouse)(nil)

// New creates a client for cfg.Project. cfg.CredentialsPath, when set, names
// a service account key file; otherwise application default credentials
// are used.
func New(ctx context.Context, cfg storage.Config) (*Warehouse, error) {
	if cfg.Project == "" {
		return nil, fmt.Errorf("bigquery: project id is required")
	}
	var opts []option.ClientOption
	if cfg.CredentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsPath))
	}
	client, err := bq.NewClient(ctx, cfg.Project, opts...)
	if err != nil {
		return nil, classify(fmt.Errorf("bigquery: client: %w", err))
	}
	client.Location = cfg.Location
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	return newWarehouse(client, clientJobs{client: client}, cfg.Location, log.Named("bigquery")), nil
}

func newWarehouse(client *bq.Client, jobs jobRunner, location string, log *zap.Logger) *Warehouse {
	return &Warehouse{
		client:   client,
		jobs:     jobs,
		location: location,
		log:      log,
		runID:    strings.ToLower(rand.Text()),
		failed:   map[string]int{},
	}
}

func (w *Warehouse) Close() error {
	if w.client == nil {
		return nil
	}
	return w.client.Close()
}

func (w *Warehouse) dataset(dest storage.Destination) *bq.Dataset {
	if dest.Project != "" {
		return w.client.DatasetInProject(dest.Project, dest.Namespace)
	}
	return w.client.Dataset(dest.Namespace)
}

func (w *Warehouse) EnsureNamespace(ctx context.Context, dest storage.Destination) error {
	ds := w.dataset(dest)
	_, err := ds.Metadata(ctx)
	if err == nil {
		return nil
	}
	if !hasCode(err, http.StatusNotFound) {
		return classify(fmt.Errorf("bigquery: dataset %s: %w", dest.Namespace, err))
	}
	err = ds.Create(ctx, &bq.DatasetMetadata{Location: w.location})
	if err != nil && !hasCode(err, http.StatusConflict) {
		return classify(fmt.Errorf("bigquery: create dataset %s: %w", dest.Namespace, err))
	}
	w.log.Info("dataset created", zap.String("dataset", dest.Namespace), zap.String("location", w.location))
	return nil
}

func (w *Warehouse) Describe(ctx context.Context, dest storage.Destination) (storage.TableInfo, error) {
	md, err := w.dataset(dest).Table(dest.Table).Metadata(ctx)
	if hasCode(err, http.StatusNotFound) {
		return storage.TableInfo{}, nil
	}
	if err != nil {
		return storage.TableInfo{}, classify(fmt.Errorf("bigquery: table %s: %w", dest, err))
	}
	s, err := fromBQ(md.Schema)
	if err != nil {
		return storage.TableInfo{}, fmt.Errorf("bigquery: table %s: %w", dest, err)
	}
	return storage.TableInfo{
		Exists:      true,
		Schema:      s,
		Rows:        int64(md.NumRows),
		Bytes:       md.NumBytes,
		Created:     md.CreationTime,
		Modified:    md.LastModifiedTime,
		Description: md.Description,
	}, nil
}

func (w *Warehouse) Write(ctx context.Context, dest storage.Destination, s schema.Schema, rows [][]any, mode storage.WriteMode) (int64, error) {
	disposition, err := Disposition(mode)
	if err != nil {
		return 0, err
	}
	data, err := NDJSON(s, rows)
	if err != nil {
		return 0, fmt.Errorf("bigquery: encode rows: %w", err)
	}

	src := bq.NewReaderSource(bytes.NewReader(data))
	src.SourceFormat = bq.JSON
	src.Schema = ToBQ(s)
	src.MaxBadRecords = 0
	src.IgnoreUnknownValues = false

	payload := w.payloadKey(dest, disposition, data)
	jobID := w.jobID(payload)

	job, err := w.jobs.start(ctx, w.table(dest), src, disposition, jobID)
	if hasCode(err, http.StatusConflict) {
		w.log.Info("load job already submitted, waiting on it", zap.String("job", jobID), zap.Stringer("destination", dest))
		job, err = w.jobs.lookup(ctx, jobID)
	}
	if err != nil {
		return 0, classify(fmt.Errorf("bigquery: start load job %s: %w", jobID, err))
	}
	w.log.Debug("load job started", zap.String("job", job.ID()), zap.Stringer("destination", dest), zap.Int("rows", len(rows)))
	status, err := job.Wait(ctx)
	if err != nil {
		// The job may still complete; a retry resumes it by ID.
		return 0, classify(fmt.Errorf("bigquery: wait for job %s: %w", job.ID(), err))
	}
	if err := status.Err(); err != nil {
		w.jobFailed(payload)
		if mode == storage.FailIfPresent && hasReason(err, "duplicate") {
			return 0, apperrors.Conflict("%s is not empty: %v", dest, err)
		}
		return 0, classify(fmt.Errorf("bigquery: load job %s: %w", job.ID(), err))
	}
	if status.Statistics == nil {
		return int64(len(rows)), nil
	}
	if st, ok := status.Statistics.Details.(*bq.LoadStatistics); ok {
		return st.OutputRows, nil
	}
	return int64(len(rows)), nil
}

func (w *Warehouse) table(dest storage.Destination) *bq.Table {
	if w.client == nil {
		return nil
	}
	return w.dataset(dest).Table(dest.Table)
}

// payloadKey identifies one write: destination, disposition and rows.
func (w *Warehouse) payloadKey(dest storage.Destination, disposition bq.TableWriteDisposition, data []byte) string {
	h := xxh3.New()
	_, _ = h.WriteString(dest.String())
	_, _ = h.WriteString("\x00" + string(disposition) + "\x00")
	_, _ = h.Write(data)
	return fmt.Sprintf("%016x", h.Sum64())
}

// jobID is stable for a payload until a job for it fails.
func (w *Warehouse) jobID(payload string) string {
	w.mu.Lock()
	n := w.failed[payload]
	w.mu.Unlock()
	return fmt.Sprintf("csvload_%s_%s_%d", w.runID, payload, n)
}

func (w *Warehouse) jobFailed(payload string) {
	w.mu.Lock()
	w.failed[payload]++
	w.mu.Unlock()
}

// Disposition maps a write mode to the load job setting.
func Disposition(mode storage.WriteMode) (bq.TableWriteDisposition, error) {
	switch mode {
	case storage.Replace:
		return bq.WriteTruncate, nil
	case storage.Append:
		return bq.WriteAppend, nil
	case storage.FailIfPresent:
		return bq.WriteEmpty, nil
	}
	return "", fmt.Errorf("bigquery: unknown write mode %q", mode)
}

// ToBQ converts a destination schema.
func ToBQ(s schema.Schema) bq.Schema {
	out := make(bq.Schema, len(s.Fields))
	for i, f := range s.Fields {
		out[i] = &bq.FieldSchema{Name: f.Name, Type: bq.FieldType(f.Type), Required: !f.Nullable}
	}
	return out
}

func fromBQ(s bq.Schema) (schema.Schema, error) {
	out := schema.Schema{Fields: make([]schema.Field, len(s))}
	for i, f := range s {
		w := schema.WarehouseType(f.Type)
		if _, err := schema.LogicalType(w); err != nil {
			return schema.Schema{}, fmt.Errorf("field %s: %w", f.Name, err)
		}
		out.Fields[i] = schema.Field{Name: f.Name, Type: w, Nullable: !f.Required}
	}
	return out, nil
}

// timestampLayout is microsecond precision, the finest BigQuery keeps.
const timestampLayout = "2006-01-02T15:04:05.999999Z07:00"

// NDJSON renders rows as newline-delimited JSON objects keyed by field name.
// Nulls are omitted. Non-finite floats are rejected.
func NDJSON(s schema.Schema, rows [][]any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	obj := make(map[string]any, len(s.Fields))
	for i, row := range rows {
		clear(obj)
		for j, f := range s.Fields {
			switch v := row[j].(type) {
			case nil:
			case time.Time:
				obj[f.Name] = v.UTC().Format(timestampLayout)
			case float64:
				if math.IsNaN(v) || math.IsInf(v, 0) {
					return nil, fmt.Errorf("row %d field %s: non-finite float %v", i, f.Name, v)
				}
				obj[f.Name] = v
			default:
				obj[f.Name] = v
			}
		}
		if err := enc.Encode(obj); err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// transientReasons are the BigQuery error reasons worth retrying.
var transientReasons = map[string]bool{
	"backendError":      true,
	"internalError":     true,
	"rateLimitExceeded": true,
	"jobBackendError":   true,
	"jobInternalError":  true,
}

func classify(err error) error {
	if err != nil && transient(err) {
		return apperrors.Unavailable(err)
	}
	return err
}

func transient(err error) bool {
	var ge *googleapi.Error
	if errors.As(err, &ge) {
		switch ge.Code {
		case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		for _, item := range ge.Errors {
			if transientReasons[item.Reason] {
				return true
			}
		}
		return false
	}
	var be *bq.Error
	if errors.As(err, &be) {
		return transientReasons[be.Reason]
	}
	var ne net.Error
	return errors.As(err, &ne)
}

func hasCode(err error, code int) bool {
	var ge *googleapi.Error
	return errors.As(err, &ge) && ge.Code == code
}

func hasReason(err error, reason string) bool {
	var be *bq.Error
	if errors.As(err, &be) && be.Reason == reason {
		return true
	}
	var me bq.MultiError
	if errors.As(err, &me) {
		for _, e := range me {
			if hasReason(e, reason) {
				return true
			}
		}
	}
	return false
}
