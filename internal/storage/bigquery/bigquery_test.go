package bigquery

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	bq "cloud.google.com/go/bigquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/api/googleapi"

	"csvload/internal/apperrors"
	"csvload/internal/schema"
	"csvload/internal/storage"
)

var sch = schema.Schema{Fields: []schema.Field{
	{Name: "customer_id", Type: schema.Integer},
	{Name: "email", Type: schema.String, Nullable: true},
	{Name: "total_spent", Type: schema.Float},
	{Name: "is_valid", Type: schema.Boolean},
	{Name: "registration_date", Type: schema.Timestamp},
}}

func TestNDJSON(t *testing.T) {
	t.Parallel()

	at := time.Date(2023, 1, 15, 9, 30, 0, 123456789, time.FixedZone("CET", 3600))
	got, err := NDJSON(sch, [][]any{
		{int64(1), "a@example.com", 150.5, true, at},
		{int64(2), nil, 0.0, false, at},
	})
	require.NoError(t, err)
	assert.Equal(t,
		`{"customer_id":1,"email":"a@example.com","is_valid":true,"registration_date":"2023-01-15T08:30:00.123456Z","total_spent":150.5}`+"\n"+
			`{"customer_id":2,"is_valid":false,"registration_date":"2023-01-15T08:30:00.123456Z","total_spent":0}`+"\n",
		string(got))

	_, err = NDJSON(sch, [][]any{{int64(1), nil, math.NaN(), true, at}})
	assert.ErrorContains(t, err, "non-finite")
}

func TestSchemaConversion(t *testing.T) {
	t.Parallel()

	b := ToBQ(sch)
	require.Len(t, b, 5)
	assert.Equal(t, bq.IntegerFieldType, b[0].Type)
	assert.True(t, b[0].Required)
	assert.False(t, b[1].Required)
	assert.Equal(t, bq.TimestampFieldType, b[4].Type)

	back, err := fromBQ(b)
	require.NoError(t, err)
	assert.Equal(t, sch, back)

	_, err = fromBQ(bq.Schema{{Name: "g", Type: bq.GeographyFieldType}})
	assert.Error(t, err)
}

func TestDisposition(t *testing.T) {
	t.Parallel()

	for mode, want := range map[storage.WriteMode]bq.TableWriteDisposition{
		storage.Replace:       bq.WriteTruncate,
		storage.Append:        bq.WriteAppend,
		storage.FailIfPresent: bq.WriteEmpty,
	} {
		got, err := Disposition(mode)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := Disposition("merge")
	assert.Error(t, err)
}

func TestTransient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"service unavailable", &googleapi.Error{Code: http.StatusServiceUnavailable}, true},
		{"rate limited", fmt.Errorf("load: %w", &googleapi.Error{Code: http.StatusForbidden, Errors: []googleapi.ErrorItem{{Reason: "rateLimitExceeded"}}}), true},
		{"access denied", &googleapi.Error{Code: http.StatusForbidden, Errors: []googleapi.ErrorItem{{Reason: "accessDenied"}}}, false},
		{"not found", &googleapi.Error{Code: http.StatusNotFound}, false},
		{"job backend error", &bq.Error{Reason: "backendError"}, true},
		{"invalid", &bq.Error{Reason: "invalid"}, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, transient(tc.err))
		})
	}
}

func TestHasReason(t *testing.T) {
	t.Parallel()

	assert.True(t, hasReason(&bq.Error{Reason: "duplicate"}, "duplicate"))
	assert.True(t, hasReason(bq.MultiError{errors.New("x"), &bq.Error{Reason: "duplicate"}}, "duplicate"))
	assert.False(t, hasReason(errors.New("duplicate"), "duplicate"))
	assert.True(t, hasCode(fmt.Errorf("get: %w", &googleapi.Error{Code: 404}), http.StatusNotFound))
}

func TestNewRequiresProject(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), storage.Config{})
	assert.ErrorContains(t, err, "project id")
}

// fakeJobs is a BigQuery job service in memory. Every submitted job runs to
// completion; waitErrs are returned by successive Wait calls before the
// status is.
type fakeJobs struct {
	mu        sync.Mutex
	submitted map[string]int64
	starts    []string
	lookups   []string
	waitErrs  []error
}

type fakeJob struct {
	id   string
	rows int64
	f    *fakeJobs
}

func (j fakeJob) ID() string { return j.id }

func (j fakeJob) Wait(context.Context) (*bq.JobStatus, error) {
	j.f.mu.Lock()
	defer j.f.mu.Unlock()
	if len(j.f.waitErrs) > 0 {
		err := j.f.waitErrs[0]
		j.f.waitErrs = j.f.waitErrs[1:]
		return nil, err
	}
	return &bq.JobStatus{State: bq.Done, Statistics: &bq.JobStatistics{Details: &bq.LoadStatistics{OutputRows: j.rows}}}, nil
}

func (f *fakeJobs) start(_ context.Context, _ *bq.Table, _ bq.LoadSource, _ bq.TableWriteDisposition, jobID string) (loadJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, jobID)
	if _, ok := f.submitted[jobID]; ok {
		return nil, &googleapi.Error{Code: http.StatusConflict, Errors: []googleapi.ErrorItem{{Reason: "duplicate"}}}
	}
	f.submitted[jobID] = 2
	return fakeJob{id: jobID, rows: 2, f: f}, nil
}

func (f *fakeJobs) lookup(_ context.Context, jobID string) (loadJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups = append(f.lookups, jobID)
	rows, ok := f.submitted[jobID]
	if !ok {
		return nil, &googleapi.Error{Code: http.StatusNotFound}
	}
	return fakeJob{id: jobID, rows: rows, f: f}, nil
}

func loadRows() [][]any {
	at := time.Date(2023, 1, 15, 0, 0, 0, 0, time.UTC)
	return [][]any{
		{int64(1), "a@example.com", 10.0, true, at},
		{int64(2), nil, 20.0, false, at},
	}
}

func TestWriteResumesJobAfterLostWait(t *testing.T) {
	t.Parallel()

	jobs := &fakeJobs{
		submitted: map[string]int64{},
		waitErrs:  []error{&net.OpError{Op: "read", Net: "tcp", Err: errors.New("connection reset by peer")}},
	}
	w := newWarehouse(nil, jobs, "US", zaptest.NewLogger(t))
	dest := storage.Destination{Project: "p", Namespace: "customer_data", Table: "customers"}

	_, err := w.Write(context.Background(), dest, sch, loadRows(), storage.Append)
	require.Error(t, err)
	require.True(t, apperrors.IsTransient(err), "a lost wait must be retried")

	n, err := w.Write(context.Background(), dest, sch, loadRows(), storage.Append)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.Len(t, jobs.starts, 2)
	assert.Equal(t, jobs.starts[0], jobs.starts[1], "retry must reuse the job id")
	assert.Equal(t, []string{jobs.starts[0]}, jobs.lookups)
	assert.Len(t, jobs.submitted, 1, "rows must be loaded by one job only")
}

func TestJobIDs(t *testing.T) {
	t.Parallel()

	w := newWarehouse(nil, &fakeJobs{}, "US", zaptest.NewLogger(t))
	other := newWarehouse(nil, &fakeJobs{}, "US", zaptest.NewLogger(t))
	dest := storage.Destination{Namespace: "ds", Table: "t"}

	a := w.payloadKey(dest, bq.WriteAppend, []byte("{}\n"))
	assert.Equal(t, a, w.payloadKey(dest, bq.WriteAppend, []byte("{}\n")))
	assert.NotEqual(t, a, w.payloadKey(dest, bq.WriteTruncate, []byte("{}\n")))
	assert.NotEqual(t, a, w.payloadKey(storage.Destination{Namespace: "ds", Table: "u"}, bq.WriteAppend, []byte("{}\n")))

	id := w.jobID(a)
	assert.Equal(t, id, w.jobID(a))
	assert.Regexp(t, `^[a-z0-9_]+$`, id)
	assert.NotEqual(t, id, other.jobID(a), "separate runs must not share job ids")

	w.jobFailed(a)
	assert.NotEqual(t, id, w.jobID(a), "a failed job frees the payload for a new id")
}
