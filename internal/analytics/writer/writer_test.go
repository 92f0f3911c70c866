package writer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/tableserve-backend/internal/analytics/types"
	pkgbigquery "github.com/angelmondragon/tableserve-backend/pkg/bigquery"
)

type recordedInsert struct {
	table     string
	insertIDs []string
}

type scriptedInserter struct {
	errs    []error
	inserts []recordedInsert
}

func (s *scriptedInserter) InsertRows(_ context.Context, table string, rows []any) error {
	rec := recordedInsert{table: table}
	for _, row := range rows {
		if saver, ok := row.(*cbigquery.StructSaver); ok {
			rec.insertIDs = append(rec.insertIDs, saver.InsertID)
		}
	}
	s.inserts = append(s.inserts, rec)
	if len(s.errs) == 0 {
		return nil
	}
	err := s.errs[0]
	s.errs = s.errs[1:]
	return err
}

func newTestWriter(t *testing.T, batch int, errs ...error) (*BigQueryWriter, *scriptedInserter) {
	t.Helper()
	w, err := New(&pkgbigquery.Client{}, Config{
		SettlementsTable: "payment_settlements",
		BatchSize:        batch,
		RetryPolicy:      RetryPolicy{InitialBackoff: time.Millisecond, MaximumBackoff: time.Millisecond},
	})
	require.NoError(t, err)
	fake := &scriptedInserter{errs: errs}
	w.client = fake
	return w, fake
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil, Config{})
	assert.Error(t, err)
	_, err = New(&pkgbigquery.Client{}, Config{SettlementsTable: " "})
	assert.Error(t, err)

	w, err := New(&pkgbigquery.Client{}, Config{SettlementsTable: "t"})
	require.NoError(t, err)
	assert.Equal(t, 1, w.batchSize)
	assert.Equal(t, 3, w.retry.MaxAttempts)
}

func TestInsertRetriesTransientFailure(t *testing.T) {
	w, fake := newTestWriter(t, 1, &googleapi.Error{Code: http.StatusServiceUnavailable})

	require.NoError(t, w.InsertSettlement(context.Background(), types.SettlementRow{EventID: "evt-1"}))
	require.Len(t, fake.inserts, 2)
	assert.Equal(t, "payment_settlements", fake.inserts[1].table)
	assert.Empty(t, w.buffer)
}

func TestInsertGivesUpAfterMaxAttempts(t *testing.T) {
	unavailable := status.Error(codes.Unavailable, "down")
	w, fake := newTestWriter(t, 1, unavailable, unavailable, unavailable, unavailable)

	err := w.InsertSettlement(context.Background(), types.SettlementRow{EventID: "evt-1"})
	require.Error(t, err)
	assert.Len(t, fake.inserts, 3)
	assert.Len(t, w.buffer, 1)
}

func TestInsertStopsOnPermanentFailure(t *testing.T) {
	w, fake := newTestWriter(t, 1, &googleapi.Error{Code: http.StatusBadRequest})

	err := w.InsertSettlement(context.Background(), types.SettlementRow{EventID: "evt-1"})
	require.Error(t, err)
	assert.Len(t, fake.inserts, 1)
	assert.Len(t, w.buffer, 1, "row stays buffered for the next flush")
}

func TestBatchingUsesEventIDsAsInsertIDs(t *testing.T) {
	w, fake := newTestWriter(t, 2)

	require.NoError(t, w.InsertSettlement(context.Background(), types.SettlementRow{EventID: "evt-1"}))
	assert.Empty(t, fake.inserts)
	require.NoError(t, w.InsertSettlement(context.Background(), types.SettlementRow{EventID: "evt-2"}))
	require.Len(t, fake.inserts, 1)
	assert.Equal(t, []string{"evt-1", "evt-2"}, fake.inserts[0].insertIDs)
}

func TestFlush(t *testing.T) {
	w, fake := newTestWriter(t, 10)
	require.NoError(t, w.InsertSettlement(context.Background(), types.SettlementRow{EventID: "evt-1"}))

	require.NoError(t, w.Flush(context.Background()))
	assert.Len(t, fake.inserts, 1)
	require.NoError(t, w.Flush(context.Background()))
	assert.Len(t, fake.inserts, 1, "empty flush is a no-op")
}

func TestIsRetryableBigQueryError(t *testing.T) {
	transientRow := cbigquery.RowInsertionError{Errors: cbigquery.MultiError{&googleapi.Error{Code: http.StatusServiceUnavailable}}}
	badRow := cbigquery.RowInsertionError{Errors: cbigquery.MultiError{errors.New("no such field")}}

	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("boom"), false},
		{"http 429", &googleapi.Error{Code: http.StatusTooManyRequests}, true},
		{"http 404", &googleapi.Error{Code: http.StatusNotFound}, false},
		{"grpc unavailable", status.Error(codes.Unavailable, "down"), true},
		{"grpc permission denied", status.Error(codes.PermissionDenied, "no"), false},
		{"all rows transient", cbigquery.PutMultiError{transientRow, transientRow}, true},
		{"one bad row", cbigquery.PutMultiError{transientRow, badRow}, false},
		{"empty multi", cbigquery.MultiError{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, isRetryableBigQueryError(tc.err))
		})
	}
}

func TestEncodeJSON(t *testing.T) {
	nj, err := EncodeJSON(map[string]any{"method": "cash"})
	require.NoError(t, err)
	assert.True(t, nj.Valid)
	assert.JSONEq(t, `{"method":"cash"}`, nj.JSONVal)

	nj, err = EncodeJSON(nil)
	require.NoError(t, err)
	assert.False(t, nj.Valid)

	nj, err = EncodeJSON(json.RawMessage(`{"amount":150000}`))
	require.NoError(t, err)
	assert.Equal(t, `{"amount":150000}`, nj.JSONVal)

	nj, err = EncodeJSON([]byte{})
	require.NoError(t, err)
	assert.False(t, nj.Valid)
}
