package writer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
	"github.com/cenkalti/backoff/v4"

	"github.com/angelmondragon/tableserve-backend/internal/analytics/types"
	pkgbigquery "github.com/angelmondragon/tableserve-backend/pkg/bigquery"
)

type Config struct {
	SettlementsTable string
	// BatchSize rows are buffered before a streaming insert. 1 inserts every row.
	BatchSize   int
	RetryPolicy RetryPolicy
}

type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaximumBackoff time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = 250 * time.Millisecond
	}
	if p.MaximumBackoff < p.InitialBackoff {
		p.MaximumBackoff = max(2*time.Second, p.InitialBackoff)
	}
	return p
}

type tableInserter interface {
	InsertRows(ctx context.Context, table string, rows []any) error
}

// BigQueryWriter streams settlement rows into BigQuery. The event ID doubles
// as insert ID, so a redelivered message or retried insert is deduplicated.
// Safe for concurrent use.
type BigQueryWriter struct {
	client    tableInserter
	table     string
	batchSize int
	retry     RetryPolicy
	schema    cbigquery.Schema

	mu     sync.Mutex
	buffer []types.SettlementRow
}

func New(client *pkgbigquery.Client, cfg Config) (*BigQueryWriter, error) {
	if client == nil {
		return nil, errors.New("bigquery client required")
	}
	table := strings.TrimSpace(cfg.SettlementsTable)
	if table == "" {
		return nil, errors.New("settlements table is required")
	}
	return &BigQueryWriter{
		client:    client,
		table:     table,
		batchSize: max(cfg.BatchSize, 1),
		retry:     cfg.RetryPolicy.withDefaults(),
		schema:    types.SettlementSchema(),
	}, nil
}

func (w *BigQueryWriter) InsertSettlement(ctx context.Context, row types.SettlementRow) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buffer = append(w.buffer, row)
	if len(w.buffer) < w.batchSize {
		return nil
	}
	return w.flushLocked(ctx)
}

// Flush inserts whatever is buffered. On failure the rows stay buffered for
// the next attempt.
func (w *BigQueryWriter) Flush(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked(ctx)
}

func (w *BigQueryWriter) flushLocked(ctx context.Context) error {
	if len(w.buffer) == 0 {
		return nil
	}
	savers := make([]any, 0, len(w.buffer))
	for i := range w.buffer {
		savers = append(savers, &cbigquery.StructSaver{
			Schema:   w.schema,
			InsertID: w.buffer[i].EventID,
			Struct:   &w.buffer[i],
		})
	}
	if err := w.insert(ctx, savers); err != nil {
		return fmt.Errorf("insert %d rows into %s: %w", len(savers), w.table, err)
	}
	w.buffer = w.buffer[:0]
	return nil
}

func (w *BigQueryWriter) insert(ctx context.Context, rows []any) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = w.retry.InitialBackoff
	policy.MaxInterval = w.retry.MaximumBackoff
	policy.MaxElapsedTime = 0

	attempt := func() error {
		err := w.client.InsertRows(ctx, w.table, rows)
		if err != nil && !isRetryableBigQueryError(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	b := backoff.WithMaxRetries(policy, uint64(w.retry.MaxAttempts-1))
	return backoff.Retry(attempt, backoff.WithContext(b, ctx))
}
