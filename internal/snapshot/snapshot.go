// Package snapshot exports a built index: a JSON document to a blob store,
// rows to a database and a notification to a topic. Each target is optional.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/antonlok/aggregator-threadpool/internal/index"
	"github.com/antonlok/aggregator-threadpool/internal/news"
)

const contentType = "application/json"

// Source is the index being exported.
type Source interface {
	Entries() []index.Entry
}

// IndexSink persists the entries of one build.
type IndexSink interface {
	SaveIndex(ctx context.Context, runID string, builtAt time.Time, entries []index.Entry) error
}

// Config controls object naming and the notification topic.
type Config struct {
	Prefix string
	Topic  string
}

// Document is the JSON written to the blob store.
type Document struct {
	RunID    string        `json:"run_id"`
	BuiltAt  time.Time     `json:"built_at"`
	Articles int           `json:"articles"`
	Entries  []index.Entry `json:"entries"`
}

// Notification is the payload published once a snapshot is out.
type Notification struct {
	RunID     string    `json:"run_id"`
	BuiltAt   time.Time `json:"built_at"`
	Articles  int       `json:"articles"`
	Terms     int       `json:"terms"`
	URI       string    `json:"uri,omitempty"`
	Digest    string    `json:"digest,omitempty"`
	Persisted bool      `json:"persisted"`
}

// Result reports what Export managed to do.
type Result struct {
	Notification
	MessageID string
}

// Exporter fans one index out to the configured targets.
type Exporter struct {
	cfg       Config
	blobs     news.BlobStore
	sink      IndexSink
	publisher news.Publisher
	hasher    news.Hasher
	clock     news.Clock
	ids       news.IDGenerator
	logger    *zap.Logger
}

// Option wires an optional target.
type Option func(*Exporter)

// WithBlobStore writes the JSON document to store.
func WithBlobStore(store news.BlobStore) Option {
	return func(e *Exporter) { e.blobs = store }
}

// WithIndexSink persists rows through sink.
func WithIndexSink(sink IndexSink) Option {
	return func(e *Exporter) { e.sink = sink }
}

// WithPublisher announces each export on cfg.Topic.
func WithPublisher(publisher news.Publisher) Option {
	return func(e *Exporter) { e.publisher = publisher }
}

// New returns an Exporter. hasher, clock and ids are required.
func New(cfg Config, hasher news.Hasher, clock news.Clock, ids news.IDGenerator, logger *zap.Logger, opts ...Option) (*Exporter, error) {
	if hasher == nil || clock == nil || ids == nil {
		return nil, fmt.Errorf("snapshot: hasher, clock and id generator are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Exporter{
		cfg:    cfg,
		hasher: hasher,
		clock:  clock,
		ids:    ids,
		logger: logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Enabled reports whether any target is configured.
func (e *Exporter) Enabled() bool {
	return e.blobs != nil || e.sink != nil || e.publisher != nil
}

// Export writes src to every configured target. A failing target does not
// stop the others; the failures come back joined. The notification is only
// sent when at least one of the blob store and the sink succeeded.
func (e *Exporter) Export(ctx context.Context, src Source) (Result, error) {
	runID, err := e.ids.NewID()
	if err != nil {
		return Result{}, fmt.Errorf("snapshot run id: %w", err)
	}
	entries := src.Entries()
	res := Result{Notification: Notification{
		RunID:    runID,
		BuiltAt:  e.clock.Now(),
		Articles: len(entries),
		Terms:    lo.SumBy(entries, func(entry index.Entry) int { return len(entry.Terms) }),
	}}

	var errs []error
	if e.blobs != nil {
		if err := e.writeDocument(ctx, &res, entries); err != nil {
			errs = append(errs, err)
		}
	}
	if e.sink != nil {
		if err := e.sink.SaveIndex(ctx, runID, res.BuiltAt, entries); err != nil {
			errs = append(errs, fmt.Errorf("persist index: %w", err))
		} else {
			res.Persisted = true
		}
	}
	if e.publisher != nil && e.cfg.Topic != "" && (res.URI != "" || res.Persisted) {
		id, err := e.publisher.Publish(ctx, e.cfg.Topic, res.Notification)
		if err != nil {
			errs = append(errs, fmt.Errorf("publish notification: %w", err))
		} else {
			res.MessageID = id
		}
	}

	e.logger.Info("index exported",
		zap.String("run_id", runID),
		zap.Int("articles", res.Articles),
		zap.String("uri", res.URI),
		zap.Bool("persisted", res.Persisted),
		zap.String("message_id", res.MessageID),
	)
	return res, errors.Join(errs...)
}

func (e *Exporter) writeDocument(ctx context.Context, res *Result, entries []index.Entry) error {
	body, err := json.Marshal(Document{
		RunID:    res.RunID,
		BuiltAt:  res.BuiltAt,
		Articles: len(entries),
		Entries:  entries,
	})
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	digest, err := e.hasher.Hash(body)
	if err != nil {
		return fmt.Errorf("hash snapshot: %w", err)
	}
	uri, err := e.blobs.PutObject(ctx, ObjectPath(e.cfg.Prefix, res.RunID), contentType, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	res.URI = uri
	res.Digest = digest
	return nil
}

// ObjectPath names the snapshot object of one run.
func ObjectPath(prefix, runID string) string {
	return path.Join(prefix, runID+".json")
}
