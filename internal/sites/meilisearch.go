package sites

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/meilisearch/meilisearch-go"
)

type meilisearchTarget struct {
	client *meilisearch.Client
	index  *meilisearch.Index
	logger *slog.Logger
}

// NewMeilisearchTarget connects to the configured index, creating it when
// needed. It returns nil when no index name is configured.
func NewMeilisearchTarget(ctx context.Context, cfg MeilisearchConfig, logger *slog.Logger) (ChangeTarget, error) {
	host := strings.TrimSpace(cfg.Host)
	indexName := strings.TrimSpace(cfg.Index)
	if indexName == "" {
		return nil, nil
	}
	if host == "" {
		host = "http://localhost:7700"
	}
	if logger == nil {
		logger = slog.Default()
	}

	client := meilisearch.NewClient(meilisearch.ClientConfig{
		Host:   host,
		APIKey: strings.TrimSpace(cfg.APIKey),
	})
	index := client.Index(indexName)

	t := &meilisearchTarget{client: client, index: index, logger: logger}
	if err := t.ensureIndex(ctx, indexName); err != nil {
		return nil, err
	}
	logger.Info("Search index ready", "host", host, "index", indexName)
	return t, nil
}

var (
	unitSearchableAttributes = []string{"identifier", "file", "content"}
	unitFilterableAttributes = []string{"path", "state"}
)

// ensureIndex creates the unit index on first use and keeps its settings in
// line with unitDocument.
func (t *meilisearchTarget) ensureIndex(ctx context.Context, indexName string) error {
	wait := t.waiter(ctx)

	if _, err := t.client.GetIndex(indexName); err != nil {
		var meiliErr *meilisearch.Error
		if !errors.As(err, &meiliErr) || meiliErr.MeilisearchApiError.Code != "index_not_found" {
			return fmt.Errorf("get index %s: %w", indexName, err)
		}
		if err := wait(t.client.CreateIndex(&meilisearch.IndexConfig{Uid: indexName, PrimaryKey: "id"})); err != nil {
			return fmt.Errorf("create index %s: %w", indexName, err)
		}
	}

	settings, err := t.index.GetSettings()
	if err != nil {
		return fmt.Errorf("get index settings: %w", err)
	}
	// Searchable order sets ranking priority; filterable order does not.
	if slices.Equal(settings.SearchableAttributes, unitSearchableAttributes) &&
		sameMembers(settings.FilterableAttributes, unitFilterableAttributes) {
		return nil
	}
	return wait(t.index.UpdateSettings(&meilisearch.Settings{
		SearchableAttributes: unitSearchableAttributes,
		FilterableAttributes: unitFilterableAttributes,
	}))
}

// waiter returns a func that blocks on an enqueued task and turns a failed
// task into an error.
func (t *meilisearchTarget) waiter(ctx context.Context) func(*meilisearch.TaskInfo, error) error {
	return func(info *meilisearch.TaskInfo, err error) error {
		if err != nil {
			return err
		}
		if info == nil || info.TaskUID == 0 {
			return nil
		}
		task, err := t.client.WaitForTask(info.TaskUID, meilisearch.WaitParams{Context: ctx})
		if err != nil {
			return err
		}
		if task.Status == meilisearch.TaskStatusFailed {
			return fmt.Errorf("meilisearch task %d failed: %s", info.TaskUID, task.Error.Message)
		}
		return nil
	}
}

// ApplyChanges satisfies the ChangeTarget interface.
func (t *meilisearchTarget) ApplyChanges(ctx context.Context, changes ChangeSet) error {
	if changes.IsEmpty() {
		return nil
	}
	wait := t.waiter(ctx)

	if len(changes.Upserts) > 0 {
		if err := wait(t.index.AddDocuments(makeUnitDocuments(changes.Upserts))); err != nil {
			return fmt.Errorf("index units: %w", err)
		}
	}
	if len(changes.Deletions) > 0 {
		ids := make([]string, len(changes.Deletions))
		for i, id := range changes.Deletions {
			ids[i] = unitDocumentID(id)
		}
		if err := wait(t.index.DeleteDocuments(ids)); err != nil {
			return fmt.Errorf("remove units from index: %w", err)
		}
	}

	t.logger.Debug("Applied changes to search index", "upserts", len(changes.Upserts), "deletions", len(changes.Deletions))
	return nil
}

func makeUnitDocuments(revisions []Revision) []unitDocument {
	docs := make([]unitDocument, 0, len(revisions))
	for _, rev := range revisions {
		docs = append(docs, unitDocument{
			ID:           unitDocumentID(rev.Identifier),
			Identifier:   rev.Identifier,
			Path:         rev.Path,
			State:        rev.State.String(),
			File:         rev.File,
			Content:      rev.Content,
			LastModified: rev.LastModified.UTC().Format(time.RFC3339),
		})
	}
	return docs
}

// unitDocumentID maps an identifier onto the characters document ids allow.
func unitDocumentID(identifier string) string {
	sum := md5.Sum([]byte(identifier))
	return hex.EncodeToString(sum[:])
}

// sameMembers compares attribute lists ignoring order.
func sameMembers(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	a := slices.Clone(got)
	b := slices.Clone(want)
	slices.Sort(a)
	slices.Sort(b)
	return slices.Equal(a, b)
}

// unitDocument represents a unit stored in Meilisearch.
type unitDocument struct {
	ID           string   `json:"id"`
	Identifier   string   `json:"identifier"`
	Path         []string `json:"path"`
	State        string   `json:"state"`
	File         string   `json:"file"`
	Content      string   `json:"content"`
	LastModified string   `json:"last_modified"`
}
