package session

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"

	"github.com/nao1215/arbiter/internal/database"
	"golang.org/x/crypto/sha3"
)

// pageSize is the number of rows All reads per round trip.
const pageSize = 256

// Collection is a durable, insertion-idempotent set of records of type T.
//
// Members are identified by their canonical encoding: strings are used
// verbatim, and any other type is JSON-encoded with object keys sorted,
// so two structurally equal records are the same member no matter how
// their fields were ordered or which goroutine appended them.
//
// A Collection is safe for concurrent use. Storage failures are logged
// and swallowed: a failed append never aborts the phase that issued it.
type Collection[T any] struct {
	name   string
	db     *database.SessionDB
	logger *slog.Logger
}

func newCollection[T any](name string, db *database.SessionDB, logger *slog.Logger) *Collection[T] {
	return &Collection[T]{name: name, db: db, logger: logger}
}

// Name returns the collection name used in the store and in log output.
func (c *Collection[T]) Name() string {
	return c.name
}

// Append adds item to the collection and reports whether it was new.
func (c *Collection[T]) Append(ctx context.Context, item T) bool {
	return c.Extend(ctx, []T{item}) == 1
}

// Extend adds items to the collection in one transaction and returns
// the number of members that were not present before.
func (c *Collection[T]) Extend(ctx context.Context, items []T) int {
	if len(items) == 0 {
		return 0
	}

	rows := make([]database.Item, 0, len(items))
	for _, item := range items {
		canonical, err := canonicalize(item)
		if err != nil {
			c.logger.Error("failed to encode item", "collection", c.name, "error", err)
			continue
		}
		rows = append(rows, database.Item{Digest: digest(canonical), Data: canonical})
	}

	n, err := c.db.InsertItems(ctx, c.name, rows)
	if err != nil {
		c.logger.Error("failed to append items", "collection", c.name, "count", len(rows), "error", err)
		return 0
	}
	return n
}

// All returns a lazy iterator over the members of the collection.
//
// Rows are read one page at a time and the store is released between
// pages, so the caller may append to this or any other collection of the
// same session while iterating. Members appended during iteration may or
// may not be visited. The iterator can be ranged over more than once.
func (c *Collection[T]) All(ctx context.Context) iter.Seq[T] {
	return func(yield func(T) bool) {
		var after int64
		for {
			page, err := c.db.ScanItems(ctx, c.name, after, pageSize)
			if err != nil {
				c.logger.Error("failed to read items", "collection", c.name, "error", err)
				return
			}
			for _, row := range page {
				after = row.ID
				item, err := decode[T](row.Data)
				if err != nil {
					c.logger.Error("failed to decode item", "collection", c.name, "id", row.ID, "error", err)
					continue
				}
				if !yield(item) {
					return
				}
			}
			if len(page) < pageSize {
				return
			}
		}
	}
}

// Items returns every member of the collection.
func (c *Collection[T]) Items(ctx context.Context) []T {
	items := make([]T, 0)
	for item := range c.All(ctx) {
		items = append(items, item)
	}
	return items
}

// Count returns the number of members. It returns 0 if the store fails.
func (c *Collection[T]) Count(ctx context.Context) int {
	n, err := c.db.CountItems(ctx, c.name)
	if err != nil {
		c.logger.Error("failed to count items", "collection", c.name, "error", err)
		return 0
	}
	return n
}

// IsEmpty reports whether the collection has no members.
func (c *Collection[T]) IsEmpty(ctx context.Context) bool {
	return c.Count(ctx) == 0
}

// Clear removes every member of the collection.
func (c *Collection[T]) Clear(ctx context.Context) {
	if err := c.db.ClearItems(ctx, c.name); err != nil {
		c.logger.Error("failed to clear collection", "collection", c.name, "error", err)
	}
}

// canonicalize returns the identity-defining encoding of item.
func canonicalize[T any](item T) (string, error) {
	if s, ok := any(item).(string); ok {
		return s, nil
	}

	raw, err := json.Marshal(item)
	if err != nil {
		return "", fmt.Errorf("failed to encode item: %w", err)
	}

	// Round-trip through a generic value so object keys come out sorted
	// and numbers keep their exact textual form.
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return "", fmt.Errorf("failed to normalize item: %w", err)
	}

	canonical, err := json.Marshal(generic)
	if err != nil {
		return "", fmt.Errorf("failed to encode canonical item: %w", err)
	}
	return string(canonical), nil
}

// decode converts a stored canonical encoding back into T.
func decode[T any](data string) (T, error) {
	var item T
	if p, ok := any(&item).(*string); ok {
		*p = data
		return item, nil
	}
	if err := json.Unmarshal([]byte(data), &item); err != nil {
		return item, err
	}
	return item, nil
}

// digest returns the hex SHA3-256 of a canonical encoding.
func digest(canonical string) string {
	sum := sha3.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}
