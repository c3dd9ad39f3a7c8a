// Package upstream opens answer streams from the LLM backend the proxy
// fronts. Every upstream yields the same SSE byte stream so the proxy can
// pipe it without interpretation.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrUnavailable means the backend refused the connection.
var ErrUnavailable = errors.New("upstream unavailable")

// StatusError is an error status returned by the backend.
type StatusError struct {
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.Code, e.Detail)
}

// Question is a single request to the backend.
type Question struct {
	Query string
	Model string
}

// Model describes one selectable model.
type Model struct {
	Identifier string `json:"identifier"`
}

// Catalog is the list of models offered to clients.
type Catalog struct {
	Models       []Model `json:"models"`
	DefaultModel string  `json:"default_model"`
}

// Identifiers returns the model identifiers in catalog order.
func (c *Catalog) Identifiers() []string {
	ids := make([]string, 0, len(c.Models))
	for _, m := range c.Models {
		ids = append(ids, m.Identifier)
	}
	return ids
}

// NewCatalog builds a catalog from identifiers. An empty defaultModel
// selects the first entry.
func NewCatalog(ids []string, defaultModel string) *Catalog {
	c := &Catalog{Models: make([]Model, 0, len(ids)), DefaultModel: defaultModel}
	for _, id := range ids {
		c.Models = append(c.Models, Model{Identifier: id})
	}
	if c.DefaultModel == "" && len(ids) > 0 {
		c.DefaultModel = ids[0]
	}
	return c
}

// Upstream is a source of answer streams.
type Upstream interface {
	// Open starts answering q. The returned body is an SSE byte stream the
	// caller must close.
	Open(ctx context.Context, q Question) (io.ReadCloser, error)
	// Models lists the models the backend serves.
	Models(ctx context.Context) (*Catalog, error)
}
