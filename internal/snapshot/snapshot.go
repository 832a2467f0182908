// Package snapshot archives the detail-page HTML captured by each ETL run, so a failed transform can
// be replayed offline against exactly what the browser saw.
package snapshot

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/JakeFAU/hellowork-crawler/internal/job"
)

// ContentType of every snapshot.
const ContentType = "text/html; charset=utf-8"

// Object is one blob to store.
type Object struct {
	Key         string
	ContentType string
	Body        []byte
	Metadata    map[string]string
}

// BlobStore persists objects and returns a URI for each.
type BlobStore interface {
	Put(ctx context.Context, obj Object) (string, error)
}

// Hasher digests snapshot bodies for content-addressed keys.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Archiver writes snapshots under <prefix>/<job-number>/<digest>.html.
type Archiver struct {
	store  BlobStore
	hasher Hasher
	prefix string
}

// NewArchiver builds an Archiver. An empty prefix stores keys at the root.
func NewArchiver(store BlobStore, hasher Hasher, prefix string) *Archiver {
	return &Archiver{store: store, hasher: hasher, prefix: strings.Trim(prefix, "/")}
}

// Key returns the object key for html captured for number.
func (a *Archiver) Key(number job.Number, html []byte) (string, error) {
	digest, err := a.hasher.Hash(html)
	if err != nil {
		return "", fmt.Errorf("hash snapshot: %w", err)
	}
	return path.Join(a.prefix, number.String(), digest+".html"), nil
}

// Save stores html for number, tagged with the run and source URL.
func (a *Archiver) Save(ctx context.Context, number job.Number, runID, sourceURL string, html []byte) (string, error) {
	key, err := a.Key(number, html)
	if err != nil {
		return "", err
	}
	uri, err := a.store.Put(ctx, Object{
		Key:         key,
		ContentType: ContentType,
		Body:        html,
		Metadata: map[string]string{
			"jobNumber": number.String(),
			"runId":     runID,
			"sourceUrl": sourceURL,
		},
	})
	if err != nil {
		return "", fmt.Errorf("store snapshot %s: %w", key, err)
	}
	return uri, nil
}

// NoOpStore discards every object.
type NoOpStore struct{}

// Put for NoOpStore does nothing and returns an empty URI.
func (NoOpStore) Put(context.Context, Object) (string, error) { return "", nil }
