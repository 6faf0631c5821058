// Package store defines the document store contract shared by every client of
// the commerce state: full-snapshot subscriptions per collection, immutable
// inserts, version-conditional updates and deletes.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"
)

type Collection string

const (
	Products  Collection = "products"
	Sales     Collection = "sales"
	Customers Collection = "crm_customers"
	Settings  Collection = "settings"
)

// SettingsDocID is the id of the single configuration document in Settings.
const SettingsDocID = "config"

// Collections lists every collection a client subscribes to.
var Collections = []Collection{Products, Sales, Customers, Settings}

func (c Collection) Valid() bool {
	for _, known := range Collections {
		if c == known {
			return true
		}
	}
	return false
}

var (
	ErrNotFound         = errors.New("document not found")
	ErrConflict         = errors.New("document version conflict")
	ErrAlreadyExists    = errors.New("document already exists")
	ErrUnavailable      = errors.New("store unavailable")
	ErrClosed           = errors.New("store closed")
	ErrRetriesExhausted = errors.New("conditional update retries exhausted")
)

// Document is one stored record. Version starts at 1 and grows by one on every
// successful UpdateIf. CreatedAt is assigned by the store on insert.
type Document struct {
	ID        string
	Version   int64
	CreatedAt time.Time
	Data      json.RawMessage
}

// Snapshot is the complete member set of a collection at one commit point.
// Seq grows with every snapshot delivered to the same subscription.
type Snapshot struct {
	Collection Collection
	Seq        uint64
	Docs       []Document
}

// Find returns the document with the given id.
func (s Snapshot) Find(id string) (Document, bool) {
	for _, d := range s.Docs {
		if d.ID == id {
			return d, true
		}
	}
	return Document{}, false
}

// Subscription is a scoped resource: Close must be called on every exit path.
type Subscription interface {
	Close() error
}

// Store is the boundary every engine component talks to.
//
// Subscribe delivers the current snapshot first and then one snapshot per
// committed change, sequentially and in commit order. A slow subscriber may
// skip intermediate snapshots but never observes an older one after a newer.
// Delivery stops when the subscription is closed or ctx is done.
type Store interface {
	Subscribe(ctx context.Context, c Collection, fn func(Snapshot)) (Subscription, error)
	// Insert stores a new document. An empty id asks the store to assign one.
	Insert(ctx context.Context, c Collection, id string, data []byte) (Document, error)
	Get(ctx context.Context, c Collection, id string) (Document, error)
	// UpdateIf replaces the document data only if its version still equals version.
	UpdateIf(ctx context.Context, c Collection, id string, version int64, data []byte) (Document, error)
	Delete(ctx context.Context, c Collection, id string) error
}

// SortDocuments orders a snapshot the way subscribers expect it: sales newest
// first, every other collection by id.
func SortDocuments(c Collection, docs []Document) {
	if c == Sales {
		sort.SliceStable(docs, func(i, j int) bool {
			if !docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
				return docs[i].CreatedAt.After(docs[j].CreatedAt)
			}
			return docs[i].ID > docs[j].ID
		})
		return
	}
	sort.SliceStable(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
}
