// Package ingestion defines the request/response bodies of the entry write
// API and the Kafka event schemas that carry entry changes to the indexer.
package ingestion

import "time"

// Entry operations carried by EntryEvent.
const (
	OpUpsert = "upsert"
	OpDelete = "delete"
)

// EntryRequest is the JSON body accepted by PUT /api/v1/entries/{id}.
// Every field is optional; a nil MTime means "now".
type EntryRequest struct {
	Title string     `json:"title"`
	Body  string     `json:"body"`
	Tags  string     `json:"tags"`
	Hash  string     `json:"hash"`
	MTime *time.Time `json:"mtime,omitempty"`
}

// EntryResponse is returned after an entry write is applied or queued.
type EntryResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// EntryEvent is the payload of the entry-upsert topic. Delete events carry
// only Op and ID.
type EntryEvent struct {
	Op        string     `json:"op"`
	ID        string     `json:"id"`
	Title     string     `json:"title,omitempty"`
	Body      string     `json:"body,omitempty"`
	Tags      string     `json:"tags,omitempty"`
	Hash      string     `json:"hash,omitempty"`
	MTime     *time.Time `json:"mtime,omitempty"`
	EmittedAt time.Time  `json:"emitted_at"`
}

// IndexedEvent is published on the index-complete topic once an
// EntryEvent has been applied, or has failed for good.
type IndexedEvent struct {
	ID        string    `json:"id"`
	Op        string    `json:"op"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	IndexedAt time.Time `json:"indexed_at"`
}

// IndexedEvent statuses.
const (
	StatusIndexed = "INDEXED"
	StatusDeleted = "DELETED"
	StatusFailed  = "FAILED"
)
