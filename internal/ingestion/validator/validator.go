// Package validator checks entry writes before they reach the engine and
// reports problems per field.
package validator

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/Adithya-Monish-Kumar-K/wikindex/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/wikindex/internal/ingestion"
	apperrors "github.com/Adithya-Monish-Kumar-K/wikindex/pkg/errors"
)

const (
	maxTitleLength = 1024
	maxTagsLength  = 4096
	maxHashLength  = 255
	maxBodyLength  = 10 << 20
)

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for field := range e.Fields {
		names = append(names, field)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, field := range names {
		parts[i] = fmt.Sprintf("%s: %s", field, e.Fields[field])
	}
	return strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return apperrors.ErrInvalidInput
}

// ValidateEntryRequest checks the ID and field sizes of an entry write.
// Empty text fields are allowed.
func ValidateEntryRequest(id string, req *ingestion.EntryRequest) error {
	errs := make(map[string]string)
	checkID(errs, id)
	checkText(errs, "title", req.Title, maxTitleLength)
	checkText(errs, "tags", req.Tags, maxTagsLength)
	checkText(errs, "body", req.Body, maxBodyLength)
	if len(req.Hash) > maxHashLength {
		errs["hash"] = fmt.Sprintf("must be at most %d bytes", maxHashLength)
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

// ValidateEvent checks an entry event taken off the queue.
func ValidateEvent(ev *ingestion.EntryEvent) error {
	switch ev.Op {
	case ingestion.OpUpsert:
		return ValidateEntryRequest(ev.ID, &ingestion.EntryRequest{
			Title: ev.Title,
			Body:  ev.Body,
			Tags:  ev.Tags,
			Hash:  ev.Hash,
		})
	case ingestion.OpDelete:
		errs := make(map[string]string)
		checkID(errs, ev.ID)
		if len(errs) > 0 {
			return &ValidationError{Fields: errs}
		}
		return nil
	default:
		return &ValidationError{Fields: map[string]string{"op": fmt.Sprintf("unknown operation %q", ev.Op)}}
	}
}

func checkID(errs map[string]string, id string) {
	if err := indexer.ValidateID(id); err != nil {
		errs["id"] = strings.TrimPrefix(err.Error(), apperrors.ErrInvalidInput.Error()+": ")
	}
}

func checkText(errs map[string]string, field, value string, limit int) {
	switch {
	case len(value) > limit:
		errs[field] = fmt.Sprintf("must be at most %d bytes", limit)
	case !utf8.ValidString(value):
		errs[field] = "must be valid UTF-8"
	}
}
