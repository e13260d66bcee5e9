package validator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/wikindex/internal/ingestion"
	apperrors "github.com/Adithya-Monish-Kumar-K/wikindex/pkg/errors"
)

func TestValidateEntryRequestAcceptsEmptyFields(t *testing.T) {
	assert.NoError(t, ValidateEntryRequest("HomePage", &ingestion.EntryRequest{}))
	assert.NoError(t, ValidateEntryRequest("a", &ingestion.EntryRequest{Title: "Rust Guide", Body: "ownership"}))
}

func TestValidateEntryRequestReportsEveryField(t *testing.T) {
	err := ValidateEntryRequest("", &ingestion.EntryRequest{
		Title: strings.Repeat("t", maxTitleLength+1),
		Tags:  "bad\xff",
		Hash:  strings.Repeat("h", maxHashLength+1),
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.Equal(t, "entry id is required", verr.Fields["id"])
	assert.Contains(t, verr.Fields, "title")
	assert.Equal(t, "must be valid UTF-8", verr.Fields["tags"])
	assert.Contains(t, verr.Fields, "hash")
	assert.NotContains(t, verr.Fields, "body")
	assert.True(t, strings.HasPrefix(err.Error(), "hash: "))
}

func TestValidateEvent(t *testing.T) {
	assert.NoError(t, ValidateEvent(&ingestion.EntryEvent{Op: ingestion.OpUpsert, ID: "a", Body: "x"}))
	assert.NoError(t, ValidateEvent(&ingestion.EntryEvent{Op: ingestion.OpDelete, ID: "a"}))

	var verr *ValidationError
	require.ErrorAs(t, ValidateEvent(&ingestion.EntryEvent{Op: "merge", ID: "a"}), &verr)
	assert.Contains(t, verr.Fields, "op")
	require.ErrorAs(t, ValidateEvent(&ingestion.EntryEvent{Op: ingestion.OpDelete}), &verr)
	assert.Contains(t, verr.Fields, "id")
}
