package failure

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFailureErrorIncludesContext(t *testing.T) {
	t.Parallel()

	cause := errors.New("timeout")
	f := New(KindNavigation, "openSearchPage", "goto failed",
		WithURL("https://example.test/search"),
		WithSelector("body"),
		WithCause(cause),
	)

	msg := f.Error()
	assert.Contains(t, msg, "kind=navigation")
	assert.Contains(t, msg, "op=openSearchPage")
	assert.Contains(t, msg, `selector="body"`)
	assert.Contains(t, msg, "url=https://example.test/search")
	assert.Contains(t, msg, "timeout")
	assert.ErrorIs(t, f, cause)
}

func TestWithStageAttributesOnce(t *testing.T) {
	t.Parallel()

	base := New(KindExtract, "extract", "element missing", WithField("wage"))
	wrapped := fmt.Errorf("detail page: %w", base)

	first := WithStage(wrapped, StageExtracting)
	f, ok := As(first)
	require.True(t, ok)
	assert.Equal(t, StageExtracting, f.Stage)
	assert.Equal(t, "wage", f.Field)
	assert.Equal(t, StageUnattributed, base.Stage, "original failure must not be mutated")

	second := WithStage(first, StageLoading)
	f, ok = As(second)
	require.True(t, ok)
	assert.Equal(t, StageExtracting, f.Stage)
}

func TestWithStageWrapsForeignErrors(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")
	err := WithStage(cause, StageTransforming)

	f, ok := As(err)
	require.True(t, ok)
	assert.Equal(t, KindUnknown, f.Kind)
	assert.Equal(t, StageTransforming, f.Stage)
	assert.ErrorIs(t, err, cause)
	assert.NoError(t, WithStage(nil, StageLoading))
}

func TestRetryable(t *testing.T) {
	t.Parallel()

	assert.False(t, Retryable(nil))
	assert.False(t, Retryable(New(KindLoadDuplicate, "load", "exists")))
	assert.True(t, Retryable(New(KindLoadStore, "load", "500")))
	assert.True(t, Retryable(errors.New("plain")))
}

func TestMarshalJSONIncludesCause(t *testing.T) {
	t.Parallel()

	f := New(KindValidation, "wage", "min exceeds max",
		WithRaw("300円〜200円"),
		WithCause(errors.New("ordering")),
	)
	f.Stage = StageTransforming

	data, err := json.Marshal(f)
	require.NoError(t, err)

	var decoded map[string]string
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "transforming", decoded["stage"])
	assert.Equal(t, "validation", decoded["kind"])
	assert.Equal(t, "300円〜200円", decoded["raw"])
	assert.Equal(t, "ordering", decoded["cause"])
}

func TestLogFields(t *testing.T) {
	t.Parallel()

	f := New(KindQuery, "hasNextPage", "count failed", WithSelector(".next"))
	assert.NotEmpty(t, LogFields(f))
	assert.Len(t, LogFields(errors.New("x")), 1)
	assert.Equal(t, KindQuery, KindOf(f))
	assert.Equal(t, KindUnknown, KindOf(errors.New("x")))
	assert.True(t, IsKind(fmt.Errorf("wrap: %w", f), KindQuery))
}
