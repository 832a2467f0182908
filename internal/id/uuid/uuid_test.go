package uuid

import (
	"testing"

	goUUID "github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratorNewID(t *testing.T) {
	t.Parallel()

	gen := New()
	id1, err := gen.NewID()
	require.NoError(t, err)
	id2, err := gen.NewID()
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	parsed, err := goUUID.Parse(id1)
	require.NoError(t, err)
	assert.Equal(t, goUUID.Version(7), parsed.Version())
	assert.Less(t, id1, id2, "v7 ids sort by creation time")
}

func TestStatic(t *testing.T) {
	t.Parallel()

	id, err := Static("run-1").NewID()
	require.NoError(t, err)
	assert.Equal(t, "run-1", id)
}
