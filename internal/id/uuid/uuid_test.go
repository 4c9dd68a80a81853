package uuid

import (
	"testing"
	"time"

	goUUID "github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratorNewIDUnique(t *testing.T) {
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
}

func TestStartedAt(t *testing.T) {
	t.Parallel()

	before := time.Now().Add(-time.Second)
	id, err := New().NewID()
	require.NoError(t, err)

	started, err := StartedAt(id)
	require.NoError(t, err)
	assert.True(t, started.After(before), "started %v before %v", started, before)
	assert.True(t, started.Before(time.Now().Add(time.Second)))
}

func TestStartedAtRejectsOtherVersions(t *testing.T) {
	t.Parallel()

	_, err := StartedAt(goUUID.NewString())
	require.Error(t, err)

	_, err = StartedAt("not-a-uuid")
	require.Error(t, err)
}
