package errors

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapPreservesSentinel(t *testing.T) {
	err := Wrap(sql.ErrNoRows, "loading memory")
	require.Error(t, err)
	assert.True(t, Is(err, sql.ErrNoRows))
	assert.Contains(t, err.Error(), "loading memory")
}

func TestWrapNilIsNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, "ignored"))
}

func TestNewfFormats(t *testing.T) {
	err := Newf("adapter %q not ready after %d attempts", "screen", 3)
	assert.EqualError(t, err, `adapter "screen" not ready after 3 attempts`)
}
