package migrations

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNamesAreOrdered(t *testing.T) {
	names, err := Names()
	require.NoError(t, err)
	require.Equal(t, []string{"0001_init.up.sql", "0002_context_mirror.up.sql", "0003_context_mirror_cursor.up.sql"}, names)
}
