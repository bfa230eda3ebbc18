package shared

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFormatRequestNumber(t *testing.T) {
	march := time.Date(2026, time.March, 15, 10, 0, 0, 0, time.UTC)
	require.Equal(t, "RD2026030001", FormatRequestNumber(march, 1))
	require.Equal(t, "RD2026030042", FormatRequestNumber(march, 42))

	december := time.Date(2026, time.December, 1, 0, 0, 0, 0, time.UTC)
	require.Equal(t, "RD2026129999", FormatRequestNumber(december, 9999))
	// Counters past four digits keep growing instead of wrapping.
	require.Equal(t, "RD20261210000", FormatRequestNumber(december, 10000))
}

func TestTransitionKeys(t *testing.T) {
	require.Equal(t, "request:abc:paid", TransitionKey("abc", "paid"))
	require.Equal(t, "request:abc:", RequestKeyPrefix("abc"))
}

func TestNewPagination(t *testing.T) {
	p := NewPagination(2, 20, 45)
	require.Equal(t, 2, p.Page)
	require.Equal(t, 3, p.TotalPages)

	p = NewPagination(0, 0, 0)
	require.Equal(t, 1, p.Page)
	require.Equal(t, 20, p.PerPage)
	require.Equal(t, 0, p.TotalPages)
}
