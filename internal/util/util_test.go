package util

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewIDUnique(t *testing.T) {
	require.NotEqual(t, NewID(), NewID())
}

func TestRandomSSRCNonZero(t *testing.T) {
	for i := 0; i < 10; i++ {
		require.NotZero(t, RandomSSRC())
	}
}

func TestStatsID(t *testing.T) {
	id, err := StatsID()
	require.NoError(t, err)
	require.NotEmpty(t, id)
}
