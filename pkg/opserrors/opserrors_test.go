package opserrors_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"segmentstore/pkg/opserrors"
)

func TestIsFatal(t *testing.T) {
	require.True(t, opserrors.IsFatal(opserrors.DataCorruption))
	require.True(t, opserrors.IsFatal(opserrors.NotPrimary))
	require.True(t, opserrors.IsFatal(fmt.Errorf("write failed: %w", opserrors.NotPrimary)))

	require.False(t, opserrors.IsFatal(opserrors.BadOperation))
	require.False(t, opserrors.IsFatal(opserrors.IoError))
	require.False(t, opserrors.IsFatal(opserrors.BuilderClosed))
	require.False(t, opserrors.IsFatal(opserrors.Closed))
	require.False(t, opserrors.IsFatal(nil))
}
