package shared

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestActorFromContext(t *testing.T) {
	ctx := ContextWithActor(context.Background(), 42)
	actorID, ok := ActorFromContext(ctx)
	require.True(t, ok)
	require.Equal(t, int64(42), actorID)

	actorID, ok = ActorFromContext(context.Background())
	require.False(t, ok)
	require.Zero(t, actorID)
}
