package settle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/remit/errors"
)

func TestLimiterUnlimited(t *testing.T) {
	l := NewLimiter(0)
	assert.True(t, l.Unlimited())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Wait(ctx))
	}
}

func TestLimiterSpacesCalls(t *testing.T) {
	l := NewLimiter(1) // one call per minute
	assert.False(t, l.Unlimited())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.NoError(t, l.Wait(ctx), "first call is immediate")

	err := l.Wait(ctx)
	assert.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrTimeout), "a rate limit wait that cannot finish is a transient failure")
}
