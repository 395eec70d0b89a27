package cpubsub_test

import (
	"context"
	"testing"

	"github.com/credmesh/credmesh/cpubsub"
	"github.com/credmesh/credmesh/internal/ctest"
	"github.com/stretchr/testify/require"
)

func TestStream_Publish_panicsOnCalledTwice(t *testing.T) {
	t.Parallel()

	s := cpubsub.NewStream[int]()
	s.Publish(1)

	require.Panics(t, func() {
		s.Publish(1)
	})
}

func TestStream_readersSeeSameSequence(t *testing.T) {
	t.Parallel()

	head := cpubsub.NewStream[int]()

	type result struct {
		vals []int
		err  error
	}
	results := make(chan result, 2)
	for range 2 {
		go func() {
			var r result
			s := head
			for range 3 {
				var v int
				v, s, r.err = s.Wait(t.Context())
				if r.err != nil {
					break
				}
				r.vals = append(r.vals, v)
			}
			results <- r
		}()
	}

	tail := head
	for i := range 3 {
		tail.Publish(i)
		tail = tail.Next
	}

	for range 2 {
		r := ctest.ReceiveSoon(t, results)
		require.NoError(t, r.err)
		require.Equal(t, []int{0, 1, 2}, r.vals)
	}

	ctest.NotSending(t, tail.Ready)
}

func TestStream_Wait_canceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	s := cpubsub.NewStream[string]()
	_, next, err := s.Wait(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Same(t, s, next)
}
