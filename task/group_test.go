package task

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFirstErrorCancelsGroup(t *testing.T) {
	var g = NewGroup(context.Background())

	g.Queue("waiter", func() error {
		<-g.Context().Done()
		return nil
	})
	g.Queue("failer", func() error { return errors.New("whoops") })

	require.Panics(t, func() { _ = g.Wait() })
	g.GoRun()
	require.Panics(t, func() { g.Queue("late", func() error { return nil }) })
	require.Panics(t, func() { g.GoRun() })

	require.EqualError(t, g.Wait(), "failer: whoops")
	require.Error(t, g.Context().Err())
}

func TestCancelStopsTasks(t *testing.T) {
	var g = NewGroup(context.Background())
	g.Queue("waiter", func() error {
		<-g.Context().Done()
		return nil
	})
	g.GoRun()
	g.Cancel()
	require.NoError(t, g.Wait())
}
