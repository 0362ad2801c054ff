package mediaengine

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamProgressEmitsOneSnapshotPerBlock(t *testing.T) {
	input := strings.NewReader(strings.Join([]string{
		"frame=10",
		"out_time_ms=333333",
		"speed=1.2x",
		"progress=continue",
		"frame=20",
		"out_time_ms=666666",
		"speed=0.9x",
		"progress=end",
		"",
	}, "\n"))

	var got []Progress
	err := streamProgress(input, func(p Progress) { got = append(got, p) })
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, int64(10), got[0].Frame)
	assert.InDelta(t, 0.333333, got[0].OutTimeSeconds(), 1e-6)
	assert.False(t, got[0].Done)

	assert.Equal(t, int64(20), got[1].Frame)
	assert.True(t, got[1].Done)
}

func TestStreamProgressIgnoresBlankAndMalformedLines(t *testing.T) {
	input := strings.NewReader("\nnotakeyvalue\nframe=5\nprogress=end\n")
	var got []Progress
	err := streamProgress(input, func(p Progress) { got = append(got, p) })
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(5), got[0].Frame)
}

func TestFFmpegEngineRunReportsProgressAndCompletes(t *testing.T) {
	e := New()
	e.StopTimeout = 50 * time.Millisecond

	script := "printf 'frame=1\\nout_time_ms=100000\\nprogress=continue\\n" +
		"frame=2\\nout_time_ms=200000\\nprogress=end\\n'"

	var events []Progress
	err := e.Run(context.Background(), Command{Bin: "sh", Args: []string{"-c", script}}, func(p Progress) {
		events = append(events, p)
	})

	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.True(t, events[1].Done)
}

func TestFFmpegEngineRunPropagatesNonZeroExit(t *testing.T) {
	e := New()
	err := e.Run(context.Background(), Command{Bin: "sh", Args: []string{"-c", "echo boom 1>&2; exit 3"}}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestFFmpegEngineRunStopsOnCancellation(t *testing.T) {
	e := New()
	e.StopTimeout = 100 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- e.Run(ctx, Command{Bin: "sh", Args: []string{"-c", "trap '' INT; sleep 5"}}, nil)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation and forced kill")
	}
}
