package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"momentum-trader/internal/model"
)

func TestFanOut_BroadcastsToAll(t *testing.T) {
	fo := New[model.Tick](10)
	out1 := fo.Subscribe("engine")
	out2 := fo.Subscribe("recorder")

	input := make(chan model.Tick, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fo.Run(ctx, input)

	input <- model.Tick{Symbol: "AAPL", Price: 190.5}

	for _, out := range []<-chan model.Tick{out1, out2} {
		select {
		case tk := <-out:
			assert.Equal(t, "AAPL", tk.Symbol)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for tick")
		}
	}
}

func TestFanOut_SlowConsumerDropsOnlyForItself(t *testing.T) {
	fo := New[int](1)
	fast := fo.Subscribe("fast")
	_ = fo.Subscribe("slow")

	dropped := make(chan string, 10)
	fo.OnDrop = func(name string) { dropped <- name }

	input := make(chan int)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fo.Run(ctx, input)

	input <- 1
	assert.Equal(t, 1, <-fast)
	input <- 2
	assert.Equal(t, 2, <-fast)

	select {
	case name := <-dropped:
		assert.Equal(t, "slow", name)
	case <-time.After(time.Second):
		t.Fatal("expected a drop for the slow subscriber")
	}
}

func TestFanOut_ClosesOutputsWhenInputCloses(t *testing.T) {
	fo := New[int](4)
	out := fo.Subscribe("only")
	input := make(chan int)

	done := make(chan struct{})
	go func() {
		fo.Run(context.Background(), input)
		close(done)
	}()
	close(input)
	<-done

	_, ok := <-out
	require.False(t, ok)
}

func TestFanOut_ChannelStats(t *testing.T) {
	fo := New[int](8)
	fo.Subscribe("a")
	fo.Subscribe("b")

	stats := fo.ChannelStats()
	require.Len(t, stats, 2)
	assert.Equal(t, ChannelStat{Name: "a", Len: 0, Cap: 8}, stats[0])
	assert.Equal(t, "b", stats[1].Name)
}
