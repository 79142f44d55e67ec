package bus

import (
	"testing"
	"time"
)

func TestFanOut_BroadcastsToAll(t *testing.T) {
	fo := NewFanOut[string](10)
	out1, cancel1 := fo.Subscribe()
	out2, cancel2 := fo.Subscribe()
	defer cancel1()
	defer cancel2()

	fo.Publish("ETHUSDT")

	for i, out := range []<-chan string{out1, out2} {
		select {
		case v := <-out:
			if v != "ETHUSDT" {
				t.Errorf("out%d: expected ETHUSDT, got %s", i+1, v)
			}
		case <-time.After(time.Second):
			t.Fatalf("out%d: timed out waiting for value", i+1)
		}
	}
}

func TestFanOut_DropsWhenFull(t *testing.T) {
	fo := NewFanOut[int](1)
	var dropped []int
	fo.OnDrop = func(id int) { dropped = append(dropped, id) }

	_, cancel := fo.Subscribe()
	defer cancel()

	fo.Publish(1)
	fo.Publish(2) // buffer full

	if len(dropped) != 1 {
		t.Fatalf("expected 1 drop, got %d", len(dropped))
	}
	stats := fo.ChannelStats()
	if len(stats) != 1 || stats[0].Len != 1 || stats[0].Cap != 1 {
		t.Fatalf("unexpected channel stats: %+v", stats)
	}
}

func TestFanOut_CancelClosesChannel(t *testing.T) {
	fo := NewFanOut[int](4)
	out, cancel := fo.Subscribe()
	cancel()
	cancel()

	if _, ok := <-out; ok {
		t.Fatal("expected closed channel after cancel")
	}
	fo.Publish(1) // must not panic on a removed subscriber
}

func TestFanOut_Close(t *testing.T) {
	fo := NewFanOut[int](4)
	out, cancel := fo.Subscribe()
	fo.Close()
	cancel() // no double close

	if _, ok := <-out; ok {
		t.Fatal("expected closed channel after Close")
	}
	late, _ := fo.Subscribe()
	if _, ok := <-late; ok {
		t.Fatal("expected closed channel for subscriber after Close")
	}
}
