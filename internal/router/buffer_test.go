package router

import (
	"sync"
	"testing"
	"time"
)

func TestBufferSendReceiveOrder(t *testing.T) {
	b := NewGrowableBuffer[int](8)
	for i := 0; i < 5; i++ {
		if !b.Send(i) {
			t.Fatalf("Send(%d) = false, want true", i)
		}
	}
	for i := 0; i < 5; i++ {
		got, ok := b.Receive()
		if !ok || got != i {
			t.Fatalf("Receive() = (%d, %v), want (%d, true)", got, ok, i)
		}
	}
	if n := b.Len(); n != 0 {
		t.Errorf("Len() = %d, want 0", n)
	}
}

func TestBufferGrowsBeforeFilling(t *testing.T) {
	b := NewGrowableBuffer[int](10)
	for i := 0; i < 7; i++ {
		b.Send(i)
	}
	if got := b.Cap(); got <= 10 {
		t.Errorf("Cap() = %d after crossing the grow fraction, want > 10", got)
	}
	// FIFO order survives the resize
	for i := 0; i < 7; i++ {
		got, ok := b.Receive()
		if !ok || got != i {
			t.Fatalf("Receive() after grow = (%d, %v), want (%d, true)", got, ok, i)
		}
	}
	if got := b.Stats().ResizeCount; got < 1 {
		t.Errorf("ResizeCount = %d, want >= 1", got)
	}
}

func TestBufferGrowPreservesWrappedWindow(t *testing.T) {
	b := NewGrowableBuffer[int](10)
	// Advance the read position so the live window wraps the ring end.
	for i := 0; i < 5; i++ {
		b.Send(i)
	}
	for i := 0; i < 5; i++ {
		b.Receive()
	}
	for i := 10; i < 18; i++ {
		b.Send(i)
	}
	for i := 10; i < 18; i++ {
		got, ok := b.Receive()
		if !ok || got != i {
			t.Fatalf("Receive() = (%d, %v), want (%d, true)", got, ok, i)
		}
	}
}

func TestBufferReceiveBlocksUntilSend(t *testing.T) {
	b := NewGrowableBuffer[string](4)

	got := make(chan string, 1)
	go func() {
		v, _ := b.Receive()
		got <- v
	}()

	time.Sleep(20 * time.Millisecond)
	b.Send("hello")

	select {
	case v := <-got:
		if v != "hello" {
			t.Errorf("Receive() = %q, want %q", v, "hello")
		}
	case <-time.After(time.Second):
		t.Fatal("Receive() did not unblock after Send")
	}
}

func TestBufferTryReceiveEmpty(t *testing.T) {
	b := NewGrowableBuffer[int](4)
	if _, ok := b.TryReceive(); ok {
		t.Error("TryReceive() on empty buffer = true, want false")
	}
}

func TestBufferCloseDrainsThenEnds(t *testing.T) {
	b := NewGrowableBuffer[int](8)
	b.Send(1)
	b.Send(2)
	b.Close()

	if b.Send(3) {
		t.Error("Send() after Close = true, want false")
	}
	for want := 1; want <= 2; want++ {
		got, ok := b.Receive()
		if !ok || got != want {
			t.Fatalf("Receive() after Close = (%d, %v), want (%d, true)", got, ok, want)
		}
	}
	if _, ok := b.Receive(); ok {
		t.Error("Receive() on drained closed buffer = true, want false")
	}
}

func TestBufferCloseWakesBlockedReceivers(t *testing.T) {
	b := NewGrowableBuffer[int](4)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := b.Receive(); ok {
				t.Error("Receive() on closed empty buffer = true, want false")
			}
		}()
	}

	time.Sleep(20 * time.Millisecond)
	b.Close()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("blocked receivers not woken by Close")
	}
}

func TestBufferDrainTo(t *testing.T) {
	b := NewGrowableBuffer[int](16)
	for i := 0; i < 6; i++ {
		b.Send(i)
	}

	first := b.DrainTo(4)
	if len(first) != 4 {
		t.Fatalf("DrainTo(4) returned %d items, want 4", len(first))
	}
	for i, v := range first {
		if v != i {
			t.Errorf("DrainTo(4)[%d] = %d, want %d", i, v, i)
		}
	}

	rest := b.DrainTo(0)
	if len(rest) != 2 {
		t.Fatalf("DrainTo(0) returned %d items, want 2", len(rest))
	}
	if b.DrainTo(0) != nil {
		t.Error("DrainTo(0) on empty buffer != nil")
	}
}

func TestBufferConcurrentSenders(t *testing.T) {
	b := NewGrowableBuffer[int](4)
	const senders, perSender = 8, 500

	var wg sync.WaitGroup
	for s := 0; s < senders; s++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				b.Send(i)
			}
		}()
	}
	wg.Wait()

	received := 0
	for {
		if _, ok := b.TryReceive(); !ok {
			break
		}
		received++
	}
	if want := senders * perSender; received != want {
		t.Errorf("received %d items, want %d", received, want)
	}
	stats := b.Stats()
	if stats.TotalReceived != int64(senders*perSender) {
		t.Errorf("TotalReceived = %d, want %d", stats.TotalReceived, senders*perSender)
	}
	if stats.TotalSent != stats.TotalReceived {
		t.Errorf("TotalSent = %d, want %d", stats.TotalSent, stats.TotalReceived)
	}
}
