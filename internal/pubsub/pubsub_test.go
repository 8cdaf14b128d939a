package pubsub

import "testing"

func TestPublishDelivery(t *testing.T) {
	p := NewPublisher[int]()

	var got []int
	p.Subscribe(func(v int) { got = append(got, v) })

	p.Publish(1)
	p.Publish(2)
	p.Publish(3)

	if len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Errorf("received %v, want [1 2 3]", got)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	p := NewPublisher[string]()

	var count int
	tok := p.Subscribe(func(string) { count++ })

	p.Publish("a")
	p.Unsubscribe(tok)
	p.Publish("b")

	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
	if p.Len() != 0 {
		t.Errorf("Len() = %d, want 0", p.Len())
	}
}

func TestUnsubscribeIdempotent(t *testing.T) {
	p := NewPublisher[int]()
	tok := p.Subscribe(func(int) {})

	p.Unsubscribe(tok)
	p.Unsubscribe(tok) // Second call must be a no-op

	if p.Len() != 0 {
		t.Errorf("Len() = %d, want 0", p.Len())
	}
}

func TestMultipleSubscribers(t *testing.T) {
	p := NewPublisher[int]()

	var a, b int
	p.Subscribe(func(v int) { a += v })
	tok := p.Subscribe(func(v int) { b += v })

	p.Publish(10)
	p.Unsubscribe(tok)
	p.Publish(5)

	if a != 15 {
		t.Errorf("a = %d, want 15", a)
	}
	if b != 10 {
		t.Errorf("b = %d, want 10", b)
	}
}
