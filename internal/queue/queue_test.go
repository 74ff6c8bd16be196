package queue

import "testing"

func TestPopOrderMatchesPushOrder(t *testing.T) {
	var q Queue[int]

	for i := 0; i < 100; i++ {
		q.Push(i)
	}
	if q.Len() != 100 {
		t.Fatalf("expected 100 entries, got %d", q.Len())
	}

	for i := 0; i < 100; i++ {
		v, ok := q.Pop()
		if !ok {
			t.Fatalf("queue empty after %d pops", i)
		}
		if v != i {
			t.Fatalf("expected %d at position %d, got %d", i, i, v)
		}
	}

	if _, ok := q.Pop(); ok {
		t.Fatal("expected empty queue after draining")
	}
	if q.Len() != 0 {
		t.Fatalf("expected zero length after draining, got %d", q.Len())
	}
}

func TestPopOnEmptyQueue(t *testing.T) {
	var q Queue[string]

	if v, ok := q.Pop(); ok {
		t.Fatalf("pop on empty queue returned %q", v)
	}
}

func TestInterleavedPushPop(t *testing.T) {
	var q Queue[int]

	next := 0
	pushed, popped := 0, 0
	for round := 0; round < 10; round++ {
		for i := 0; i < 7; i++ {
			q.Push(pushed)
			pushed++
		}
		for i := 0; i < 5; i++ {
			v, ok := q.Pop()
			if !ok {
				t.Fatal("unexpected empty queue")
			}
			if v != next {
				t.Fatalf("expected %d, got %d", next, v)
			}
			next++
			popped++
		}
	}

	for {
		_, ok := q.Pop()
		if !ok {
			break
		}
		popped++
	}
	if popped != pushed {
		t.Fatalf("pushed %d entries but popped %d", pushed, popped)
	}
}
