package catsevents

import (
	"errors"
	"testing"
)

func TestTriggerRunsListenersInOrder(t *testing.T) {
	b := NewBus()
	var order []int
	b.On(ConnStart, func(any) (any, error) { order = append(order, 1); return nil, nil })
	b.On(ConnStart, func(any) (any, error) { order = append(order, 2); return nil, nil })

	b.Trigger(ConnStart, nil)

	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("order = %v", order)
	}
}

func TestBeforeEventReplacementChains(t *testing.T) {
	b := NewBus()
	b.On(BeforeRequest, func(payload any) (any, error) {
		return payload.(int) + 1, nil
	})
	b.On(BeforeRequest, func(payload any) (any, error) {
		return payload.(int) * 10, nil
	})

	result := b.Trigger(BeforeRequest, 1)
	if result.(int) != 20 {
		t.Fatalf("result = %v, want 20", result)
	}
}

func TestListenerErrorDoesNotStopOthers(t *testing.T) {
	b := NewBus()
	ran := false
	b.On(HandleError, func(any) (any, error) { return nil, errors.New("boom") })
	b.On(HandleError, func(any) (any, error) { ran = true; return nil, nil })

	b.Trigger(HandleError, nil)
	if !ran {
		t.Fatal("second listener did not run after first errored")
	}
}

func TestOffRemovesListener(t *testing.T) {
	b := NewBus()
	calls := 0
	id := b.On(ConnClose, func(any) (any, error) { calls++; return nil, nil })
	b.Off(ConnClose, id)
	b.Trigger(ConnClose, nil)

	if calls != 0 {
		t.Fatalf("calls = %d, want 0 after Off", calls)
	}
}
