package timequeue

import "testing"

type testItem struct {
	label string
	time  int64
	seq   uint64
}

func (i *testItem) When() int64    { return i.time }
func (i *testItem) SetSeq(s uint64) { i.seq = s }
func (i *testItem) Seq() uint64    { return i.seq }

func TestQueueOrdersByTime(t *testing.T) {
	q := New()
	q.Insert(&testItem{label: "b", time: 5})
	q.Insert(&testItem{label: "a", time: 1})
	q.Insert(&testItem{label: "c", time: 10})

	var order []string
	for !q.IsEmpty() {
		order = append(order, q.PopMin().(*testItem).label)
	}
	want := []string{"a", "b", "c"}
	for i, w := range want {
		if order[i] != w {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestQueueFIFOAtEqualTime(t *testing.T) {
	q := New()
	q.Insert(&testItem{label: "X", time: 0})
	q.Insert(&testItem{label: "Y", time: 0})
	q.Insert(&testItem{label: "Z", time: 0})

	var order []string
	for !q.IsEmpty() {
		order = append(order, q.PopMin().(*testItem).label)
	}
	want := []string{"X", "Y", "Z"}
	for i, w := range want {
		if order[i] != w {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestQueuePeekMinDoesNotRemove(t *testing.T) {
	q := New()
	q.Insert(&testItem{label: "only", time: 42})

	if got := q.PeekMin().(*testItem).label; got != "only" {
		t.Fatalf("PeekMin = %v, want only", got)
	}
	if q.Len() != 1 {
		t.Fatalf("Len after PeekMin = %d, want 1", q.Len())
	}
}

func TestQueueEmptyReturnsNil(t *testing.T) {
	q := New()
	if q.PopMin() != nil {
		t.Fatalf("PopMin on empty queue should be nil")
	}
	if q.PeekMin() != nil {
		t.Fatalf("PeekMin on empty queue should be nil")
	}
}

func TestQueueInsertDuringDrain(t *testing.T) {
	q := New()
	q.Insert(&testItem{label: "first", time: 0})

	var order []string
	for !q.IsEmpty() {
		it := q.PopMin().(*testItem)
		order = append(order, it.label)
		if it.label == "first" {
			// Simulate a callback posting a new event while draining.
			q.Insert(&testItem{label: "second", time: 0})
		}
	}
	want := []string{"first", "second"}
	for i, w := range want {
		if order[i] != w {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}
