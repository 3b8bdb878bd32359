package queue

import "testing"

func TestMultiNotifierFansOutInOrder(t *testing.T) {
	var got []string
	record := func(name string) Notifier {
		return NotifierFunc(func(c Change) { got = append(got, name+":"+string(c.Op)) })
	}
	n := MultiNotifier(record("hub"), nil, record("ntfy"))
	n.Notify(Change{Op: OpDispatch, EntryID: 3})

	want := []string{"hub:dispatch", "ntfy:dispatch"}
	if len(got) != len(want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("calls = %v, want %v", got, want)
		}
	}
}

func TestMultiNotifierWithoutTargetsIsNop(t *testing.T) {
	n := MultiNotifier(nil, nil)
	if _, ok := n.(nopNotifier); !ok {
		t.Fatalf("MultiNotifier(nil, nil) = %T, want nopNotifier", n)
	}
	n.Notify(Change{Op: OpRemove})
}
