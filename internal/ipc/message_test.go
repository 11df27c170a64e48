package ipc

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	want := ModuleResult{Project: "kcalc", Reason: "new commits", Commits: 3}
	if err := Encode(&buf, ModuleSuccess, want); err != nil {
		t.Fatal(err)
	}

	msg, err := Decode(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Type != ModuleSuccess {
		t.Errorf("Type = %v, want ModuleSuccess", msg.Type)
	}
	var got ModuleResult
	if err := msg.Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("payload = %+v, want %+v", got, want)
	}
}

// TestMessageOrderingWithinStream verifies messages for a project arrive in
// send order (spec.md §4.6 ordering guarantee).
func TestMessageOrderingWithinStream(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, AllUpdating, struct{}{}); err != nil {
		t.Fatal(err)
	}
	if err := Encode(&buf, ModuleSuccess, ModuleResult{Project: "a"}); err != nil {
		t.Fatal(err)
	}
	if err := Encode(&buf, ModuleSuccess, ModuleResult{Project: "b"}); err != nil {
		t.Fatal(err)
	}
	if err := Encode(&buf, AllDone, struct{}{}); err != nil {
		t.Fatal(err)
	}

	var gotTypes []Type
	for {
		m, err := Decode(&buf)
		if err != nil {
			break
		}
		gotTypes = append(gotTypes, m.Type)
	}
	want := []Type{AllUpdating, ModuleSuccess, ModuleSuccess, AllDone}
	if len(gotTypes) != len(want) {
		t.Fatalf("got %v, want %v", gotTypes, want)
	}
	for i := range want {
		if gotTypes[i] != want[i] {
			t.Fatalf("got %v, want %v", gotTypes, want)
		}
	}
}

func TestQueueSendRecv(t *testing.T) {
	q := NewQueue(4)
	if err := q.Send(ModuleUptodate, ModuleResult{Project: "x"}); err != nil {
		t.Fatal(err)
	}
	q.Close()
	m, ok := q.Recv()
	if !ok || m.Type != ModuleUptodate {
		t.Fatalf("Recv() = %+v, %v", m, ok)
	}
	if _, ok := q.Recv(); ok {
		t.Fatal("Recv() after Close+drain should report ok=false")
	}
}
