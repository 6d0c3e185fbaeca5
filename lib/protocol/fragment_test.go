package protocol

import (
	"errors"
	"fmt"
	"testing"
)

func bigMessage(corrID int64, params int) *Message {
	m := NewRequest(3, 1, 0)
	m.SetCorrelationID(corrID)
	for i := 0; i < params; i++ {
		EncodeString(m, fmt.Sprintf("param-%03d", i))
	}
	return m
}

func decodeParams(t *testing.T, m *Message) []string {
	t.Helper()
	it := m.Iterator()
	if _, err := it.Take(); err != nil {
		t.Fatal(err)
	}
	var out []string
	for it.HasNext() {
		s, err := DecodeString(it)
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, s)
	}
	return out
}

// TestFragmentRoundTrip splits a message and reassembles it
func TestFragmentRoundTrip(t *testing.T) {
	msg := bigMessage(77, 20)
	want := decodeParams(t, msg)

	frags := Fragment(msg, 64)
	if len(frags) < 3 {
		t.Fatalf("expected at least 3 fragments, got %d", len(frags))
	}
	for i, f := range frags {
		if f.WireSize() > 64 {
			t.Errorf("fragment %d has %d bytes", i, f.WireSize())
		}
		id, err := FragmentID(f)
		if err != nil || id != 77 {
			t.Errorf("fragment %d id = %d, %v", i, id, err)
		}
		switch i {
		case 0:
			if f.Flags() != FlagBeginFragment {
				t.Errorf("first fragment flags = %s", f.Flags())
			}
		case len(frags) - 1:
			if f.Flags() != FlagEndFragment {
				t.Errorf("last fragment flags = %s", f.Flags())
			}
		default:
			if f.Flags() != FlagDefault {
				t.Errorf("middle fragment flags = %s", f.Flags())
			}
		}
	}

	r := NewReassembler()
	for i, f := range frags {
		whole, done, err := r.Accept(f)
		if err != nil {
			t.Fatalf("Accept fragment %d: %v", i, err)
		}
		if i < len(frags)-1 {
			if done || whole != nil || r.Pending() != 1 {
				t.Fatalf("fragment %d completed too early", i)
			}
			continue
		}
		if !done {
			t.Fatal("last fragment should complete the message")
		}
		if whole.CorrelationID() != 77 || whole.MessageType() != 3 || whole.PartitionID() != 1 {
			t.Errorf("reassembled header: %s", whole)
		}
		if whole.FrameCount() != msg.FrameCount() {
			t.Errorf("reassembled %d frames, want %d", whole.FrameCount(), msg.FrameCount())
		}
		if !whole.last.IsFinal() || whole.first.IsFinal() {
			t.Error("only the last reassembled frame should be final")
		}
		got := decodeParams(t, whole)
		if fmt.Sprint(got) != fmt.Sprint(want) {
			t.Errorf("params differ:\n got %v\nwant %v", got, want)
		}
	}
	if r.Pending() != 0 {
		t.Errorf("Pending = %d after completion", r.Pending())
	}
}

// TestFragmentSmallMessage checks that small messages are not split
func TestFragmentSmallMessage(t *testing.T) {
	msg := bigMessage(1, 2)
	frags := Fragment(msg, 1<<10)
	if len(frags) != 1 || frags[0] != msg {
		t.Fatalf("small message was split into %d fragments", len(frags))
	}

	r := NewReassembler()
	whole, done, err := r.Accept(msg)
	if err != nil || !done || whole != msg {
		t.Errorf("unfragmented message: %v, %v, %v", whole, done, err)
	}
}

// TestInterleavedFragments reassembles two interleaved fragment streams
func TestInterleavedFragments(t *testing.T) {
	a := Fragment(bigMessage(1, 10), 60)
	b := Fragment(bigMessage(2, 10), 60)
	if len(a) != len(b) {
		t.Fatalf("expected equal fragment counts, got %d and %d", len(a), len(b))
	}

	r := NewReassembler()
	var results []*Message
	for i := range a {
		for _, f := range []*Message{a[i], b[i]} {
			whole, done, err := r.Accept(f)
			if err != nil {
				t.Fatal(err)
			}
			if done {
				results = append(results, whole)
			}
		}
	}
	if len(results) != 2 || results[0].CorrelationID() != 1 || results[1].CorrelationID() != 2 {
		t.Fatalf("unexpected results %v", results)
	}
}

// TestUnknownFragment checks fragments without a begin fragment
func TestUnknownFragment(t *testing.T) {
	frags := Fragment(bigMessage(5, 10), 60)
	r := NewReassembler()

	_, _, err := r.Accept(frags[1])
	if !errors.Is(err, ErrUnknownFragment) {
		t.Errorf("expected ErrUnknownFragment, got %v", err)
	}
	if r.Pending() != 0 {
		t.Error("unknown fragment should not be buffered")
	}

	if _, _, err := r.Accept(frags[0]); err != nil {
		t.Fatal(err)
	}
	if !r.Discard(5) || r.Pending() != 0 {
		t.Error("Discard should drop the buffered fragments")
	}
}

// TestShortFragmentHeader checks fragments whose header frame is too short
func TestShortFragmentHeader(t *testing.T) {
	m := NewMessage(NewFrame([]byte{1, 2, 3}, FlagBeginFragment))
	EncodeString(m, "x")
	if _, _, err := NewReassembler().Accept(m); !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("expected ErrMalformedFrame, got %v", err)
	}
}
