package util

import (
	"testing"
	"time"
)

// TestSequence tests id generation and reset semantics
func TestSequence(t *testing.T) {
	s := NewSequence(1)

	for want := int64(1); want <= 5; want++ {
		if got := s.Next(); got != want {
			t.Fatalf("Expected %d, got %d", want, got)
		}
	}

	if s.Peek() != 6 {
		t.Errorf("Expected Peek() == 6, got %d", s.Peek())
	}

	s.Reset(100)
	if got := s.Next(); got != 100 {
		t.Errorf("Expected 100 after reset, got %d", got)
	}
}

// TestManualClock tests the test clock
func TestManualClock(t *testing.T) {
	c := NewManualClock(10)
	if c.NowMillis() != 10 {
		t.Fatalf("Expected 10, got %d", c.NowMillis())
	}

	c.Advance(25 * time.Millisecond)
	if c.NowMillis() != 35 {
		t.Errorf("Expected 35, got %d", c.NowMillis())
	}

	c.Set(0)
	if c.NowMillis() != 0 {
		t.Errorf("Expected 0 after Set, got %d", c.NowMillis())
	}
}

// TestSystemClockMonotonic checks that the system clock moves forward
func TestSystemClockMonotonic(t *testing.T) {
	c := NewSystemClock()
	first := c.NowMillis()
	time.Sleep(5 * time.Millisecond)
	second := c.NowMillis()

	if second <= first {
		t.Errorf("Expected the clock to advance, got %d then %d", first, second)
	}
}

// TestPartitionID tests the key to partition mapping
func TestPartitionID(t *testing.T) {
	if got := PartitionID("key", 0); got != -1 {
		t.Errorf("Expected -1 without partitions, got %d", got)
	}

	counts := make(map[int32]int)
	for i := 0; i < 1000; i++ {
		p := PartitionID(string(rune('a'+i%26))+string(rune(i)), 7)
		if p < 0 || p >= 7 {
			t.Fatalf("Partition %d out of range", p)
		}
		counts[p]++
	}
	if len(counts) != 7 {
		t.Errorf("Expected keys in all 7 partitions, got %d", len(counts))
	}

	if PartitionID("stable", 271) != PartitionID("stable", 271) {
		t.Error("PartitionID must be deterministic")
	}
}
