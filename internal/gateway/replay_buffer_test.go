package gateway

import "testing"

func TestReplayBuffer_Range(t *testing.T) {
	rb := NewReplayBuffer(100)

	for i := int64(1); i <= 10; i++ {
		rb.Push(i, i*2, []byte("msg"))
	}

	got := rb.Range(3, 7)
	if len(got) != 5 {
		t.Fatalf("Range(3,7): expected 5, got %d", len(got))
	}
	for i, e := range got {
		expected := int64(i) + 3
		if e.Seq != expected {
			t.Errorf("entry[%d].Seq = %d, want %d", i, e.Seq, expected)
		}
	}
}

func TestReplayBuffer_Wraparound(t *testing.T) {
	rb := NewReplayBuffer(5)

	// Push 8 entries; the first 3 are evicted
	for i := int64(1); i <= 8; i++ {
		rb.Push(i, i, []byte("msg"))
	}

	if rb.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", rb.Len())
	}

	got := rb.Range(1, 10)
	if len(got) != 5 {
		t.Fatalf("Range(1,10): expected 5, got %d", len(got))
	}
	if got[0].Seq != 4 {
		t.Errorf("oldest entry seq = %d, want 4", got[0].Seq)
	}
	if got[4].Seq != 8 {
		t.Errorf("newest entry seq = %d, want 8", got[4].Seq)
	}
}

func TestReplayBuffer_SinceAndLast(t *testing.T) {
	rb := NewReplayBuffer(5)
	for i := int64(1); i <= 7; i++ {
		rb.Push(i, 100+i, []byte("msg"))
	}

	since := rb.Since(105)
	if len(since) != 2 || since[0].GlobalSeq != 106 || since[1].GlobalSeq != 107 {
		t.Errorf("Since(105) = %+v", since)
	}

	last := rb.Last(3)
	if len(last) != 3 || last[0].Seq != 5 || last[2].Seq != 7 {
		t.Errorf("Last(3) = %+v", last)
	}
	if n := len(rb.Last(50)); n != 5 {
		t.Errorf("Last(50) returned %d, want 5", n)
	}
}

func TestReplayBuffer_Empty(t *testing.T) {
	rb := NewReplayBuffer(10)
	if got := rb.Range(1, 100); len(got) != 0 {
		t.Fatalf("empty buffer Range should return 0, got %d", len(got))
	}
	if got := rb.Last(3); len(got) != 0 {
		t.Fatalf("empty buffer Last should return 0, got %d", len(got))
	}
}

func TestReplayBuffer_CopiesData(t *testing.T) {
	rb := NewReplayBuffer(2)
	data := []byte("abc")
	rb.Push(1, 1, data)
	data[0] = 'x'
	if got := string(rb.Last(1)[0].Data); got != "abc" {
		t.Errorf("stored %q, want abc", got)
	}
}
