package reliability

import (
	"testing"
	"time"
)

func TestSendAllocatesIncreasingSequences(t *testing.T) {
	s := NewSender(time.Second, 3)
	now := time.Unix(0, 0)
	a := s.Send([]byte("a"), now)
	b := s.Send([]byte("b"), now)
	if b != a+1 {
		t.Errorf("expected sequential sequence numbers, got %d then %d", a, b)
	}
	if s.Len() != 2 {
		t.Errorf("expected 2 pending entries, got %d", s.Len())
	}
}

func TestHandleAckRemovesEntry(t *testing.T) {
	s := NewSender(time.Second, 3)
	now := time.Unix(0, 0)
	seq := s.Send([]byte("x"), now)
	s.HandleAck([]uint16{seq})
	if s.Len() != 0 {
		t.Errorf("expected pending entry to be removed after ack, got %d remaining", s.Len())
	}
}

func TestTickRetransmitsAfterTimeoutThenGivesUp(t *testing.T) {
	s := NewSender(100*time.Millisecond, 2)
	now := time.Unix(0, 0)
	seq := s.Send([]byte("x"), now)

	// Before timeout: nothing due.
	retx, givenUp := s.Tick(now)
	if len(retx) != 0 || len(givenUp) != 0 {
		t.Fatalf("expected no activity before timeout, got retx=%v givenUp=%v", retx, givenUp)
	}

	t1 := now.Add(150 * time.Millisecond)
	retx, givenUp = s.Tick(t1)
	if len(retx) != 1 || retx[0].Sequence != seq || retx[0].RetryCount != 1 {
		t.Fatalf("expected first retransmit, got %+v", retx)
	}
	if len(givenUp) != 0 {
		t.Fatalf("expected no give-up yet, got %v", givenUp)
	}

	t2 := t1.Add(150 * time.Millisecond)
	retx, givenUp = s.Tick(t2)
	if len(retx) != 1 || retx[0].RetryCount != 2 {
		t.Fatalf("expected second retransmit with retry_count=2, got %+v", retx)
	}

	t3 := t2.Add(150 * time.Millisecond)
	retx, givenUp = s.Tick(t3)
	if len(retx) != 0 {
		t.Fatalf("expected no further retransmit once max_retries exhausted, got %+v", retx)
	}
	if len(givenUp) != 1 || givenUp[0] != seq {
		t.Fatalf("expected give-up notification for seq %d, got %v", seq, givenUp)
	}
	if s.Len() != 0 {
		t.Errorf("expected pending table empty after give-up, got %d", s.Len())
	}
}

func TestCancelRemovesEntryWithoutAck(t *testing.T) {
	s := NewSender(time.Second, 3)
	now := time.Unix(0, 0)
	seq := s.Send([]byte("x"), now)
	s.Cancel(seq)
	if s.Len() != 0 {
		t.Errorf("expected pending entry to be removed after cancel, got %d remaining", s.Len())
	}
}

func TestReceiverRejectsDuplicatesAndAcceptsAdvancing(t *testing.T) {
	r := NewReceiver()
	if !r.Accept("peer1", 5) {
		t.Fatal("expected first sequence from a new source to be accepted")
	}
	if r.Accept("peer1", 5) {
		t.Fatal("expected repeat of the same sequence to be rejected as duplicate")
	}
	if r.Accept("peer1", 3) {
		t.Fatal("expected an older sequence to be rejected as duplicate")
	}
	if !r.Accept("peer1", 6) {
		t.Fatal("expected an advancing sequence to be accepted")
	}
}

func TestReceiverHandlesWraparound(t *testing.T) {
	r := NewReceiver()
	r.Accept("peer1", 65530)
	if !r.Accept("peer1", 5) {
		t.Fatal("expected a sequence that wrapped around 65535 to be treated as advancing")
	}
	if r.Accept("peer1", 65532) {
		t.Fatal("expected a sequence far behind the wrapped watermark to be treated as a duplicate")
	}
}

func TestReceiverForgetResetsWatermark(t *testing.T) {
	r := NewReceiver()
	r.Accept("peer1", 100)
	r.Forget("peer1")
	if !r.Accept("peer1", 50) {
		t.Fatal("expected forgotten source to accept any sequence as if new")
	}
}
