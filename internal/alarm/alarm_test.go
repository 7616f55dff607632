package alarm

import (
	"context"
	"errors"
	"testing"
	"time"
)

func collect(s *Service) <-chan Alarm {
	fired := make(chan Alarm, 8)
	s.SetReceiver(func(_ context.Context, a Alarm) { fired <- a })
	return fired
}

func TestPastAlarmFiresImmediately(t *testing.T) {
	s := NewService()
	defer s.Close()
	fired := collect(s)

	if err := s.Set(Alarm{RequestID: 1, At: time.Now().Add(-time.Minute), Payload: Payload{HabitID: "h1"}}); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	select {
	case a := <-fired:
		if a.RequestID != 1 || a.Payload.HabitID != "h1" {
			t.Errorf("fired alarm = %+v", a)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("past alarm did not fire")
	}
	if len(s.Pending()) != 0 {
		t.Error("fired alarm still pending")
	}
}

func TestSetReplacesSameRequestID(t *testing.T) {
	s := NewService()
	defer s.Close()
	fired := collect(s)

	_ = s.Set(Alarm{RequestID: 7, At: time.Now().Add(time.Hour), Payload: Payload{HabitName: "old"}})
	_ = s.Set(Alarm{RequestID: 7, At: time.Now().Add(20 * time.Millisecond), Payload: Payload{HabitName: "new"}})

	if n := len(s.Pending()); n != 1 {
		t.Fatalf("Pending() = %d alarms, want 1", n)
	}

	select {
	case a := <-fired:
		if a.Payload.HabitName != "new" {
			t.Errorf("fired payload = %+v, want the replacement", a.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("replacement alarm did not fire")
	}

	select {
	case a := <-fired:
		t.Errorf("unexpected second fire: %+v", a)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCancel(t *testing.T) {
	s := NewService()
	defer s.Close()
	fired := collect(s)

	_ = s.Set(Alarm{RequestID: 3, At: time.Now().Add(30 * time.Millisecond)})
	if !s.Cancel(3) {
		t.Fatal("Cancel() = false for a pending alarm")
	}
	if s.Cancel(3) {
		t.Error("Cancel() = true for an already cancelled alarm")
	}

	select {
	case a := <-fired:
		t.Errorf("cancelled alarm fired: %+v", a)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPendingOrderedByTime(t *testing.T) {
	base := time.Date(2030, 1, 1, 8, 0, 0, 0, time.UTC)
	s := NewService(WithClock(func() time.Time { return base.Add(-time.Hour) }))
	defer s.Close()

	_ = s.Set(Alarm{RequestID: 2, At: base.Add(2 * time.Hour)})
	_ = s.Set(Alarm{RequestID: 1, At: base})
	_ = s.Set(Alarm{RequestID: 3, At: base.Add(time.Hour)})

	pending := s.Pending()
	var ids []uint32
	for _, a := range pending {
		ids = append(ids, a.RequestID)
	}
	if len(ids) != 3 || ids[0] != 1 || ids[1] != 3 || ids[2] != 2 {
		t.Errorf("Pending() order = %v, want [1 3 2]", ids)
	}
}

func TestReceiverCanRearmSameID(t *testing.T) {
	s := NewService()
	defer s.Close()

	fired := make(chan Alarm, 4)
	s.SetReceiver(func(_ context.Context, a Alarm) {
		fired <- a
		if a.Payload.Streak == 0 {
			a.Payload.Streak = 1
			a.At = time.Now().Add(time.Hour)
			_ = s.Set(a)
		}
	})

	_ = s.Set(Alarm{RequestID: 9, At: time.Now()})
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("alarm did not fire")
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(s.Pending()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	pending := s.Pending()
	if len(pending) != 1 || pending[0].RequestID != 9 || pending[0].Payload.Streak != 1 {
		t.Errorf("Pending() after re-arm = %+v", pending)
	}
}

func TestSetAfterClose(t *testing.T) {
	s := NewService()
	s.Close()
	if err := s.Set(Alarm{RequestID: 1, At: time.Now()}); !errors.Is(err, ErrClosed) {
		t.Errorf("Set() after Close error = %v, want %v", err, ErrClosed)
	}
}
