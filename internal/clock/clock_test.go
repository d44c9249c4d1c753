package clock

import (
	"testing"
	"time"
)

func TestFake_Advance(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	fc := NewFake(start)

	fired := 0
	fc.AfterFunc(10*time.Minute, func() { fired++ })

	fc.Advance(5 * time.Minute)
	if fired != 0 {
		t.Fatal("timer fired before its deadline")
	}

	fc.Advance(5 * time.Minute)
	if fired != 1 {
		t.Fatalf("fired = %d, want 1", fired)
	}

	// Firing is single-shot.
	fc.Advance(time.Hour)
	if fired != 1 {
		t.Fatalf("fired = %d after extra advance, want 1", fired)
	}

	if got := fc.Now(); !got.Equal(start.Add(time.Hour + 10*time.Minute)) {
		t.Errorf("Now() = %v, want %v", got, start.Add(time.Hour+10*time.Minute))
	}
}

func TestFake_Stop(t *testing.T) {
	fc := NewFake(time.Unix(0, 0))

	fired := false
	timer := fc.AfterFunc(time.Minute, func() { fired = true })

	if !timer.Stop() {
		t.Error("Stop() = false for an active timer")
	}

	fc.Advance(2 * time.Minute)
	if fired {
		t.Error("stopped timer fired")
	}

	if timer.Stop() {
		t.Error("Stop() = true for an already stopped timer")
	}
}

func TestFake_Reset(t *testing.T) {
	fc := NewFake(time.Unix(0, 0))

	fired := 0
	timer := fc.AfterFunc(time.Minute, func() { fired++ })

	fc.Advance(30 * time.Second)
	timer.Reset(time.Minute)

	// Original deadline passes without firing.
	fc.Advance(45 * time.Second)
	if fired != 0 {
		t.Fatal("timer fired before rescheduled deadline")
	}

	fc.Advance(15 * time.Second)
	if fired != 1 {
		t.Fatalf("fired = %d, want 1", fired)
	}
}

func TestFake_FiresInDeadlineOrder(t *testing.T) {
	fc := NewFake(time.Unix(0, 0))

	var order []string
	fc.AfterFunc(2*time.Minute, func() { order = append(order, "b") })
	fc.AfterFunc(time.Minute, func() { order = append(order, "a") })

	fc.Advance(5 * time.Minute)

	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Errorf("fire order = %v, want [a b]", order)
	}
}

func TestReal_Now(t *testing.T) {
	c := New()
	before := time.Now()
	got := c.Now()
	after := time.Now()

	if got.Before(before) || got.After(after) {
		t.Errorf("Now() = %v outside [%v, %v]", got, before, after)
	}
}
