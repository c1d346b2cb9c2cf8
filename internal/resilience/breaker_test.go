package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var errDeliver = errors.New("deliver failed")

func newTestBreaker(threshold int, cooldown time.Duration) (*Breaker, *time.Time) {
	now := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	b := New("webhook", Config{FailureThreshold: threshold, Cooldown: cooldown})
	b.SetClock(func() time.Time { return now })
	return b, &now
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	for i := 0; i < 2; i++ {
		if err := b.Allow(); err != nil {
			t.Fatalf("attempt %d rejected: %v", i, err)
		}
		if s := b.Record(errDeliver); s != StateClosed {
			t.Fatalf("state after %d failures = %s", i+1, s)
		}
	}
	_ = b.Allow()
	if s := b.Record(errDeliver); s != StateOpen {
		t.Fatalf("state = %s, want open", s)
	}
	if err := b.Allow(); !errors.Is(err, ErrOpen) {
		t.Fatalf("Allow() = %v, want ErrOpen", err)
	}
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b, _ := newTestBreaker(2, time.Minute)
	_ = b.Allow()
	b.Record(errDeliver)
	_ = b.Allow()
	b.Record(nil)
	_ = b.Allow()
	if s := b.Record(errDeliver); s != StateClosed {
		t.Fatalf("non-consecutive failures opened the breaker")
	}
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	b, now := newTestBreaker(1, time.Minute)
	_ = b.Allow()
	b.Record(errDeliver)

	*now = now.Add(time.Minute)
	if b.State() != StateHalfOpen {
		t.Fatalf("state = %s after cooldown", b.State())
	}
	if err := b.Allow(); err != nil {
		t.Fatalf("probe rejected: %v", err)
	}
	if err := b.Allow(); !errors.Is(err, ErrOpen) {
		t.Fatal("second concurrent probe should be rejected")
	}
	if s := b.Record(errDeliver); s != StateOpen {
		t.Fatalf("failed probe left state %s", s)
	}

	*now = now.Add(time.Minute)
	_ = b.Allow()
	if s := b.Record(nil); s != StateClosed {
		t.Fatalf("successful probe left state %s", s)
	}
}

func TestBreaker_NilAllows(t *testing.T) {
	b := New("log", Config{})
	if b != nil {
		t.Fatal("zero threshold should disable the breaker")
	}
	if err := b.Allow(); err != nil {
		t.Fatal(err)
	}
	if b.Record(errDeliver) != StateClosed || b.State() != StateClosed {
		t.Fatal("nil breaker must stay closed")
	}
}

func TestProperty_OpenRejectsUntilCooldown(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("open breaker rejects for the whole cooldown", prop.ForAll(
		func(threshold int, elapsedSec int) bool {
			b, now := newTestBreaker(threshold, time.Minute)
			for i := 0; i < threshold; i++ {
				_ = b.Allow()
				b.Record(errDeliver)
			}
			*now = now.Add(time.Duration(elapsedSec) * time.Second)
			err := b.Allow()
			if elapsedSec < 60 {
				return errors.Is(err, ErrOpen)
			}
			return err == nil
		},
		gen.IntRange(1, 10),
		gen.IntRange(0, 120),
	))

	properties.TestingRun(t)
}
