package ratelimit

import (
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestTokenBucket_BurstThenRefill(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	b := NewTokenBucket(clock, 3, 1)

	for i := 0; i < 3; i++ {
		if !b.Allow(1) {
			t.Fatalf("burst token %d denied", i)
		}
	}
	if b.Allow(1) {
		t.Fatalf("allowed beyond capacity")
	}

	clock.Advance(time.Second)
	if !b.Allow(1) {
		t.Fatalf("denied after refill")
	}
	if b.Allow(1) {
		t.Fatalf("allowed more than refilled amount")
	}
}

func TestTokenBucket_ClampsAfterLongIdle(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	b := NewTokenBucket(clock, 2, 1)

	if !b.Allow(2) {
		t.Fatalf("initial capacity denied")
	}

	clock.Advance(24 * time.Hour)
	if !b.Allow(2) {
		t.Fatalf("denied after long idle")
	}
	if b.Allow(1) {
		t.Fatalf("capacity not clamped after long idle")
	}
}

func TestTokenBucket_TimeGoingBackwards(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	b := NewTokenBucket(clock, 1, 1)

	if !b.Allow(1) {
		t.Fatalf("initial token denied")
	}

	clock.Advance(-time.Hour)
	if b.Allow(1) {
		t.Fatalf("allowed without refill after clock regression")
	}

	clock.Advance(time.Hour + time.Second)
	if !b.Allow(1) {
		t.Fatalf("denied after clock recovered")
	}
}

func TestTokenBucket_NonPositiveCost(t *testing.T) {
	b := NewTokenBucket(&fakeClock{now: time.Unix(1000, 0)}, 0, 0)
	if !b.Allow(0) {
		t.Fatalf("zero cost should always succeed")
	}
	if b.Allow(1) {
		t.Fatalf("zero-capacity bucket should deny")
	}
}
