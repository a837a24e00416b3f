package scheduler

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestDailyNextRunLaterToday(t *testing.T) {
	d := NewDaily(12, 30, time.UTC, zerolog.Nop())

	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	got := d.nextRun(now)
	want := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("nextRun = %s, want %s", got, want)
	}
}

func TestDailyNextRunRollsToTomorrow(t *testing.T) {
	d := NewDaily(12, 30, time.UTC, zerolog.Nop())

	now := time.Date(2024, 3, 1, 13, 0, 0, 0, time.UTC)
	got := d.nextRun(now)
	want := time.Date(2024, 3, 2, 12, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("nextRun = %s, want %s", got, want)
	}
}

func TestDailyNextRunExactlyAtSlotIsTomorrow(t *testing.T) {
	d := NewDaily(12, 30, time.UTC, zerolog.Nop())

	now := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	got := d.nextRun(now)
	want := time.Date(2024, 3, 2, 12, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("nextRun = %s, want %s", got, want)
	}
}

func TestDailyNextRunHonoursTimezone(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*3600)
	d := NewDaily(9, 0, loc, zerolog.Nop())

	// 13:00 UTC is 08:00 in UTC-5, so the slot is still ahead today.
	now := time.Date(2024, 3, 1, 13, 0, 0, 0, time.UTC)
	got := d.nextRun(now)
	want := time.Date(2024, 3, 1, 9, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Fatalf("nextRun = %s, want %s", got, want)
	}

	// 15:00 UTC is 10:00 in UTC-5, past the slot.
	now = time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC)
	got = d.nextRun(now)
	want = time.Date(2024, 3, 2, 9, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Fatalf("nextRun = %s, want %s", got, want)
	}
}

func TestDailyNextRunMonthRollover(t *testing.T) {
	d := NewDaily(0, 15, time.UTC, zerolog.Nop())

	now := time.Date(2024, 2, 29, 23, 0, 0, 0, time.UTC)
	got := d.nextRun(now)
	want := time.Date(2024, 3, 1, 0, 15, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("nextRun = %s, want %s", got, want)
	}
}
