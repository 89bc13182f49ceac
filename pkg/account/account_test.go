package account

import (
	"testing"
	"time"
)

func TestSubscriptionSkipsOn(t *testing.T) {
	sub := Subscription{SkipFriday: true}
	for day := time.Sunday; day <= time.Saturday; day++ {
		if got, want := sub.SkipsOn(day), day == time.Friday; got != want {
			t.Errorf("SkipsOn(%s) = %v, want %v", day, got, want)
		}
	}

	both := Subscription{SkipFriday: true, SkipSaturday: true}
	if !both.SkipsOn(time.Saturday) || both.SkipsOn(time.Sunday) {
		t.Fatal("weekend flags misapplied")
	}
}

func TestStatusValid(t *testing.T) {
	for _, s := range []Status{StatusActive, StatusExpired, StatusSuspended} {
		if !s.Valid() {
			t.Errorf("%q not valid", s)
		}
	}
	if Status("deleted").Valid() {
		t.Fatal("unknown status accepted")
	}
}
