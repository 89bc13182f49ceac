package channel

import (
	"testing"
	"time"
)

var testNow = time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

func at(d time.Duration) *time.Time {
	t := testNow.Add(d)
	return &t
}

func TestDaysRemaining(t *testing.T) {
	tests := []struct {
		name      string
		expiresAt *time.Time
		want      int
	}{
		{"nil", nil, 0},
		{"in the past", at(-2 * Day), 0},
		{"exactly now", at(0), 0},
		{"one second left", at(time.Second), 1},
		{"exactly one day", at(Day), 1},
		{"one day and a second", at(Day + time.Second), 2},
		{"ten days", at(10 * Day), 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DaysRemaining(tt.expiresAt, testNow)
			if got != tt.want {
				t.Fatalf("DaysRemaining = %d, want %d", got, tt.want)
			}
			if (got == 0) != IsExpired(tt.expiresAt, testNow) {
				t.Fatalf("DaysRemaining %d disagrees with IsExpired %v", got, IsExpired(tt.expiresAt, testNow))
			}
		})
	}
}

func TestPlanGrantActivatesPending(t *testing.T) {
	ch := Channel{ID: "ch", UserID: "u", Status: StatusPending}
	next, entry, branch := PlanGrant(ch, GrantRequest{ChannelID: "ch", Days: 30, Source: SourcePayPal}, testNow)

	if branch != BranchActivate {
		t.Fatalf("branch = %s", branch)
	}
	if next.Status != StatusActive {
		t.Fatalf("status = %s", next.Status)
	}
	if !next.ActiveFrom.Equal(testNow) || !next.ExpiresAt.Equal(testNow.Add(30*Day)) {
		t.Fatalf("activeFrom %v expiresAt %v", next.ActiveFrom, next.ExpiresAt)
	}
	if next.DaysRemaining != 30 {
		t.Fatalf("days remaining = %d", next.DaysRemaining)
	}
	if entry.ExpiresAtBefore != nil || !entry.ExpiresAtAfter.Equal(*next.ExpiresAt) || entry.Days != 30 {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if ch.Status != StatusPending || ch.ExpiresAt != nil {
		t.Fatal("input channel was modified")
	}
}

func TestPlanGrantExtendsActive(t *testing.T) {
	activeFrom := testNow.Add(-20 * Day)
	ch := Channel{ID: "ch", Status: StatusActive, ActiveFrom: &activeFrom, ExpiresAt: at(10 * Day)}
	next, entry, branch := PlanGrant(ch, GrantRequest{Days: 5, Source: SourceAdminManual}, testNow)

	if branch != BranchExtend {
		t.Fatalf("branch = %s", branch)
	}
	if !next.ExpiresAt.Equal(testNow.Add(15 * Day)) {
		t.Fatalf("expiresAt = %v, want +15d", next.ExpiresAt)
	}
	if !next.ActiveFrom.Equal(activeFrom) {
		t.Fatalf("activeFrom moved to %v", next.ActiveFrom)
	}
	if entry.Days != 5 || !entry.ExpiresAtBefore.Equal(testNow.Add(10*Day)) {
		t.Fatalf("unexpected entry %+v", entry)
	}
}

func TestPlanGrantExtendsPausedWithTimeLeft(t *testing.T) {
	ch := Channel{Status: StatusPaused, ExpiresAt: at(3 * Day)}
	next, _, branch := PlanGrant(ch, GrantRequest{Days: 1, Source: SourceAutoExtend}, testNow)
	if branch != BranchExtend || next.Status != StatusActive || !next.ExpiresAt.Equal(testNow.Add(4*Day)) {
		t.Fatalf("branch %s status %s expiresAt %v", branch, next.Status, next.ExpiresAt)
	}
}

func TestPlanGrantRestartsExpired(t *testing.T) {
	ch := Channel{Status: StatusPaused, ActiveFrom: at(-40 * Day), ExpiresAt: at(-2 * Day)}
	next, _, branch := PlanGrant(ch, GrantRequest{Days: 7, Source: SourceOffline}, testNow)

	if branch != BranchRestart {
		t.Fatalf("branch = %s", branch)
	}
	if next.Status != StatusActive || !next.ActiveFrom.Equal(testNow) || !next.ExpiresAt.Equal(testNow.Add(7*Day)) {
		t.Fatalf("status %s activeFrom %v expiresAt %v", next.Status, next.ActiveFrom, next.ExpiresAt)
	}
}

func TestPlanGrantExpiringExactlyNowRestarts(t *testing.T) {
	ch := Channel{Status: StatusActive, ExpiresAt: at(0)}
	_, _, branch := PlanGrant(ch, GrantRequest{Days: 1}, testNow)
	if branch != BranchRestart {
		t.Fatalf("branch = %s, want restart", branch)
	}
}

func TestExceedsCap(t *testing.T) {
	if exceedsCap(at(1000*Day), testNow, 0) {
		t.Fatal("zero cap must be unbounded")
	}
	if exceedsCap(at(30*Day), testNow, 30) {
		t.Fatal("exactly at cap must be allowed")
	}
	if !exceedsCap(at(30*Day+time.Second), testNow, 30) {
		t.Fatal("past cap must be rejected")
	}
}

func TestParseSource(t *testing.T) {
	s, err := ParseSource(" paypal ")
	if err != nil || s != SourcePayPal {
		t.Fatalf("ParseSource = %q, %v", s, err)
	}
	if _, err := ParseSource("bitcoin"); err == nil {
		t.Fatal("expected error for unknown source")
	}
	for _, src := range []Source{SourceMigration, SourceAutoExtend} {
		if src.DrawsFromPool() {
			t.Errorf("%s must not draw from the pool at grant time", src)
		}
	}
	for _, src := range []Source{SourceAdminManual, SourcePayPal, SourceOffline} {
		if !src.DrawsFromPool() {
			t.Errorf("%s must draw from the pool", src)
		}
	}
}
