package expiry

import (
	"testing"
	"time"
)

func TestFormats_Rollover(t *testing.T) {
	issue := time.Date(2029, time.December, 15, 0, 0, 0, 0, time.UTC)
	if got := YYMM(issue, 1); got != "3012" {
		t.Fatalf("YYMM got %s want %s", got, "3012")
	}
	if got := CardFace(issue, 10); got != "12/39" {
		t.Fatalf("CardFace got %s want %s", got, "12/39")
	}
}

func TestExpiry_LeapIssue(t *testing.T) {
	// Feb 29 + 10 years normalizes into March; face must follow the instant.
	issue := time.Date(2028, time.February, 29, 12, 0, 0, 0, time.UTC)
	exp := Expiry(issue, 10)
	want := time.Date(2038, time.March, 1, 12, 0, 0, 0, time.UTC)
	if !exp.Equal(want) {
		t.Fatalf("Expiry got %v want %v", exp, want)
	}
	if got := CardFace(issue, 10); got != "03/38" {
		t.Fatalf("CardFace got %s want 03/38", got)
	}
}

func TestParseYYMMEndOfMonth(t *testing.T) {
	cases := []struct {
		in   string
		want time.Time
	}{
		{"3002", time.Date(2030, time.February, 28, 23, 59, 59, 999999999, time.UTC)},
		{"3004", time.Date(2030, time.April, 30, 23, 59, 59, 999999999, time.UTC)},
		{"2802", time.Date(2028, time.February, 29, 23, 59, 59, 999999999, time.UTC)},
	}
	for _, c := range cases {
		ts, err := ParseYYMMEndOfMonth(c.in, time.UTC)
		if err != nil {
			t.Fatalf("err: %v", err)
		}
		if !ts.Equal(c.want) {
			t.Fatalf("%s: got %v want %v", c.in, ts, c.want)
		}
	}
}

func TestValidateYYMM(t *testing.T) {
	cases := []struct {
		in string
		ok bool
	}{
		{"3002", true}, {"9912", true}, {"0001", true},
		{"123", false}, {"12a4", false}, {"3013", false}, {"0000", false},
	}
	for _, c := range cases {
		err := ValidateYYMM(c.in)
		if (err == nil) != c.ok {
			t.Fatalf("ValidateYYMM(%s) ok=%v got err=%v", c.in, c.ok, err)
		}
	}
}

func TestIsExpired(t *testing.T) {
	yymm := "3002"
	end, _ := ParseYYMMEndOfMonth(yymm, time.UTC)
	if expired, err := IsExpired(yymm, end, time.UTC); err != nil || expired {
		t.Fatalf("expected not expired at end, got expired=%v err=%v", expired, err)
	}
	if expired, err := IsExpired(yymm, end.Add(time.Nanosecond), time.UTC); err != nil || !expired {
		t.Fatalf("expected expired after end, got expired=%v err=%v", expired, err)
	}
}

func TestIsExpiredAt(t *testing.T) {
	exp := time.Date(2035, time.June, 1, 10, 0, 0, 0, time.UTC)
	if IsExpiredAt(exp, exp) {
		t.Fatalf("expiry instant itself is still valid")
	}
	if !IsExpiredAt(exp, exp.Add(time.Second)) {
		t.Fatalf("expected expired one second later")
	}
}

func TestIsFaceExpired(t *testing.T) {
	now := time.Date(2030, time.March, 1, 0, 0, 0, 0, time.UTC)
	if !IsFaceExpired("02/30", now) {
		t.Fatalf("02/30 should be expired on 2030-03-01")
	}
	if IsFaceExpired("03/30", now) {
		t.Fatalf("03/30 should be valid through March")
	}
	if IsFaceExpired("garbage", now) {
		t.Fatalf("unparseable face counts as not expired")
	}
}

func TestParseCardFace(t *testing.T) {
	yymm, err := ParseCardFace("10/30")
	if err != nil || yymm != "3010" {
		t.Fatalf("ParseCardFace 10/30 got %s err=%v", yymm, err)
	}
	yymm, err = ParseCardFace("1030")
	if err != nil || yymm != "3010" {
		t.Fatalf("ParseCardFace 1030 got %s err=%v", yymm, err)
	}
	if _, err := ParseCardFace("13/30"); err == nil {
		t.Fatalf("expected error for 13/30")
	}
}

func TestYearsForProduct(t *testing.T) {
	if got := YearsForProduct("virtual", 0); got != 10 {
		t.Fatalf("virtual years got %d want 10", got)
	}
	if got := YearsForProduct("debit", 0); got != 5 {
		t.Fatalf("debit years got %d want 5", got)
	}
	if got := YearsForProduct("unknown", 0); got != 10 {
		t.Fatalf("fallback years got %d want 10", got)
	}
	if got := YearsForProduct("anything", 7); got != 7 {
		t.Fatalf("override years got %d want 7", got)
	}
}

func TestMonthHelpers(t *testing.T) {
	now := time.Date(2026, time.December, 31, 23, 0, 0, 0, time.UTC)
	if got := MonthKey(now); got != "2026-12" {
		t.Fatalf("MonthKey got %s", got)
	}
	if got := DayKey(now); got != "2026-12-31" {
		t.Fatalf("DayKey got %s", got)
	}
	want := time.Date(2027, time.January, 1, 0, 0, 0, 0, time.UTC)
	if got := NextMonthStart(now); !got.Equal(want) {
		t.Fatalf("NextMonthStart got %v want %v", got, want)
	}
}
