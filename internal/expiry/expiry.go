package expiry

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	defaultLoc   = time.UTC
	productYears = map[string]int{"virtual": 10, "credit": 3, "debit": 5}
)

// SetDefaultExpiryLocation sets the default time location for expiry calculations (fallback UTC).
func SetDefaultExpiryLocation(loc *time.Location) {
	if loc != nil {
		defaultLoc = loc
	}
}

// SetProductYears merges a product→years mapping used by YearsForProduct.
func SetProductYears(m map[string]int) {
	for k, v := range m {
		if v > 0 {
			productYears[strings.ToLower(k)] = v
		}
	}
}

// YearsForProduct returns validity years for product unless override>0.
func YearsForProduct(product string, override int) int {
	if override > 0 {
		return override
	}
	if y, ok := productYears[strings.ToLower(product)]; ok {
		return y
	}
	return productYears["virtual"]
}

// Expiry returns the expiry instant for a card issued at issue: same
// wall-clock moment, years later.
func Expiry(issue time.Time, years int) time.Time {
	return issue.In(defaultLoc).AddDate(years, 0, 0)
}

// YYMM returns expiry in YYMM for an issue date + years.
func YYMM(issue time.Time, years int) string {
	t := issue.In(defaultLoc).AddDate(years, 0, 0)
	return fmt.Sprintf("%02d%02d", t.Year()%100, int(t.Month()))
}

// CardFace returns expiry as MM/YY for card imprint.
func CardFace(issue time.Time, years int) string {
	t := issue.In(defaultLoc).AddDate(years, 0, 0)
	return fmt.Sprintf("%02d/%02d", int(t.Month()), t.Year()%100)
}

// ParseYYMMEndOfMonth parses YYMM into the last instant of that month in loc.
func ParseYYMMEndOfMonth(yymm string, loc *time.Location) (time.Time, error) {
	if err := ValidateYYMM(yymm); err != nil {
		return time.Time{}, err
	}
	if loc == nil {
		loc = defaultLoc
	}
	yy, _ := strconv.Atoi(yymm[:2])
	mm, _ := strconv.Atoi(yymm[2:])
	firstNext := time.Date(2000+yy, time.Month(mm), 1, 0, 0, 0, 0, loc).AddDate(0, 1, 0)
	return firstNext.Add(-time.Nanosecond), nil
}

// IsExpired reports whether time 'at' is strictly after the end of YYMM month in loc.
func IsExpired(yymm string, at time.Time, loc *time.Location) (bool, error) {
	end, err := ParseYYMMEndOfMonth(yymm, loc)
	if err != nil {
		return false, err
	}
	return at.In(end.Location()).After(end), nil
}

// IsExpiredAt reports whether now is strictly past the expiry instant.
func IsExpiredAt(expiresAt, now time.Time) bool {
	return now.After(expiresAt)
}

// IsFaceExpired is the fallback for records that only carry the MM/YY
// face value: the card is valid through the end of that month.
// Unparseable faces are reported as not expired.
func IsFaceExpired(face string, now time.Time) bool {
	yymm, err := ParseCardFace(face)
	if err != nil {
		return false
	}
	expired, err := IsExpired(yymm, now, nil)
	if err != nil {
		return false
	}
	return expired
}

// ParseCardFace accepts "MM/YY" or "MMYY" and returns YYMM.
func ParseCardFace(in string) (string, error) {
	s := strings.TrimSpace(in)
	s = strings.ReplaceAll(s, "/", "")
	if len(s) != 4 {
		return "", fmt.Errorf("card face must be MM/YY or MMYY")
	}
	for i := 0; i < 4; i++ {
		if s[i] < '0' || s[i] > '9' {
			return "", fmt.Errorf("card face must be digits")
		}
	}
	mm, _ := strconv.Atoi(s[:2])
	if mm < 1 || mm > 12 {
		return "", fmt.Errorf("month must be 01..12")
	}
	return s[2:] + fmt.Sprintf("%02d", mm), nil
}

// ValidateYYMM checks the expiry is YYMM with a month in 01..12.
func ValidateYYMM(yymm string) error {
	if len(yymm) != 4 {
		return fmt.Errorf("expiry must be YYMM (4 digits)")
	}
	for i := 0; i < 4; i++ {
		if yymm[i] < '0' || yymm[i] > '9' {
			return fmt.Errorf("expiry must be digits: YYMM")
		}
	}
	mm := int(yymm[2]-'0')*10 + int(yymm[3]-'0')
	if mm < 1 || mm > 12 {
		return fmt.Errorf("expiry month must be 01..12")
	}
	return nil
}

// MonthKey returns the calendar month of t as YYYY-MM.
func MonthKey(t time.Time) string {
	return t.In(defaultLoc).Format("2006-01")
}

// NextMonthStart returns the first instant of the month following t.
func NextMonthStart(t time.Time) time.Time {
	t = t.In(defaultLoc)
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, defaultLoc).AddDate(0, 1, 0)
}

// DayKey returns the calendar date of t as YYYY-MM-DD.
func DayKey(t time.Time) string {
	return t.In(defaultLoc).Format("2006-01-02")
}
