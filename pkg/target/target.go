// Package target enumerates scrape targets and derives their canonical
// source URLs and storage paths. A target is one (division, gender, date)
// unit of work; the path naming convention is reversible so a storage
// path can always be mapped back to the target that produced it.
package target

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

var ErrInvalidConfiguration = errors.New("invalid configuration")

const scoreboardURLFormat = "https://www.ncaa.com/scoreboard/basketball-%s/%s/%04d/%02d/%02d/all-conf"

// Division is one of the three NCAA divisions.
type Division string

const (
	DivisionOne   Division = "d1"
	DivisionTwo   Division = "d2"
	DivisionThree Division = "d3"
)

// Gender selects the men's or women's scoreboard.
type Gender string

const (
	Men   Gender = "men"
	Women Gender = "women"
)

// Divisions and Genders are the closed enumerations, in canonical order.
var (
	Divisions = []Division{DivisionOne, DivisionTwo, DivisionThree}
	Genders   = []Gender{Men, Women}
)

func ParseDivision(s string) (Division, error) {
	switch Division(strings.ToLower(s)) {
	case DivisionOne, DivisionTwo, DivisionThree:
		return Division(strings.ToLower(s)), nil
	}
	return "", fmt.Errorf("%w: unknown division %q (want d1, d2 or d3)", ErrInvalidConfiguration, s)
}

func ParseGender(s string) (Gender, error) {
	switch Gender(strings.ToLower(s)) {
	case Men, Women:
		return Gender(strings.ToLower(s)), nil
	}
	return "", fmt.Errorf("%w: unknown gender %q (want men or women)", ErrInvalidConfiguration, s)
}

// Date is a timezone-naive calendar date: the day the games were played.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

func NewDate(year int, month time.Month, day int) (Date, error) {
	d := Date{Year: year, Month: month, Day: day}
	if !d.valid() {
		return Date{}, fmt.Errorf("%w: invalid date %04d-%02d-%02d", ErrInvalidConfiguration, year, month, day)
	}
	return d, nil
}

// ParseDate parses the YYYY/MM/DD form used on the NCAA scoreboard URLs.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006/01/02", s)
	if err != nil {
		return Date{}, fmt.Errorf("%w: invalid date %q (want YYYY/MM/DD)", ErrInvalidConfiguration, s)
	}
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}, nil
}

// Yesterday is the default scrape date: box scores for a game day are
// complete once the day is over.
func Yesterday() Date {
	t := time.Now().AddDate(0, 0, -1)
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}

func (d Date) valid() bool {
	if d.Year < 1900 || d.Year > 9999 {
		return false
	}
	t := time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
	return t.Year() == d.Year && t.Month() == d.Month && t.Day() == d.Day
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// Next returns the following calendar day.
func (d Date) Next() Date {
	t := time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}

// After reports whether d falls after other.
func (d Date) After(other Date) bool {
	if d.Year != other.Year {
		return d.Year > other.Year
	}
	if d.Month != other.Month {
		return d.Month > other.Month
	}
	return d.Day > other.Day
}

// Target is one (division, gender, date) unit of work. Immutable once
// constructed.
type Target struct {
	Division Division
	Gender   Gender
	Date     Date
}

func (t Target) String() string {
	return fmt.Sprintf("%s %s %s", t.Gender, t.Division, t.Date)
}

// ScoreboardURL is the canonical source locator for the target.
func (t Target) ScoreboardURL() string {
	return fmt.Sprintf(scoreboardURLFormat, t.Gender, t.Division, t.Date.Year, t.Date.Month, t.Date.Day)
}

// StoragePath is the canonical slash-separated artifact path:
// {year}/{month}/{gender}/{division}/box_{gender}_{division}_{date}.csv
func (t Target) StoragePath() string {
	return fmt.Sprintf("%04d/%02d/%s/%s/box_%s_%s_%s.csv",
		t.Date.Year, t.Date.Month, t.Gender, t.Division, t.Gender, t.Division, t.Date)
}

// ParseStoragePath recovers the target from a canonical storage path.
// It is the exact inverse of StoragePath.
func ParseStoragePath(p string) (Target, error) {
	base := path.Base(p)
	name := strings.TrimSuffix(base, ".csv")
	if name == base || !strings.HasPrefix(name, "box_") {
		return Target{}, fmt.Errorf("%w: storage path %q does not match naming convention", ErrInvalidConfiguration, p)
	}

	parts := strings.Split(strings.TrimPrefix(name, "box_"), "_")
	if len(parts) != 3 {
		return Target{}, fmt.Errorf("%w: storage path %q does not match naming convention", ErrInvalidConfiguration, p)
	}

	gender, err := ParseGender(parts[0])
	if err != nil {
		return Target{}, err
	}
	division, err := ParseDivision(parts[1])
	if err != nil {
		return Target{}, err
	}
	date, err := ParseDate(strings.ReplaceAll(parts[2], "-", "/"))
	if err != nil {
		return Target{}, err
	}

	return Target{Division: division, Gender: gender, Date: date}, nil
}

// Enumerate builds the work list for a single date: the cartesian
// product of divisions and genders, division-major. The order is fixed
// so logs and reports are deterministic across runs.
func Enumerate(date Date, divisions []Division, genders []Gender) ([]Target, error) {
	if !date.valid() {
		return nil, fmt.Errorf("%w: invalid date %s", ErrInvalidConfiguration, date)
	}
	if len(divisions) == 0 {
		return nil, fmt.Errorf("%w: no divisions selected", ErrInvalidConfiguration)
	}
	if len(genders) == 0 {
		return nil, fmt.Errorf("%w: no genders selected", ErrInvalidConfiguration)
	}
	for _, d := range divisions {
		if _, err := ParseDivision(string(d)); err != nil {
			return nil, err
		}
	}
	for _, g := range genders {
		if _, err := ParseGender(string(g)); err != nil {
			return nil, err
		}
	}

	targets := make([]Target, 0, len(divisions)*len(genders))
	for _, d := range divisions {
		for _, g := range genders {
			targets = append(targets, Target{Division: d, Gender: g, Date: date})
		}
	}
	return targets, nil
}

// EnumerateRange expands a backfill window into targets, day by day,
// bounds inclusive.
func EnumerateRange(from, to Date, divisions []Division, genders []Gender) ([]Target, error) {
	if from.After(to) {
		return nil, fmt.Errorf("%w: backfill start %s is after end %s", ErrInvalidConfiguration, from, to)
	}
	var targets []Target
	for d := from; !d.After(to); d = d.Next() {
		day, err := Enumerate(d, divisions, genders)
		if err != nil {
			return nil, err
		}
		targets = append(targets, day...)
	}
	return targets, nil
}
