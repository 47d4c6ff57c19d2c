package target

import (
	"errors"
	"testing"
	"time"
)

func TestScoreboardURL(t *testing.T) {
	tgt := Target{Division: DivisionThree, Gender: Women, Date: Date{2025, time.February, 6}}
	want := "https://www.ncaa.com/scoreboard/basketball-women/d3/2025/02/06/all-conf"
	if got := tgt.ScoreboardURL(); got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestStoragePathRoundTrip(t *testing.T) {
	for _, d := range Divisions {
		for _, g := range Genders {
			tgt := Target{Division: d, Gender: g, Date: Date{2025, time.February, 14}}
			p := tgt.StoragePath()

			back, err := ParseStoragePath(p)
			if err != nil {
				t.Fatalf("round trip failed for %s: %v", p, err)
			}
			if back != tgt {
				t.Fatalf("round trip mismatch for %s: got %+v, want %+v", p, back, tgt)
			}
		}
	}
}

func TestStoragePathLayout(t *testing.T) {
	tgt := Target{Division: DivisionOne, Gender: Men, Date: Date{2025, time.January, 9}}
	want := "2025/01/men/d1/box_men_d1_2025-01-09.csv"
	if got := tgt.StoragePath(); got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestParseStoragePathRejectsGarbage(t *testing.T) {
	for _, p := range []string{
		"",
		"2025/01/men/d1/whatever.csv",
		"box_men_d1_2025-01-09",
		"2025/01/men/d1/box_men_d9_2025-01-09.csv",
		"2025/01/men/d1/box_kids_d1_2025-01-09.csv",
		"2025/01/men/d1/box_men_d1_2025-13-09.csv",
	} {
		if _, err := ParseStoragePath(p); !errors.Is(err, ErrInvalidConfiguration) {
			t.Fatalf("expected ErrInvalidConfiguration for %q, got %v", p, err)
		}
	}
}

func TestEnumerateOrderIsDivisionMajor(t *testing.T) {
	date := Date{2025, time.February, 14}
	targets, err := Enumerate(date, Divisions, Genders)
	if err != nil {
		t.Fatal(err)
	}
	if len(targets) != 6 {
		t.Fatalf("expected 6 targets, got %d", len(targets))
	}

	want := []Target{
		{DivisionOne, Men, date},
		{DivisionOne, Women, date},
		{DivisionTwo, Men, date},
		{DivisionTwo, Women, date},
		{DivisionThree, Men, date},
		{DivisionThree, Women, date},
	}
	for i := range want {
		if targets[i] != want[i] {
			t.Fatalf("position %d: got %+v, want %+v", i, targets[i], want[i])
		}
	}
}

func TestEnumerateValidation(t *testing.T) {
	date := Date{2025, time.February, 14}

	if _, err := Enumerate(date, nil, Genders); !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatalf("expected error for empty divisions, got %v", err)
	}
	if _, err := Enumerate(date, Divisions, nil); !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatalf("expected error for empty genders, got %v", err)
	}
	if _, err := Enumerate(date, []Division{"d4"}, Genders); !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatalf("expected error for bad division, got %v", err)
	}
	if _, err := Enumerate(Date{2025, time.February, 30}, Divisions, Genders); !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatalf("expected error for impossible date, got %v", err)
	}
}

func TestEnumerateRange(t *testing.T) {
	from := Date{2025, time.January, 30}
	to := Date{2025, time.February, 2}

	targets, err := EnumerateRange(from, to, []Division{DivisionThree}, []Gender{Women})
	if err != nil {
		t.Fatal(err)
	}
	if len(targets) != 4 {
		t.Fatalf("expected 4 targets across the month boundary, got %d", len(targets))
	}
	if targets[0].Date != from || targets[3].Date != to {
		t.Fatalf("unexpected range bounds: %v .. %v", targets[0].Date, targets[3].Date)
	}

	if _, err := EnumerateRange(to, from, Divisions, Genders); !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatalf("expected error for inverted range, got %v", err)
	}
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2025/02/06")
	if err != nil {
		t.Fatal(err)
	}
	if d.String() != "2025-02-06" {
		t.Fatalf("unexpected date: %s", d)
	}

	for _, s := range []string{"2025-02-06", "06/02/2025", "2025/02/30", "yesterday"} {
		if _, err := ParseDate(s); !errors.Is(err, ErrInvalidConfiguration) {
			t.Fatalf("expected ErrInvalidConfiguration for %q, got %v", s, err)
		}
	}
}
