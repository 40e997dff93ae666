package schedule

import "testing"

func TestParseInterval_Duration(t *testing.T) {
	if _, err := ParseInterval("5m"); err != nil {
		t.Errorf("expected duration to parse, got %v", err)
	}
}

func TestParseInterval_Cron(t *testing.T) {
	if _, err := ParseInterval("*/5 * * * *"); err != nil {
		t.Errorf("expected cron expression to parse, got %v", err)
	}
}

func TestParseInterval_ClockTime(t *testing.T) {
	if _, err := ParseInterval("04:05"); err != nil {
		t.Errorf("expected clock time to parse, got %v", err)
	}
}

func TestParseInterval_Invalid(t *testing.T) {
	if _, err := ParseInterval("not-an-interval"); err == nil {
		t.Error("expected an error for an unparsable interval")
	}
}
