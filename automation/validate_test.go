package automation

import (
	"strings"
	"testing"
	"time"
)

func TestValidateFiveFieldExpression(t *testing.T) {
	v := Validate("*/5 * * * *", "")
	if !v.Valid {
		t.Fatalf("expected valid, got error %q", v.Err)
	}
	if v.NextRun == nil {
		t.Fatal("expected nextRun to be set")
	}
	if !v.NextRun.After(time.Now().Add(-time.Second)) {
		t.Errorf("nextRun %v is in the past", v.NextRun)
	}
}

func TestValidateSixFieldExpression(t *testing.T) {
	v := Validate("*/30 * * * * *", "")
	if !v.Valid {
		t.Fatalf("seconds-field expression rejected: %q", v.Err)
	}
	if v.NextRun == nil {
		t.Fatal("expected nextRun to be set")
	}
}

func TestValidateTimezone(t *testing.T) {
	v := Validate("0 9 * * 1-5", "America/New_York")
	if !v.Valid {
		t.Fatalf("expected valid, got error %q", v.Err)
	}

	v = Validate("0 9 * * 1-5", "Not/AZone")
	if v.Valid {
		t.Fatal("expected unknown timezone to be rejected")
	}
	if !strings.Contains(v.Err, "CRON_INVALID") {
		t.Errorf("error %q does not carry CRON_INVALID", v.Err)
	}
}

func TestValidateRejectsTimezonePrefixes(t *testing.T) {
	for _, expr := range []string{"TZ=UTC * * * * *", "CRON_TZ=Europe/Paris 0 * * * *"} {
		if v := Validate(expr, ""); v.Valid {
			t.Errorf("expression %q with inline timezone accepted", expr)
		}
	}
}

func TestValidateRejectsGarbage(t *testing.T) {
	for _, expr := range []string{"", "   ", "not a cron", "* * *", "61 * * * *"} {
		v := Validate(expr, "")
		if v.Valid {
			t.Errorf("expression %q accepted", expr)
			continue
		}
		if v.NextRun != nil {
			t.Errorf("invalid expression %q carries a nextRun", expr)
		}
		if !strings.Contains(v.Err, "CRON_INVALID") {
			t.Errorf("error %q does not carry CRON_INVALID", v.Err)
		}
	}
}
