package postgres

import (
	"testing"
	"time"
)

func TestParseMonths(t *testing.T) {
	months := parseMonths("6, 7,8")
	if len(months) != 3 || months[0] != time.June || months[2] != time.August {
		t.Fatalf("unexpected months %v", months)
	}
}

func TestParseMonthsSkipsGarbage(t *testing.T) {
	months := parseMonths("0,13,x,12")
	if len(months) != 1 || months[0] != time.December {
		t.Fatalf("unexpected months %v", months)
	}
	if parseMonths("") != nil {
		t.Fatal("empty input should yield nil")
	}
}
