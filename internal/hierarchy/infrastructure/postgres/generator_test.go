package postgres

import "testing"

func TestSumFieldsExprEmpty(t *testing.T) {
	expr, args := sumFieldsExpr(nil, 6)
	if expr != "'{}'::jsonb" {
		t.Fatalf("expected empty jsonb literal, got %s", expr)
	}
	if len(args) != 0 {
		t.Fatalf("expected no args, got %v", args)
	}
}

func TestSumFieldsExprColumns(t *testing.T) {
	expr, args := sumFieldsExpr([]string{"P1 kWh", "kVA"}, 6)
	want := "jsonb_build_object($6::text, COALESCE(SUM((fields->>$6)::double precision), 0), $7::text, COALESCE(SUM((fields->>$7)::double precision), 0))"
	if expr != want {
		t.Fatalf("expression mismatch:\n got %s\nwant %s", expr, want)
	}
	if len(args) != 2 || args[0] != "P1 kWh" || args[1] != "kVA" {
		t.Fatalf("unexpected args %v", args)
	}
}
