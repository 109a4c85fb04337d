package pgschema

import (
	"strings"
	"testing"
)

func TestValidSchema(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want bool
	}{
		{in: "orderdesk", want: true},
		{in: "t_01abc", want: true},
		{in: "", want: false},
		{in: "1abc", want: false},
		{in: "a-b", want: false},
		{in: `x"; DROP TABLE orders; --`, want: false},
		{in: strings.Repeat("a", 64), want: false},
	}
	for _, tc := range cases {
		if got := ValidSchema(tc.in); got != tc.want {
			t.Fatalf("ValidSchema(%q)=%v want=%v", tc.in, got, tc.want)
		}
	}
}

func TestIdent(t *testing.T) {
	t.Parallel()

	if got := Ident("orderdesk", "magic_links"); got != `"orderdesk"."magic_links"` {
		t.Fatalf("Ident=%s", got)
	}
}

func TestDDL_QualifiesEveryTable(t *testing.T) {
	t.Parallel()

	ddl := DDL("t_schema")
	for _, table := range []string{"orders", "staff_members", "magic_links", "change_requests", "audit_log"} {
		if !strings.Contains(ddl, `"t_schema"."`+table+`"`) {
			t.Fatalf("DDL missing qualified table %s", table)
		}
	}
	if !strings.Contains(ddl, "uq_magic_links_token_hash") {
		t.Fatalf("DDL must carry the unique token hash index")
	}
}
