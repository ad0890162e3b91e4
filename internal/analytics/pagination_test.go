package analytics

import "testing"

func TestParsePageParamsDefaults(t *testing.T) {
	p, err := ParsePageParams("", "", 100, 1000)
	if err != nil {
		t.Fatalf("ParsePageParams() error = %v", err)
	}
	if p.Page != 1 || p.PageSize != 100 {
		t.Errorf("params = %+v, want page 1, size 100", p)
	}
}

func TestParsePageParamsValid(t *testing.T) {
	p, err := ParsePageParams("3", "50", 100, 1000)
	if err != nil {
		t.Fatalf("ParsePageParams() error = %v", err)
	}
	if p.Page != 3 || p.PageSize != 50 {
		t.Errorf("params = %+v, want page 3, size 50", p)
	}
	if p.Offset() != 100 {
		t.Errorf("Offset() = %d, want 100", p.Offset())
	}
}

func TestParsePageParamsCeiling(t *testing.T) {
	if _, err := ParsePageParams("1", "1000", 100, 1000); err != nil {
		t.Errorf("page_size 1000 rejected: %v", err)
	}
	if _, err := ParsePageParams("1", "1001", 100, 1000); err == nil {
		t.Error("page_size 1001 accepted, want rejection")
	}
	if _, err := ParsePageParams("1", "2000", 100, 1000); err == nil {
		t.Error("page_size 2000 accepted, want rejection")
	}
}

func TestParsePageParamsRejectsBadInput(t *testing.T) {
	cases := []struct{ page, size string }{
		{"0", "10"},
		{"-1", "10"},
		{"abc", "10"},
		{"1", "0"},
		{"1", "-5"},
		{"1", "ten"},
		{"1.5", "10"},
	}
	for _, tc := range cases {
		if _, err := ParsePageParams(tc.page, tc.size, 100, 1000); err == nil {
			t.Errorf("ParsePageParams(%q, %q): want rejection, got nil", tc.page, tc.size)
		}
	}
}

func TestTotalPagesNeverBelowOne(t *testing.T) {
	cases := []struct {
		total int64
		size  int
		want  int
	}{
		{0, 100, 1},
		{1, 100, 1},
		{100, 100, 1},
		{101, 100, 2},
		{250, 100, 3},
	}
	for _, tc := range cases {
		if got := totalPages(tc.total, tc.size); got != tc.want {
			t.Errorf("totalPages(%d, %d) = %d, want %d", tc.total, tc.size, got, tc.want)
		}
	}
}
