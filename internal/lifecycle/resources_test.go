package lifecycle

import "testing"

func TestParseMemory(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"", 0},
		{"512m", 512 * 1024 * 1024},
		{"2g", 2 * 1024 * 1024 * 1024},
		{"256Mi", 256 * 1024 * 1024},
		{"1Gi", 1024 * 1024 * 1024},
	}
	for _, tc := range cases {
		got, err := parseMemory(tc.in)
		if err != nil {
			t.Fatalf("parseMemory(%q) error: %v", tc.in, err)
		}
		if got != tc.want {
			t.Errorf("parseMemory(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestParseCPU(t *testing.T) {
	got, err := parseCPU("0.5")
	if err != nil {
		t.Fatalf("parseCPU error: %v", err)
	}
	if got != 0.5 {
		t.Errorf("parseCPU(0.5) = %v, want 0.5", got)
	}

	got, err = parseCPU("")
	if err != nil || got != 0 {
		t.Errorf("parseCPU(\"\") = %v, %v, want 0, nil", got, err)
	}
}
