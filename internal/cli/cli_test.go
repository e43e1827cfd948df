package cli

import "testing"

func TestParseArgs_Serve(t *testing.T) {
	a, err := ParseArgs([]string{"serve", "-config", "ztguard.yaml", "-listen", ":9000"})
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	if a.Command != CommandServe || a.ConfigPath != "ztguard.yaml" || a.ListenAddr != ":9000" {
		t.Fatalf("args = %+v", a)
	}
}

func TestParseArgs_Scan(t *testing.T) {
	a, err := ParseArgs([]string{"scan", "https://example.com", " ", "http://10.0.0.1/login"})
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	if a.Command != CommandScan || len(a.URLs) != 2 || a.URLs[1] != "http://10.0.0.1/login" {
		t.Fatalf("args = %+v", a)
	}
}

func TestParseArgs_Errors(t *testing.T) {
	cases := [][]string{
		nil,
		{"launch"},
		{"scan"},
		{"scan", "-listen", ":1", "https://example.com"},
		{"serve", "-bogus"},
	}
	for _, args := range cases {
		if _, err := ParseArgs(args); err == nil {
			t.Errorf("ParseArgs(%q) should fail", args)
		}
	}
}
