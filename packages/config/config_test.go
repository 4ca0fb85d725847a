package config

import (
	"testing"
	"time"
)

func TestParseSites(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    []string
		names   []string
		wantErr bool
	}{
		{name: "named", raw: "Blog|https://blog.example.com/", want: []string{"https://blog.example.com"}, names: []string{"Blog"}},
		{name: "unnamed", raw: "https://a.example.com", want: []string{"https://a.example.com"}, names: []string{"a.example.com"}},
		{name: "multiple with dup", raw: "A|https://a.io, B|https://b.io,A2|https://a.io", want: []string{"https://a.io", "https://b.io"}, names: []string{"A", "B"}},
		{name: "with path", raw: "Docs|https://a.example/docs/", want: []string{"https://a.example/docs"}, names: []string{"Docs"}},
		{name: "relative", raw: "X|/path", wantErr: true},
		{name: "ftp", raw: "X|ftp://files.example.com", wantErr: true},
		{name: "empty", raw: " , ", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSites(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d sites, want %d: %+v", len(got), len(tt.want), got)
			}
			for i := range got {
				if got[i].URL != tt.want[i] || got[i].Name != tt.names[i] {
					t.Errorf("site %d = %+v, want %s (%s)", i, got[i], tt.want[i], tt.names[i])
				}
			}
		})
	}
}

func TestLoadRequiresDatabaseAndSites(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SITES", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing required variables")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "sqlite://"+t.TempDir()+"/test.db")
	t.Setenv("SITES", "Example|https://example.com")
	t.Setenv("FETCH_TIMEOUT", "not-a-duration")
	t.Setenv("MAX_WORKERS", "8")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxWorkers != 8 {
		t.Errorf("MaxWorkers = %d, want 8", cfg.MaxWorkers)
	}
	if cfg.FetchTimeout != 6*time.Second {
		t.Errorf("FetchTimeout = %v, want fallback 6s", cfg.FetchTimeout)
	}
	if cfg.PagesChunk != 250 || cfg.SearchDefaultLimit != 20 {
		t.Errorf("unexpected defaults: chunk=%d limit=%d", cfg.PagesChunk, cfg.SearchDefaultLimit)
	}
	if len(cfg.Languages) != 2 || cfg.Languages[0] != "english" {
		t.Errorf("Languages = %v", cfg.Languages)
	}
}
