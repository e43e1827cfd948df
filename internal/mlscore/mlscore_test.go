package mlscore_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/raysh454/ztguard/internal/apperr"
	"github.com/raysh454/ztguard/internal/features"
	"github.com/raysh454/ztguard/internal/mlscore"
	"github.com/raysh454/ztguard/internal/testutil"
)

func vector(t *testing.T, raw string) *features.Vector {
	t.Helper()
	v, err := features.NewExtractor(features.DefaultConfig()).Extract(raw)
	if err != nil {
		t.Fatalf("extract %q: %v", raw, err)
	}
	return v
}

func TestLinearModel_RangeAndOrdering(t *testing.T) {
	t.Parallel()
	m := mlscore.NewLinearModel(mlscore.DefaultLinearConfig())
	ctx := context.Background()

	benign, err := m.Score(ctx, vector(t, "https://accounts.google.com/signin"))
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	risky, err := m.Score(ctx, vector(t, "http://192.168.1.1/secure-login-update-account.tk"))
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if benign < 0 || benign > 1 || risky < 0 || risky > 1 {
		t.Fatalf("scores out of range: %v %v", benign, risky)
	}
	if risky <= benign {
		t.Fatalf("expected risky (%v) > benign (%v)", risky, benign)
	}

	again, _ := m.Score(ctx, vector(t, "https://accounts.google.com/signin"))
	if again != benign {
		t.Fatalf("non-deterministic score: %v vs %v", again, benign)
	}
}

func TestUnavailable(t *testing.T) {
	t.Parallel()
	_, err := mlscore.Unavailable{}.Score(context.Background(), nil)
	if !errors.Is(err, apperr.ScoringUnavailable) {
		t.Fatalf("expected ScoringUnavailable, got %v", err)
	}
}

func TestRemoteProvider(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		status  int
		body    string
		want    float64
		wantErr bool
	}{
		{name: "ok", status: http.StatusOK, body: `{"score":0.73}`, want: 0.73},
		{name: "server error", status: http.StatusInternalServerError, body: `{}`, wantErr: true},
		{name: "bad json", status: http.StatusOK, body: `nope`, wantErr: true},
		{name: "missing score", status: http.StatusOK, body: `{}`, wantErr: true},
		{name: "out of range", status: http.StatusOK, body: `{"score":1.5}`, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Errorf("expected POST, got %s", r.Method)
				}
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			p := mlscore.NewRemoteProvider(mlscore.RemoteConfig{Endpoint: srv.URL}, &testutil.DummyLogger{}, nil)
			got, err := p.Score(context.Background(), vector(t, "https://example.com"))
			if tt.wantErr {
				if !errors.Is(err, apperr.ScoringUnavailable) {
					t.Fatalf("expected ScoringUnavailable, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("score = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRemoteProvider_PostsURLAndFeatures(t *testing.T) {
	t.Parallel()
	var got struct {
		URL      string         `json:"url"`
		Features map[string]any `json:"features"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		fmt.Fprint(w, `{"score":0.4}`)
	}))
	defer srv.Close()

	raw := "http://secure-login.example.tk/verify?id=1"
	p := mlscore.NewRemoteProvider(mlscore.RemoteConfig{Endpoint: srv.URL}, &testutil.DummyLogger{}, nil)
	if _, err := p.Score(context.Background(), vector(t, raw)); err != nil {
		t.Fatalf("Score: %v", err)
	}
	if got.URL != raw {
		t.Fatalf("posted url = %q, want %q", got.URL, raw)
	}
	if got.Features["url_length"] != float64(len(raw)) {
		t.Fatalf("posted features = %v", got.Features)
	}
}

func TestChecked_WrapsPlainErrors(t *testing.T) {
	t.Parallel()
	_, err := mlscore.Checked("op", 0, context.DeadlineExceeded)
	if !errors.Is(err, apperr.ScoringUnavailable) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected wrapped deadline error, got %v", err)
	}
}
