package rules_test

import (
	"testing"

	"github.com/raysh454/ztguard/internal/features"
	"github.com/raysh454/ztguard/internal/rules"
	"github.com/raysh454/ztguard/internal/scoring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func evaluate(t *testing.T, cfg rules.Config, raw string) rules.Result {
	t.Helper()
	v, err := features.NewExtractor(features.DefaultConfig()).Extract(raw)
	require.NoError(t, err)
	return rules.NewEngine(cfg).Evaluate(raw, v)
}

func TestCatalogOrderIsFixed(t *testing.T) {
	var names []string
	for _, r := range rules.NewEngine(rules.DefaultConfig()).Rules() {
		names = append(names, r.Name())
	}
	assert.Equal(t, []string{
		"suspicious_tld", "ip_literal_host", "long_url", "excessive_subdomains",
		"suspicious_keywords", "url_shortener", "homograph", "typosquatting",
		"data_uri", "excessive_hyphens", "numeric_heavy_domain", "high_entropy",
	}, names)
}

func TestEvaluate_EachRuleFires(t *testing.T) {
	cases := []struct {
		rule string
		url  string
	}{
		{"suspicious_tld", "http://example.tk/"},
		{"ip_literal_host", "http://10.0.0.1/"},
		{"ip_literal_host", "http://[2001:db8::1]/"},
		{"long_url", "https://example.com/" + repeat("a", 100)},
		{"excessive_subdomains", "https://a.b.c.d.example.com/"},
		{"suspicious_keywords", "https://example.com/verify"},
		{"url_shortener", "https://bit.ly/abc"},
		{"homograph", "https://p\u0430ypal.com/"},
		{"homograph", "https://\u0440\u0430\u0443.com/"},
		{"typosquatting", "https://paypa1.com/"},
		{"typosquatting", "https://gooogle.com/"},
		{"typosquatting", "https://secure-micros0ft.com/"},
		{"data_uri", "data:text/html;base64,PHNjcmlwdD4="},
		{"excessive_hyphens", "https://a-b-c-d.com/"},
		{"numeric_heavy_domain", "https://a1234567.com/"},
		{"high_entropy", "https://q9z.io/Xk7vT2pLmN4wR8yB3hJ6cF1gD5sA0eUo"},
	}
	for _, tc := range cases {
		t.Run(tc.rule+"/"+tc.url, func(t *testing.T) {
			res := evaluate(t, rules.DefaultConfig(), tc.url)
			assert.Contains(t, res.Names(), tc.rule)
			assert.Greater(t, res.Score, 0.0)
		})
	}
}

func TestEvaluate_TyposquatOneEditFromAnyBrand(t *testing.T) {
	cases := []struct {
		url  string
		want bool
	}{
		{"https://aple.com/", true},
		{"https://yahooo.com/", true},
		{"https://chace.com/", true},
		{"https://venm0.com/", true},
		{"https://apple.com/", false},
		{"https://arnazon.com/", false},
	}
	for _, tc := range cases {
		t.Run(tc.url, func(t *testing.T) {
			res := evaluate(t, rules.DefaultConfig(), tc.url)
			if tc.want {
				assert.Contains(t, res.Names(), "typosquatting")
			} else {
				assert.NotContains(t, res.Names(), "typosquatting")
			}
		})
	}
}

func TestEvaluate_TyposquatKnobs(t *testing.T) {
	cfg := rules.DefaultConfig()
	cfg.TyposquatSubstitutions = true
	assert.Contains(t, evaluate(t, cfg, "https://arnazon.com/").Names(), "typosquatting")

	cfg = rules.DefaultConfig()
	cfg.TyposquatMinBrandLength = 6
	assert.NotContains(t, evaluate(t, cfg, "https://aple.com/").Names(), "typosquatting")
	assert.Contains(t, evaluate(t, cfg, "https://paypa1.com/").Names(), "typosquatting")

	cfg.TyposquatMinBrandLength = -1
	assert.Error(t, cfg.Validate())
}

func TestEvaluate_NoFalsePositives(t *testing.T) {
	clean := []string{
		"https://accounts.google.com/signin",
		"https://example.com/",
		"https://www.wikipedia.org/wiki/Go",
		"https://docs.python.org/3/library/index.html",
		"https://xn--r8jz45g.xn--zckzah/",
		"http://localhost:8080/health",
		"https://paypal.com/",
		"https://example.com/view?src=data:text/html,hi",
	}
	for _, raw := range clean {
		res := evaluate(t, rules.DefaultConfig(), raw)
		assert.Empty(t, res.Matches, "url %s", raw)
		assert.Equal(t, 0.0, res.Score, "url %s", raw)
	}
}

func TestEvaluate_IPAndKeywordsScenario(t *testing.T) {
	res := evaluate(t, rules.DefaultConfig(), "http://192.168.1.1/secure-login-update")

	require.Equal(t, []string{"ip_literal_host", "suspicious_keywords"}, res.Names())
	assert.Equal(t, 1.0, res.Score)
	assert.Equal(t, scoring.SeverityHigh, res.Matches[0].Severity)
	assert.NotEmpty(t, res.Matches[1].Reason)
}

func TestEvaluate_NumericHeavyExcludesIPLiterals(t *testing.T) {
	res := evaluate(t, rules.DefaultConfig(), "http://203.0.113.7/")
	assert.NotContains(t, res.Names(), "numeric_heavy_domain")
}

func TestEvaluate_MaxMode(t *testing.T) {
	cfg := rules.DefaultConfig()
	cfg.Combine = rules.CombineMax
	res := evaluate(t, cfg, "http://192.168.1.1/secure-login-update")
	assert.Equal(t, 0.8, res.Score)
}

func TestEvaluate_ScoreOverride(t *testing.T) {
	cfg := rules.DefaultConfig()
	cfg.Scores = map[string]float64{"url_shortener": 0.05}
	require.NoError(t, cfg.Validate())

	res := evaluate(t, cfg, "https://bit.ly/abc")
	require.Len(t, res.Matches, 1)
	assert.Equal(t, 0.05, res.Matches[0].Score)
}

func TestEvaluate_Deterministic(t *testing.T) {
	raw := "http://login-secure-paypa1.account-update.tk/verify?id=123"
	a := evaluate(t, rules.DefaultConfig(), raw)
	b := evaluate(t, rules.DefaultConfig(), raw)
	assert.Equal(t, a, b)
	assert.LessOrEqual(t, a.Score, 1.0)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, rules.DefaultConfig().Validate())

	cfg := rules.DefaultConfig()
	cfg.Combine = "avg"
	assert.Error(t, cfg.Validate())

	cfg = rules.DefaultConfig()
	cfg.Scores = map[string]float64{"nope": 0.1}
	assert.Error(t, cfg.Validate())
}

func repeat(s string, n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += s
	}
	return out
}
