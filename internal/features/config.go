package features

// Config holds the word lists the extractor matches against.
type Config struct {
	SuspiciousTLDs     []string `yaml:"suspicious_tlds"`
	SuspiciousKeywords []string `yaml:"suspicious_keywords"`
	Shorteners         []string `yaml:"shorteners"`
}

// DefaultConfig returns the built-in lists. "signin" is left out of the
// keyword list: it appears on too many legitimate login pages.
func DefaultConfig() Config {
	return Config{
		SuspiciousTLDs: []string{
			"tk", "ml", "ga", "cf", "gq", "xyz", "top", "club", "online",
			"site", "website", "space", "pw", "cc", "ws", "info", "biz",
		},
		SuspiciousKeywords: []string{
			"login", "sign-in", "log-in", "account", "verify",
			"verification", "update", "confirm", "secure", "security",
			"banking", "bank", "paypal", "ebay", "amazon", "apple",
			"microsoft", "google", "facebook", "instagram", "netflix",
			"password", "credential", "authenticate", "wallet", "crypto",
			"bitcoin", "suspended", "unusual", "activity", "locked",
			"unlock", "restore", "recover", "urgent", "immediately",
			"expire", "limited", "free", "winner", "prize", "congratulation",
		},
		Shorteners: []string{
			"bit.ly", "tinyurl.com", "t.co", "goo.gl", "ow.ly", "is.gd",
			"buff.ly", "adf.ly", "bit.do", "mcaf.ee", "su.pr", "tiny.cc",
			"shorte.st", "cutt.ly", "rebrand.ly", "shorturl.at",
		},
	}
}
