// Package matcher decides which plain environment variable names hold
// secrets, based on name tokens such as KEY or PASSWORD.
package matcher

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultTokens are the name fragments that mark a variable as a secret.
// Each token is a regular expression matched case-insensitively between word
// boundaries or underscores.
var DefaultTokens = []string{
	"APP_ID",
	"AUTH",
	"CONNECTION_STRING",
	"DATABASE_.*URL",
	"DSN",
	"HEADERS",
	"KEY",
	"PASSWORD",
	"PASSPHRASE",
	"POSTGRES_URL",
	"PROXY_URL",
	"SECRET",
	"SLACK_WEBHOOK",
	"SID",
	"SIGNATURE",
	"TOKEN",
	"REDIS_.*URL",
}

// Matcher classifies variable names.
type Matcher struct {
	patterns      []*regexp.Regexp
	allowed       map[string]struct{}
	pointerPrefix string
}

// New compiles tokens into a Matcher. Names in allowedConfigNames are never
// secrets, and neither is anything starting with pointerPrefix.
func New(tokens, allowedConfigNames []string, pointerPrefix string) (*Matcher, error) {
	m := &Matcher{
		allowed:       make(map[string]struct{}, len(allowedConfigNames)),
		pointerPrefix: strings.ToLower(pointerPrefix),
	}

	for _, token := range tokens {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		re, err := regexp.Compile(TokenPattern(token))
		if err != nil {
			return nil, fmt.Errorf("invalid secret name token %q: %w", token, err)
		}
		m.patterns = append(m.patterns, re)
	}

	for _, name := range allowedConfigNames {
		if name = normalize(name); name != "" {
			m.allowed[name] = struct{}{}
		}
	}
	return m, nil
}

// TokenPattern returns the regular expression source for one token.
func TokenPattern(token string) string {
	return `(?i)(\b|_)(` + token + `)(\b|_)`
}

// IsSecretName reports whether name looks like it holds a secret.
func (m *Matcher) IsSecretName(name string) bool {
	normalized := normalize(name)
	if normalized == "" {
		return false
	}
	if m.pointerPrefix != "" && strings.HasPrefix(normalized, m.pointerPrefix) {
		return false
	}
	if _, ok := m.allowed[normalized]; ok {
		return false
	}

	for _, re := range m.patterns {
		if re.MatchString(normalized) {
			return true
		}
	}
	return false
}

// Split partitions env into secret and plain entries.
func (m *Matcher) Split(env map[string]string) (secrets, configs map[string]string) {
	secrets = make(map[string]string)
	configs = make(map[string]string)
	for k, v := range env {
		if m.IsSecretName(k) {
			secrets[k] = v
		} else {
			configs[k] = v
		}
	}
	return secrets, configs
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
