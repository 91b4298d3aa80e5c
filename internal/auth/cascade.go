package auth

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// TokenStrategy names the cascade step that produced a token.
type TokenStrategy string

const (
	StrategySettings TokenStrategy = "settings"
	StrategyPattern  TokenStrategy = "pattern"
	StrategyCookie   TokenStrategy = "cookie"
	StrategyNone     TokenStrategy = "none"
)

// TokenResult is the outcome of ExtractToken. Token is empty when Strategy is StrategyNone.
type TokenResult struct {
	Token    string
	Strategy TokenStrategy
}

// Found reports whether any strategy produced a token.
func (r TokenResult) Found() bool {
	return r.Strategy != StrategyNone && r.Token != ""
}

var settingsAssignment = regexp.MustCompile(`(?m)^\s*window\.settings\s*=\s*`)

// tokenPatterns are tried in order over the raw page text; the first match wins.
var tokenPatterns = []*regexp.Regexp{
	regexp.MustCompile(`"token"\s*:\s*"([^"]+)"`),
	regexp.MustCompile(`'token'\s*:\s*'([^']+)'`),
	regexp.MustCompile(`token\s*=\s*"([^"]+)"`),
	regexp.MustCompile(`ssid\s*=\s*"([^"]+)"`),
	regexp.MustCompile(`"ssid"\s*:\s*"([^"]+)"`),
	regexp.MustCompile(`'ssid'\s*:\s*'([^']+)'`),
	regexp.MustCompile(`token\s*=\s*'([^']+)'`),
	regexp.MustCompile(`ssid\s*=\s*'([^']+)'`),
}

// cookieCandidates is the priority order for the cookie fallback. Names are lower case.
var cookieCandidates = []string{"ssid", "session", "token", "authorization", "auth", "jwt", "access_token"}

// ExtractToken runs the three strategies in order and stops at the first token.
// It never fails: a page with no recognizable token yields StrategyNone.
func ExtractToken(doc *goquery.Document, rawHTML, cookies string) TokenResult {
	if token := TokenFromSettingsScripts(doc); token != "" {
		return TokenResult{Token: token, Strategy: StrategySettings}
	}
	if token := TokenFromPatterns(rawHTML); token != "" {
		return TokenResult{Token: token, Strategy: StrategyPattern}
	}
	if token := TokenFromCookies(cookies); token != "" {
		return TokenResult{Token: token, Strategy: StrategyCookie}
	}
	return TokenResult{Strategy: StrategyNone}
}

// TokenFromSettingsScripts looks for a `window.settings = {...}` script block
// and returns its "token" field. Blocks that do not parse to a non-empty JSON
// object are skipped.
func TokenFromSettingsScripts(doc *goquery.Document) string {
	if doc == nil {
		return ""
	}
	var token string
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := s.Text()
		if !strings.Contains(text, "window.settings") {
			return true
		}
		settings, ok := parseSettings(text)
		if !ok {
			return true
		}
		// First non-empty settings object decides, token or not.
		if v, isString := settings["token"].(string); isString {
			token = v
		}
		return false
	})
	return token
}

func parseSettings(script string) (map[string]interface{}, bool) {
	cleaned := strings.TrimSpace(script)
	cleaned = strings.TrimRight(cleaned, "; \t\r\n")
	cleaned = settingsAssignment.ReplaceAllString(cleaned, "")

	var settings map[string]interface{}
	if err := json.Unmarshal([]byte(cleaned), &settings); err != nil {
		return nil, false
	}
	if len(settings) == 0 {
		return nil, false
	}
	return settings, true
}

// TokenFromPatterns scans raw page text for a token or ssid key/value pair.
func TokenFromPatterns(rawHTML string) string {
	for _, re := range tokenPatterns {
		if m := re.FindStringSubmatch(rawHTML); m != nil {
			return m[1]
		}
	}
	return ""
}

// TokenFromCookies parses "name=value; name=value" (names compared case
// insensitively) and returns the first non-empty candidate cookie.
func TokenFromCookies(cookies string) string {
	if cookies == "" {
		return ""
	}
	values := make(map[string]string)
	for _, pair := range strings.Split(cookies, ";") {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		values[strings.ToLower(strings.TrimSpace(name))] = strings.TrimSpace(value)
	}
	for _, name := range cookieCandidates {
		if v := values[name]; v != "" {
			return v
		}
	}
	return ""
}
