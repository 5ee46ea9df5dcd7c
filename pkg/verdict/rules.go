package verdict

import (
	"fmt"
	"regexp"
	"strings"
)

// RuleConfig is the immutable pattern definition set the text-rule engine is
// compiled from. Each field is a regex alternation fragment; Proximity is the
// maximum number of runes allowed between a keyword and a qualifying term.
type RuleConfig struct {
	Keyword   string
	Negation  string
	Positive  string
	Proximity int
}

// DefaultRuleConfig returns the Japanese cleanliness patterns: hair/dust
// keywords, negation phrasings, and positive-cleanliness phrases.
func DefaultRuleConfig() RuleConfig {
	return RuleConfig{
		Keyword: "(髪の毛|毛髪|抜け毛|ほこり|ホコリ|埃)",
		Negation: "(?:ない|ありません|無し|なし|見当たらない|見当たりません|見受けられません|" +
			"ほぼない|ほとんどない|少ない|目立たない|見られません|認められません|" +
			"見受けにくい|確認できず|確認できません)",
		Positive:  "(?:清潔|清掃状態は良好|概ね良好|問題なし|良好|綺麗|きれい|整頓|整えられている|清潔感がある|不自然な点はない|不自然さは感じられない)",
		Proximity: 12,
	}
}

// Rules holds the compiled pattern sets. Compile once, share freely; a Rules
// value has no hidden mutable state.
type Rules struct {
	negAfter  *regexp.Regexp
	negBefore *regexp.Regexp
	posAny    *regexp.Regexp
	posNear   *regexp.Regexp
	anyKW     *regexp.Regexp
}

// Compile builds the proximity and standalone matchers from a RuleConfig.
func Compile(cfg RuleConfig) (*Rules, error) {
	if cfg.Proximity <= 0 {
		cfg.Proximity = DefaultRuleConfig().Proximity
	}
	gap := fmt.Sprintf(".{0,%d}", cfg.Proximity)

	r := &Rules{}
	var err error
	if r.negAfter, err = regexp.Compile(cfg.Keyword + gap + cfg.Negation); err != nil {
		return nil, fmt.Errorf("negation-after pattern: %w", err)
	}
	if r.negBefore, err = regexp.Compile(cfg.Negation + gap + cfg.Keyword); err != nil {
		return nil, fmt.Errorf("negation-before pattern: %w", err)
	}
	if r.posAny, err = regexp.Compile(cfg.Positive); err != nil {
		return nil, fmt.Errorf("positive pattern: %w", err)
	}
	if r.posNear, err = regexp.Compile(cfg.Keyword + gap + cfg.Positive + "|" + cfg.Positive + gap + cfg.Keyword); err != nil {
		return nil, fmt.Errorf("positive-near pattern: %w", err)
	}
	if r.anyKW, err = regexp.Compile(cfg.Keyword); err != nil {
		return nil, fmt.Errorf("keyword pattern: %w", err)
	}
	return r, nil
}

// MustCompile is Compile for known-good configurations.
func MustCompile(cfg RuleConfig) *Rules {
	r, err := Compile(cfg)
	if err != nil {
		panic(err)
	}
	return r
}

// SplitLines turns a newline-joined whitelist block into trimmed, non-empty
// literal entries.
func SplitLines(block string) []string {
	var out []string
	for _, ln := range strings.Split(block, "\n") {
		if ln = strings.TrimSpace(ln); ln != "" {
			out = append(out, ln)
		}
	}
	return out
}
