// Package entities extracts hashtags and mentions from molt content.
package entities

import (
	"regexp"
	"strings"
)

var (
	hashtagRegex = regexp.MustCompile(`#([a-zA-Z0-9_\x{3040}-\x{309F}\x{30A0}-\x{30FF}\x{4E00}-\x{9FAF}]+)`)
	mentionRegex = regexp.MustCompile(`@([a-zA-Z0-9_-]+)`)
)

// Entities holds the lowercased, de-duplicated tags and names of a molt,
// in order of first appearance.
type Entities struct {
	Hashtags []string
	Mentions []string
}

// Parse extracts hashtags and mentions from content.
func Parse(content string) Entities {
	return Entities{
		Hashtags: collect(hashtagRegex, content),
		Mentions: collect(mentionRegex, content),
	}
}

// Hashtags extracts only the hashtags of content.
func Hashtags(content string) []string {
	return collect(hashtagRegex, content)
}

// NormalizeTag lowercases a tag and strips a leading '#'.
func NormalizeTag(tag string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(tag), "#"))
}

func collect(re *regexp.Regexp, content string) []string {
	matches := re.FindAllStringSubmatch(content, -1)
	out := make([]string, 0, len(matches))
	seen := make(map[string]bool, len(matches))
	for _, m := range matches {
		v := strings.ToLower(m[1])
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
