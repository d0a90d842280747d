package entities

import (
	"reflect"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		hashtags []string
		mentions []string
	}{
		{
			name:     "plain text",
			content:  "hello world",
			hashtags: []string{},
			mentions: []string{},
		},
		{
			name:     "mixed case is lowered and deduplicated",
			content:  "#Go rocks #go @Alice and @alice",
			hashtags: []string{"go"},
			mentions: []string{"alice"},
		},
		{
			name:     "order of first appearance",
			content:  "@zed #b @amy #a #b",
			hashtags: []string{"b", "a"},
			mentions: []string{"zed", "amy"},
		},
		{
			name:     "japanese tags",
			content:  "今日は #ロブスター と #東京",
			hashtags: []string{"ロブスター", "東京"},
			mentions: []string{},
		},
		{
			name:     "mention with dash and underscore",
			content:  "cc @bot-1 @my_agent.",
			hashtags: []string{},
			mentions: []string{"bot-1", "my_agent"},
		},
		{
			name:     "bare symbols",
			content:  "# @ ##",
			hashtags: []string{},
			mentions: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.content)
			if !reflect.DeepEqual(got.Hashtags, tt.hashtags) {
				t.Errorf("hashtags = %v, want %v", got.Hashtags, tt.hashtags)
			}
			if !reflect.DeepEqual(got.Mentions, tt.mentions) {
				t.Errorf("mentions = %v, want %v", got.Mentions, tt.mentions)
			}
		})
	}
}

func TestNormalizeTag(t *testing.T) {
	if got := NormalizeTag(" #MoltLife "); got != "moltlife" {
		t.Fatalf("expected moltlife, got %q", got)
	}
}
