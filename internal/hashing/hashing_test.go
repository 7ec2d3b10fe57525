package hashing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases scheme and host", "HTTPS://Example.COM/Path", "https://example.com/Path"},
		{"strips query", "https://site.com/a?utm_source=x&utm_medium=y", "https://site.com/a"},
		{"strips fragment", "https://site.com/a#section", "https://site.com/a"},
		{"strips trailing slash", "https://site.com/a/", "https://site.com/a"},
		{"keeps root slash", "https://site.com/", "https://site.com/"},
		{"adds missing path", "https://site.com", "https://site.com/"},
		{"forces scheme", "example.com/news/story", "https://example.com/news/story"},
		{"collapses repeated trailing slashes", "https://site.com/a///", "https://site.com/a"},
		{"empty input", "", ""},
		{"whitespace only", "   ", ""},
		{"no host", "https:///path", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanonicalURL(tt.in))
		})
	}
}

func TestCanonicalURLIdempotent(t *testing.T) {
	inputs := []string{
		"https://Example.com/a/",
		"site.com/path?q=1",
		"HTTP://NEWS.SITE.com/x/y/z/",
	}
	for _, in := range inputs {
		once := CanonicalURL(in)
		assert.Equal(t, once, CanonicalURL(once), "canonicalization must be idempotent for %q", in)
	}
}

func TestSourceHash(t *testing.T) {
	// URLs differing only by tracking params or trailing slash hash identically.
	a := SourceHash("https://site.com/a?utm=1")
	b := SourceHash("https://site.com/a/")
	c := SourceHash("https://Site.com/a")
	assert.NotEmpty(t, a)
	assert.Equal(t, a, b)
	assert.Equal(t, a, c)

	assert.NotEqual(t, a, SourceHash("https://site.com/b"))
	assert.Empty(t, SourceHash(""))
	assert.Empty(t, SourceHash("   "))
}

func TestTopicHash(t *testing.T) {
	a := TopicHash("OpenAI  lanza\tGPT-5")
	b := TopicHash("openai lanza gpt-5")
	assert.NotEmpty(t, a)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, TopicHash("otro tema"))
	assert.Empty(t, TopicHash(""))
	assert.Empty(t, TopicHash(" \n "))
}

func TestDomain(t *testing.T) {
	assert.Equal(t, "example.com", Domain("https://Example.com/a/b"))
	assert.Equal(t, "news.site.com", Domain("news.site.com/x"))
	assert.Empty(t, Domain(""))
}
