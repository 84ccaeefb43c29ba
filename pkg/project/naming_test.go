package project

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateName(t *testing.T) {
	valid := []string{"docs", "my-project", "My Project 2", "a", strings.Repeat("x", 100)}
	for _, name := range valid {
		t.Run("valid "+name, func(t *testing.T) {
			assert.NoError(t, ValidateName(name))
		})
	}

	invalid := []string{
		"",
		strings.Repeat("x", 101),
		"a/b",
		`a\b`,
		"a:b",
		"a*b",
		`a"b`,
		"a?b",
		"a<b",
		"a|b",
		".hidden",
		" leading",
		"con",
		"CON",
		"prn",
		"lpt3",
	}
	for _, name := range invalid {
		t.Run("invalid "+name, func(t *testing.T) {
			assert.Error(t, ValidateName(name))
		})
	}
}

func TestNormalizeTags(t *testing.T) {
	out := NormalizeTags([]string{" Docs ", "docs", "", "A,B", strings.Repeat("t", 51), "ok"})
	assert.Equal(t, []string{"docs", "ok"}, out)
}
