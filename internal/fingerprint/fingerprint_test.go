package fingerprint

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashNormalizesCaseAndWhitespace(t *testing.T) {
	base := Hash("Acme", "Backend Engineer")

	variants := []struct {
		company string
		title   string
	}{
		{"acme", "backend engineer"},
		{"  Acme  ", "Backend Engineer"},
		{"ACME", "\tBackend Engineer\n"},
		{" aCmE ", "BACKEND ENGINEER "},
	}
	for _, v := range variants {
		assert.Equal(t, base, Hash(v.company, v.title), "company=%q title=%q", v.company, v.title)
	}
}

func TestHashDistinguishesInputs(t *testing.T) {
	base := Hash("Acme", "Backend Engineer")

	assert.NotEqual(t, base, Hash("Acme", "Frontend Engineer"))
	assert.NotEqual(t, base, Hash("Initech", "Backend Engineer"))
	// Field boundaries matter: moving a word across the separator is a
	// different posting.
	assert.NotEqual(t, Hash("Acme Backend", "Engineer"), Hash("Acme", "Backend Engineer"))
}

func TestHashRandomizedVariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	company, title := "Globex Corporation", "Staff Engineer"
	want := Hash(company, title)

	for i := 0; i < 200; i++ {
		c := mangle(rng, company)
		ti := mangle(rng, title)
		require.Equal(t, want, Hash(c, ti), "company=%q title=%q", c, ti)
	}
}

// mangle randomizes casing and pads with whitespace without changing the
// normalized form.
func mangle(rng *rand.Rand, s string) string {
	var b strings.Builder
	for _, r := range s {
		if rng.Intn(2) == 0 {
			b.WriteString(strings.ToUpper(string(r)))
		} else {
			b.WriteString(strings.ToLower(string(r)))
		}
	}
	pads := []string{"", " ", "  ", "\t", "\n"}
	return pads[rng.Intn(len(pads))] + b.String() + pads[rng.Intn(len(pads))]
}
