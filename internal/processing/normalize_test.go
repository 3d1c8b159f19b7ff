package processing_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bartoncreek/pdf2dataset/internal/processing"
)

func newNormalizer(t *testing.T, langs ...string) *processing.Normalizer {
	t.Helper()
	stop, err := processing.LoadStopwords(langs...)
	require.NoError(t, err)
	return processing.NewNormalizer(stop)
}

func TestStripPunctuation(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "empty", input: "", want: ""},
		{name: "ascii", input: "Hello, World! (ok)", want: "Hello World ok"},
		{name: "joins words", input: "e-mail don't", want: "email dont"},
		{name: "symbols", input: "5$ + 3€ = ~", want: "5  3  "},
		{name: "unicode quotes", input: "«мир» “quoted”", want: "мир quoted"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, processing.StripPunctuation(tt.input))
		})
	}
}

func TestTokenize(t *testing.T) {
	require.Equal(t, []string{"foo", "bar", "baz"}, processing.Tokenize("foo\n\nbar\t baz"))
	require.Equal(t, []string{"page", "2", "café"}, processing.Tokenize(" page 2 café "))
	require.Empty(t, processing.Tokenize("   "))
}

func TestNormalizeHelloWorld(t *testing.T) {
	n := newNormalizer(t, "english")

	got := n.Normalize("Hello, World! This is a TEST.")
	require.Equal(t, []string{"hello", "world", "test"}, got)
}

func TestNormalizeKeepsOrderAndDuplicates(t *testing.T) {
	n := newNormalizer(t, "english")

	got := n.Normalize("Report: the report, the REPORT and figures.")
	require.Equal(t, []string{"report", "report", "report", "figures"}, got)
}

func TestNormalizeIsIdempotent(t *testing.T) {
	n := newNormalizer(t, processing.AllLanguages)

	inputs := []string{
		"Hello, World! This is a TEST.",
		"Don't stop: e-mail the Über-Größe report (2024) — «Привет, мир»!",
		"   ",
	}
	for _, in := range inputs {
		first := n.Normalize(in)
		second := n.Normalize(strings.Join(first, " "))
		require.Equal(t, first, second, in)
	}
}

func TestNormalizeKeepsStrippedContractions(t *testing.T) {
	n := newNormalizer(t, "english")

	require.True(t, n.IsStopword("don't"))
	require.False(t, n.IsStopword("dont"))
	require.Equal(t, []string{"dont", "stop"}, n.Normalize("Don't stop"))
	require.Equal(t, []string{"wont", "shes", "youre", "late"}, n.Normalize("Won't she's you're late"))
}

func TestNormalizeAllLanguagesDropsEachList(t *testing.T) {
	samples := map[string]string{
		"arabic":      "على",
		"azerbaijani": "amma",
		"basque":      "eta",
		"bengali":     "এবং",
		"catalan":     "amb",
		"chinese":     "我们",
		"danish":      "og",
		"dutch":       "het",
		"english":     "the",
		"finnish":     "olla",
		"french":      "avec",
		"german":      "und",
		"greek":       "και",
		"hebrew":      "אני",
		"hinglish":    "aur",
		"hungarian":   "hogy",
		"indonesian":  "yang",
		"italian":     "della",
		"kazakh":      "және",
		"nepali":      "पनि",
		"norwegian":   "ikkje",
		"portuguese":  "não",
		"romanian":    "pentru",
		"russian":     "и",
		"slovene":     "zelo",
		"spanish":     "pero",
		"swedish":     "och",
		"tajik":       "барои",
		"turkish":     "çünkü",
	}
	langs := processing.Languages()
	require.Len(t, langs, len(samples))

	all := newNormalizer(t, processing.AllLanguages)
	for _, lang := range langs {
		word, ok := samples[lang]
		require.True(t, ok, "no sample word for %s", lang)
		t.Run(lang, func(t *testing.T) {
			own := newNormalizer(t, lang)
			require.Empty(t, own.Normalize(word))
			require.Empty(t, all.Normalize(word))
		})
	}

	require.Equal(t, []string{"gatto", "huis"}, all.Normalize("il gatto het huis não sobre och att"))
}

func TestNormalizeWithoutStopwords(t *testing.T) {
	n := processing.NewNormalizer(nil)
	require.Equal(t, []string{"this", "is", "a", "test"}, n.Normalize("This is a test."))
}

func TestLoadStopwords(t *testing.T) {
	langs := processing.Languages()
	require.Contains(t, langs, "english")
	require.Contains(t, langs, "russian")

	en, err := processing.LoadStopwords("english")
	require.NoError(t, err)
	require.True(t, en.Contains("the"))
	require.False(t, en.Contains("и"))

	all, err := processing.LoadStopwords("all")
	require.NoError(t, err)
	require.True(t, all.Contains("the"))
	require.True(t, all.Contains("и"))
	require.Greater(t, len(all), len(en))

	_, err = processing.LoadStopwords("klingon")
	require.Error(t, err)

	_, err = processing.LoadStopwords()
	require.Error(t, err)
}
