package processing

import (
	"bufio"
	"bytes"
	"embed"
	"fmt"
	"path"
	"sort"
	"strings"
)

//go:embed stopwords/*.txt
var stopwordFiles embed.FS

// AllLanguages selects every bundled stopword list.
const AllLanguages = "all"

// Stopwords is a precomputed membership set of normalized stopwords.
type Stopwords map[string]struct{}

// Contains reports whether token is a stopword.
func (s Stopwords) Contains(token string) bool {
	_, ok := s[token]
	return ok
}

// Languages lists the bundled stopword languages in sorted order.
func Languages() []string {
	entries, err := stopwordFiles.ReadDir("stopwords")
	if err != nil {
		return nil
	}
	langs := make([]string, 0, len(entries))
	for _, e := range entries {
		langs = append(langs, strings.TrimSuffix(e.Name(), ".txt"))
	}
	sort.Strings(langs)
	return langs
}

// LoadStopwords merges the lists for the requested languages into one set.
// Entries are lowercased and otherwise kept verbatim, so an entry such as
// "don't" never matches the token "dont" left by punctuation stripping.
func LoadStopwords(languages ...string) (Stopwords, error) {
	if len(languages) == 0 {
		return nil, fmt.Errorf("no stopword languages requested")
	}

	var selected []string
	for _, lang := range languages {
		lang = strings.ToLower(strings.TrimSpace(lang))
		if lang == AllLanguages {
			selected = Languages()
			break
		}
		selected = append(selected, lang)
	}

	set := make(Stopwords)
	for _, lang := range selected {
		data, err := stopwordFiles.ReadFile(path.Join("stopwords", lang+".txt"))
		if err != nil {
			return nil, fmt.Errorf("load stopwords %q: %w", lang, err)
		}
		scanner := bufio.NewScanner(bytes.NewReader(data))
		for scanner.Scan() {
			if word := strings.ToLower(strings.TrimSpace(scanner.Text())); word != "" {
				set[word] = struct{}{}
			}
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read stopwords %q: %w", lang, err)
		}
	}

	return set, nil
}
