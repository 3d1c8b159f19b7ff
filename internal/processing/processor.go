package processing

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// titleKeys are metadata keys that may carry a document title, most specific first.
var titleKeys = []string{"dc:title", "pdf:docinfo:title", "title", "Title"}

// ExtractKeywords returns the most frequent tokens at least minLen runes long.
// Ties are broken alphabetically.
func ExtractKeywords(tokens []string, limit, minLen int) []string {
	freq := make(map[string]int)
	for _, token := range tokens {
		if len([]rune(token)) < minLen {
			continue
		}
		freq[token]++
	}

	if len(freq) == 0 {
		return nil
	}

	type kv struct {
		word  string
		count int
	}

	pairs := make([]kv, 0, len(freq))
	for word, count := range freq {
		pairs = append(pairs, kv{word: word, count: count})
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].count == pairs[j].count {
			return pairs[i].word < pairs[j].word
		}
		return pairs[i].count > pairs[j].count
	})

	max := limit
	if max <= 0 || max > len(pairs) {
		max = len(pairs)
	}

	keywords := make([]string, 0, max)
	for i := 0; i < max; i++ {
		keywords = append(keywords, pairs[i].word)
	}

	return keywords
}

// BuildDocumentID hashes the dataset location and row position to form a
// deterministic ID; replaying the same row event yields the same ID.
func BuildDocumentID(datasetPath string, row int, sourceURL string) string {
	s := sha1.Sum([]byte(fmt.Sprintf("%s|%d|%s", datasetPath, row, sourceURL)))
	return hex.EncodeToString(s[:])
}

// MetadataTitle returns the first non-empty title found in extractor metadata.
func MetadataTitle(meta map[string]any) string {
	for _, key := range titleKeys {
		if title := firstString(meta[key]); title != "" {
			return title
		}
	}
	return ""
}

// GenerateTitle builds a title from the first maxWords tokens, adding an
// ellipsis when truncated. maxWords <= 0 means no limit.
func GenerateTitle(tokens []string, maxWords int) string {
	if len(tokens) == 0 {
		return ""
	}
	if maxWords > 0 && len(tokens) > maxWords {
		return strings.Join(tokens[:maxWords], " ") + "..."
	}
	return strings.Join(tokens, " ")
}

func firstString(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case []string:
		for _, s := range val {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	case []any:
		for _, item := range val {
			if s := firstString(item); s != "" {
				return s
			}
		}
	}
	return ""
}
