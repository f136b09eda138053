package oracle

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// Structured-output coercion. Providers are asked for JSON but frequently
// reply with fenced blocks, prose, or bare tokens; each parser tries the
// structured form first and then a lenient text scan.

var (
	reInt   = regexp.MustCompile(`-?\d+`)
	reFloat = regexp.MustCompile(`-?\d+(?:\.\d+)?`)
)

func sanitizeJSON(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = trimmed[3:]
		trimmed = strings.TrimPrefix(trimmed, "json")
		trimmed = strings.TrimPrefix(trimmed, "JSON")
		if idx := strings.Index(trimmed, "```"); idx >= 0 {
			trimmed = trimmed[:idx]
		}
	}
	return strings.TrimSpace(trimmed)
}

func parseBinary(raw string) (bool, bool) {
	var structured struct {
		BinaryScore string `json:"binary_score"`
	}
	if err := json.Unmarshal([]byte(sanitizeJSON(raw)), &structured); err == nil && structured.BinaryScore != "" {
		raw = structured.BinaryScore
	}

	token := strings.ToLower(strings.Trim(strings.TrimSpace(raw), `."'`))
	switch {
	case token == "yes" || strings.HasPrefix(token, "yes"):
		return true, true
	case token == "no" || strings.HasPrefix(token, "no"):
		return false, true
	}
	return false, false
}

func parseScore(raw string) (float64, bool) {
	var structured struct {
		Score float64 `json:"score"`
	}
	if err := json.Unmarshal([]byte(sanitizeJSON(raw)), &structured); err == nil && structured.Score != 0 {
		return structured.Score, true
	}

	match := reFloat.FindString(raw)
	if match == "" {
		return 0, false
	}
	score, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, false
	}
	return score, true
}

func parseIndices(raw string) ([]int, bool) {
	clean := sanitizeJSON(raw)

	var structured struct {
		Indices []int `json:"indices"`
	}
	if err := json.Unmarshal([]byte(clean), &structured); err == nil && len(structured.Indices) > 0 {
		return structured.Indices, true
	}

	var bare []int
	if err := json.Unmarshal([]byte(clean), &bare); err == nil && len(bare) > 0 {
		return bare, true
	}

	matches := reInt.FindAllString(raw, -1)
	if len(matches) == 0 {
		return nil, false
	}
	indices := make([]int, 0, len(matches))
	for _, m := range matches {
		n, err := strconv.Atoi(m)
		if err != nil || n < 0 {
			continue
		}
		indices = append(indices, n)
	}
	return indices, len(indices) > 0
}

func parseItems(raw string) []string {
	clean := sanitizeJSON(raw)

	var structured struct {
		SubQueries []string `json:"sub_queries"`
		Items      []string `json:"items"`
	}
	if err := json.Unmarshal([]byte(clean), &structured); err == nil {
		if len(structured.SubQueries) > 0 {
			return structured.SubQueries
		}
		if len(structured.Items) > 0 {
			return structured.Items
		}
	}

	var bare []string
	if err := json.Unmarshal([]byte(clean), &bare); err == nil && len(bare) > 0 {
		return bare
	}

	// One item per line, tolerating numbered or bulleted lists.
	var items []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*•")
		line = strings.TrimSpace(reListPrefix.ReplaceAllString(line, ""))
		if line != "" {
			items = append(items, line)
		}
	}
	return items
}

var reListPrefix = regexp.MustCompile(`^\d+[.)]\s*`)
