package server

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// maxExtractBytes bounds how much of an uploaded file is read.
const maxExtractBytes = 4 << 20

// ExtractText turns an uploaded file into a plain-text representation
// suitable for feeding into the question pipeline, plus a short content-type
// label for phrasing the effective question. Supported extensions:
// .txt, .md, .json, .csv.
func ExtractText(filename string, r io.Reader) (text, kind string, err error) {
	limited := io.LimitReader(r, maxExtractBytes)
	ext := strings.ToLower(filepath.Ext(filename))

	switch ext {
	case ".txt", "":
		data, err := io.ReadAll(limited)
		if err != nil {
			return "", "", fmt.Errorf("failed to read file: %w", err)
		}
		return string(data), "text", nil
	case ".md":
		data, err := io.ReadAll(limited)
		if err != nil {
			return "", "", fmt.Errorf("failed to read file: %w", err)
		}
		return string(data), "markdown", nil
	case ".json":
		text, err := extractJSON(limited)
		return text, "json", err
	case ".csv":
		text, err := extractCSV(limited)
		return text, "csv", err
	default:
		return "", "", fmt.Errorf("unsupported file type %q", ext)
	}
}

// extractJSON pretty-prints the document and prefixes a structural summary.
func extractJSON(r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	var parsed any
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("invalid JSON: %w", err)
	}

	var summary string
	switch v := parsed.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		summary = fmt.Sprintf("JSON object with %d keys: %s", len(keys), strings.Join(keys, ", "))
	case []any:
		summary = fmt.Sprintf("JSON array with %d elements", len(v))
	default:
		summary = "JSON scalar value"
	}

	pretty, err := json.MarshalIndent(parsed, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to render JSON: %w", err)
	}
	return summary + "\n\n" + string(pretty), nil
}

// extractCSV renders rows as "header: value" lines with a shape summary.
func extractCSV(r io.Reader) (string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return "", fmt.Errorf("invalid CSV: %w", err)
	}
	if len(records) == 0 {
		return "", fmt.Errorf("empty CSV file")
	}

	header := records[0]
	var sb strings.Builder
	fmt.Fprintf(&sb, "CSV with %d rows and %d columns (%s)\n\n",
		len(records)-1, len(header), strings.Join(header, ", "))

	for _, row := range records[1:] {
		parts := make([]string, 0, len(row))
		for i, cell := range row {
			name := fmt.Sprintf("col%d", i+1)
			if i < len(header) {
				name = header[i]
			}
			parts = append(parts, name+": "+cell)
		}
		sb.WriteString(strings.Join(parts, "; "))
		sb.WriteString("\n")
	}
	return sb.String(), nil
}
