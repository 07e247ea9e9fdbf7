// Package source reads engagement rows from JSON Lines files.
//
// Each line is one user × item observation:
//
//	{"analysis_type":"creator","user_id":"u1","item_id":"c42","item_name":"Cook With Ana","views":3,"converted":true,"conversions":2}
//
// analysis_type may be omitted when the caller supplies one.
package source

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/cognicore/affinity/pkg/affinity/exposure"
)

// maxLine bounds a single JSONL record.
const maxLine = 1 << 20

// Record is one decoded line.
type Record struct {
	AnalysisType string `json:"analysis_type,omitempty"`
	exposure.Row
}

// Read decodes records from r, skipping blank, malformed and oversized lines.
// It returns the records and the number of lines skipped.
func Read(r io.Reader) ([]Record, int, error) {
	br := bufio.NewReaderSize(r, 64*1024)

	var (
		records []Record
		skipped int
		line    int
	)
	for {
		raw, tooLong, err := readLine(br)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, skipped, fmt.Errorf("read line %d: %w", line+1, err)
		}
		line++
		if tooLong {
			skipped++
			log.Warn().Int("line", line).Int("max_bytes", maxLine).Msg("skipping oversized engagement line")
			continue
		}
		text := bytes.TrimSpace(raw)
		if len(text) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(text, &rec); err != nil {
			skipped++
			log.Warn().Err(err).Int("line", line).Msg("skipping malformed engagement line")
			continue
		}
		records = append(records, rec)
	}
	return records, skipped, nil
}

// readLine returns the next line without its terminator. A line longer than
// maxLine is consumed in full and reported as tooLong with no content.
func readLine(br *bufio.Reader) ([]byte, bool, error) {
	var (
		line    []byte
		tooLong bool
	)
	for {
		chunk, isPrefix, err := br.ReadLine()
		if err != nil {
			return nil, false, err
		}
		if !tooLong {
			if len(line)+len(chunk) > maxLine {
				tooLong, line = true, nil
			} else {
				line = append(line, chunk...)
			}
		}
		if !isPrefix {
			return line, tooLong, nil
		}
	}
}

// LoadFromJSONL loads records from a JSONL file.
func LoadFromJSONL(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	records, skipped, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("no valid records found in %s (%d malformed)", path, skipped)
	}
	return records, nil
}

// Rows returns the rows belonging to analysisType in file order. Records
// without a type are attributed to fallback.
func Rows(records []Record, analysisType, fallback string) []exposure.Row {
	var rows []exposure.Row
	for _, rec := range records {
		t := rec.AnalysisType
		if t == "" {
			t = fallback
		}
		if t == analysisType {
			rows = append(rows, rec.Row)
		}
	}
	return rows
}

// Types lists the distinct analysis types in records, substituting fallback
// for untyped records.
func Types(records []Record, fallback string) []string {
	seen := make(map[string]struct{})
	for _, rec := range records {
		t := rec.AnalysisType
		if t == "" {
			t = fallback
		}
		if t != "" {
			seen[t] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
