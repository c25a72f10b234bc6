package ingest

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/raglite/raglite/engine/domain"
)

// ReadFile reads the corpus from path, tagging records with source as the
// corpus identifier. A missing or unreadable file fails before any
// embedding work starts.
func ReadFile(path, source string) ([]domain.SourceRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("ingest: %w: %s", domain.ErrSourceMissing, path)
		}
		return nil, fmt.Errorf("ingest: open %s: %w", path, err)
	}
	defer f.Close()
	return Read(f, source)
}

// Read scans newline-delimited UTF-8 text into SourceRecords. Lines are
// trimmed of surrounding whitespace; lines empty after trimming are
// dropped but still advance the 1-based line counter.
func Read(r io.Reader, source string) ([]domain.SourceRecord, error) {
	var records []domain.SourceRecord
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		records = append(records, domain.SourceRecord{
			Text:       text,
			Source:     source,
			LineNumber: line,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("ingest: read %s: %w", source, err)
	}
	return records, nil
}
