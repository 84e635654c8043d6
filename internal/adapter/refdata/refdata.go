// Package refdata loads the reference tables that configure a run: the list of
// pesticide parameter codes and the per-parameter sanitary thresholds.
package refdata

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/couchcryptid/water-quality-etl/internal/domain"
)

var codeColumns = []string{"code_parametre", "code"}

// LoadPesticideCodes reads parameter codes from a CSV file with a
// code_parametre (or code) column, separated by ';' or ','. A missing file
// yields no codes, which disables parameter filtering. Codes are sorted and unique.
func LoadPesticideCodes(path string) ([]string, error) {
	rows, header, err := readTable(path)
	if err != nil || header == nil {
		return nil, err
	}

	col := columnIndex(header, codeColumns...)
	if col < 0 {
		return nil, fmt.Errorf("%s: no code_parametre or code column", path)
	}

	seen := make(map[string]struct{})
	for _, row := range rows {
		if col >= len(row) {
			continue
		}
		if code := strings.TrimSpace(row[col]); code != "" {
			seen[code] = struct{}{}
		}
	}
	codes := make([]string, 0, len(seen))
	for c := range seen {
		codes = append(codes, c)
	}
	slices.Sort(codes)
	return codes, nil
}

// LoadThresholds reads per-parameter thresholds in µg/L from a CSV file with
// code_parametre and seuil_ugl columns. Rows with an unparseable value are
// skipped. A missing file yields no overrides.
func LoadThresholds(path string) (domain.Thresholds, error) {
	rows, header, err := readTable(path)
	if err != nil || header == nil {
		return nil, err
	}

	codeCol := columnIndex(header, codeColumns...)
	valueCol := columnIndex(header, "seuil_ugl")
	if codeCol < 0 || valueCol < 0 {
		return nil, fmt.Errorf("%s: code_parametre and seuil_ugl columns are required", path)
	}

	out := make(domain.Thresholds)
	for _, row := range rows {
		if codeCol >= len(row) || valueCol >= len(row) {
			continue
		}
		code := strings.TrimSpace(row[codeCol])
		raw := strings.ReplaceAll(strings.TrimSpace(row[valueCol]), ",", ".")
		v, err := strconv.ParseFloat(raw, 64)
		if code == "" || err != nil || v <= 0 {
			continue
		}
		out[code] = v
	}
	return out, nil
}

// readTable returns the data rows and the normalized header of a delimited
// file. The header is nil when the file does not exist or is empty.
func readTable(path string) ([][]string, []string, error) {
	if path == "" {
		return nil, nil, nil
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", path, err)
	}
	b = bytes.TrimPrefix(b, []byte("\ufeff"))

	r := csv.NewReader(bytes.NewReader(b))
	r.Comma = detectDelimiter(b)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return [][]string{}, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for i, h := range header {
		header[i] = strings.ToLower(strings.TrimSpace(h))
	}

	rows, err := r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if rows == nil {
		rows = [][]string{}
	}
	return rows, header, nil
}

// detectDelimiter picks ';' or ',' from the header line, preferring ';'.
func detectDelimiter(b []byte) rune {
	line, _, _ := bytes.Cut(b, []byte("\n"))
	if bytes.Count(line, []byte(",")) > bytes.Count(line, []byte(";")) {
		return ','
	}
	return ';'
}

func columnIndex(header []string, names ...string) int {
	for _, name := range names {
		if i := slices.Index(header, name); i >= 0 {
			return i
		}
	}
	return -1
}
