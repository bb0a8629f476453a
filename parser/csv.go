package parser

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// CSVParser reads triples from a CSV file with a header row naming the
// subject, predicate, object and optional frequency columns.
type CSVParser struct{}

func (p *CSVParser) SupportedFormats() []string { return []string{"csv"} }

func (p *CSVParser) ParseTriples(ctx context.Context, path string) (*Result[Triple], error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening CSV: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	var rows [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading CSV: %w", err)
		}
		rows = append(rows, rec)
	}
	return triplesFromRows(ctx, filepath.Base(path), rows)
}

// tripleColumns locates the triple fields in a header row.
type tripleColumns struct {
	subject, predicate, object, frequency int
}

func findColumns(header []string) (tripleColumns, error) {
	cols := tripleColumns{-1, -1, -1, -1}
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "subject":
			cols.subject = i
		case "predicate", "relation":
			cols.predicate = i
		case "object":
			cols.object = i
		case "frequency", "count":
			cols.frequency = i
		}
	}
	if cols.subject < 0 || cols.predicate < 0 || cols.object < 0 {
		return cols, fmt.Errorf("header must name subject, predicate and object columns, got %v", header)
	}
	return cols, nil
}

// triplesFromRows decodes a header row followed by data rows. Line numbers
// in rejections are 1-based and count the header.
func triplesFromRows(ctx context.Context, source string, rows [][]string) (*Result[Triple], error) {
	res := &Result[Triple]{}
	if len(rows) == 0 {
		return res, nil
	}
	cols, err := findColumns(rows[0])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", source, err)
	}

	cell := func(row []string, i int) string {
		if i < 0 || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	for i, row := range rows[1:] {
		line := i + 2
		if line%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if blankRow(row) {
			continue
		}
		t := Triple{
			Subject:   cell(row, cols.subject),
			Predicate: cell(row, cols.predicate),
			Object:    cell(row, cols.object),
		}
		if raw := cell(row, cols.frequency); raw != "" {
			n, err := parseFrequency(raw)
			if err != nil {
				res.Rejected = append(res.Rejected, rowError(source, line, fmt.Errorf("frequency %q: %w", raw, err)))
				continue
			}
			t.Frequency = n
		}
		if err := Validate(t); err != nil {
			res.Rejected = append(res.Rejected, rowError(source, line, err))
			continue
		}
		res.Records = append(res.Records, t)
	}
	return res, nil
}

// parseFrequency accepts integers and whole-number floats such as "2.0",
// which spreadsheet exports write when the column has gaps.
func parseFrequency(raw string) (int, error) {
	if n, err := strconv.Atoi(raw); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || math.IsInf(f, 0) || f > math.MaxInt32 || f < math.MinInt32 {
		return 0, errors.New("not a whole number")
	}
	return int(f), nil
}

func blankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
