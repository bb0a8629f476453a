package parser

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// maxLineBytes bounds a single NDJSON line. Drug labels with long
// ingredient lists can run to several hundred kilobytes.
const maxLineBytes = 8 << 20

// ParseDrugs reads newline-delimited drug records from path.
func ParseDrugs(ctx context.Context, path string) (*Result[DrugRecord], error) {
	return parseFile[DrugRecord](ctx, path)
}

// ParseEntities reads newline-delimited NER records from path.
func ParseEntities(ctx context.Context, path string) (*Result[EntityRecord], error) {
	return parseFile[EntityRecord](ctx, path)
}

func parseFile[T any](ctx context.Context, path string) (*Result[T], error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	return DecodeLines[T](ctx, filepath.Base(path), f)
}

// DecodeLines decodes one JSON value per line. Blank lines are ignored;
// lines that fail to decode are reported in Rejected.
func DecodeLines[T any](ctx context.Context, source string, r io.Reader) (*Result[T], error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)

	res := &Result[T]{}
	line := 0
	for sc.Scan() {
		line++
		if line%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var rec T
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			res.Rejected = append(res.Rejected, rowError(source, line, err))
			continue
		}
		if err := Validate(rec); err != nil {
			res.Rejected = append(res.Rejected, rowError(source, line, err))
			continue
		}
		res.Records = append(res.Records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", source, err)
	}
	return res, nil
}
