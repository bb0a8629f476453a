package parser

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/xuri/excelize/v2"
)

// XLSXParser reads triples from the first non-empty sheet of a workbook.
// The sheet uses the same header layout as the CSV format.
type XLSXParser struct{}

func (p *XLSXParser) SupportedFormats() []string { return []string{"xlsx"} }

func (p *XLSXParser) ParseTriples(ctx context.Context, path string) (*Result[Triple], error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening XLSX: %w", err)
	}
	defer f.Close()

	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil || len(rows) == 0 {
			continue
		}
		return triplesFromRows(ctx, fmt.Sprintf("%s[%s]", filepath.Base(path), sheet), rows)
	}
	return nil, fmt.Errorf("no data found in XLSX")
}
