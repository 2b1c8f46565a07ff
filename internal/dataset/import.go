// Package dataset imports human-labeled classification examples from CSV or
// XLSX files into the store.
package dataset

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/startino/reletino/internal/model"
	"github.com/startino/reletino/internal/store"
)

// expected header columns, case-insensitive. The id column is optional.
var requiredColumns = []string{"title", "body", "answer"}

// Importer loads labeled records into the store.
type Importer struct {
	store store.Store
}

func NewImporter(st store.Store) *Importer {
	return &Importer{store: st}
}

// ImportFile reads a labeled dataset file, dispatching on extension. Returns
// the number of records actually inserted; rows with ids already present are
// skipped silently.
func (i *Importer) ImportFile(ctx context.Context, path string) (int, error) {
	var rows [][]string
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		rows, err = readCSV(path)
	case ".xlsx":
		rows, err = readXLSX(path)
	default:
		return 0, eris.Errorf("dataset: unsupported file type %q", filepath.Ext(path))
	}
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, eris.New("dataset: file has no rows")
	}

	records, err := parseRecords(rows)
	if err != nil {
		return 0, err
	}

	inserted, err := i.store.InsertLabeled(ctx, records)
	if err != nil {
		return 0, eris.Wrap(err, "dataset: insert records")
	}

	zap.L().Info("imported labeled dataset",
		zap.String("path", path),
		zap.Int("rows", len(records)),
		zap.Int("inserted", inserted))
	return inserted, nil
}

// parseRecords maps header-indexed rows to labeled records. The first row
// must be a header naming at least title, body, and answer.
func parseRecords(rows [][]string) ([]model.LabeledRecord, error) {
	header := rows[0]
	cols := make(map[string]int, len(header))
	for idx, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = idx
	}
	for _, required := range requiredColumns {
		if _, ok := cols[required]; !ok {
			return nil, eris.Errorf("dataset: missing column %q in header", required)
		}
	}

	var records []model.LabeledRecord
	for n, row := range rows[1:] {
		if isBlank(row) {
			continue
		}
		answer, err := parseAnswer(cell(row, cols["answer"]))
		if err != nil {
			return nil, eris.Wrapf(err, "dataset: row %d", n+2)
		}
		rec := model.LabeledRecord{
			Title:       cell(row, cols["title"]),
			Body:        cell(row, cols["body"]),
			HumanAnswer: answer,
		}
		if idx, ok := cols["id"]; ok {
			rec.ID = cell(row, idx)
		}
		if rec.Body == "" {
			return nil, eris.Errorf("dataset: row %d has an empty body", n+2)
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return nil, eris.New("dataset: no data rows after header")
	}
	return records, nil
}

// parseAnswer accepts booleans plus the yes/no and relevant/irrelevant
// spellings human labelers actually use.
func parseAnswer(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "yes", "y", "relevant":
		return true, nil
	case "no", "n", "irrelevant", "not relevant":
		return false, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, eris.Errorf("unrecognized answer %q", raw)
	}
	return b, nil
}

func cell(row []string, idx int) string {
	if idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "dataset: open csv")
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var rows [][]string
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "dataset: read csv")
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func readXLSX(path string) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "dataset: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("dataset: xlsx has no sheets")
	}

	var rows [][]string
	for _, row := range f.Sheets[0].Rows {
		cells := make([]string, len(row.Cells))
		for j, c := range row.Cells {
			cells[j] = c.String()
		}
		rows = append(rows, cells)
	}
	return rows, nil
}
