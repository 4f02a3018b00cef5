// Package csvimport reads participant date exports into planner rows.
package csvimport

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"checkin/internal/planner"
)

// Header names of the participant columns.
const (
	ColumnID     = "ID"
	ColumnStatus = "IDSTATUS"
)

// Parse reads a CSV export with a header row and returns one row per
// non-empty cell of the requested date columns. Values are trimmed and blank
// lines are skipped. Status filtering is left to the planner.
func Parse(r io.Reader, dateColumns []string) ([]planner.Row, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("csv is empty")
		}
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		index[name] = i
	}
	idCol, ok := index[ColumnID]
	if !ok {
		return nil, fmt.Errorf("csv header is missing the %s column", ColumnID)
	}
	statusCol, ok := index[ColumnStatus]
	if !ok {
		return nil, fmt.Errorf("csv header is missing the %s column", ColumnStatus)
	}

	var rows []planner.Row
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv record: %w", err)
		}
		if blank(record) {
			continue
		}

		id := field(record, idCol)
		status := field(record, statusCol)
		for _, code := range dateColumns {
			i, ok := index[code]
			if !ok {
				continue
			}
			value := field(record, i)
			if value == "" {
				continue
			}
			rows = append(rows, planner.Row{
				ParticipantID: id,
				ColumnCode:    code,
				RawDate:       value,
				Status:        status,
			})
		}
	}
	return rows, nil
}

func field(record []string, i int) string {
	if i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

func blank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
