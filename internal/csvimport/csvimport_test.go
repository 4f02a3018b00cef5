package csvimport

import (
	"strings"
	"testing"

	"checkin/internal/planner"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const export = `ID,IDSTATUS,B1STARTDATE,B2STARTMIN10,B2STARTMIN1,B2STARTDATE
701,Active,10/01/2025, 11/2/2025 ,11/11/2025,03/01/2026
,,,,,
702,Withdrawn,,11/04/2025,,
703,Active,,,,
`

func TestParse(t *testing.T) {
	rows, err := Parse(strings.NewReader(export), planner.DefaultSchema().Codes())
	require.NoError(t, err)

	assert.Equal(t, []planner.Row{
		{ParticipantID: "701", ColumnCode: "B1STARTDATE", RawDate: "10/01/2025", Status: "Active"},
		{ParticipantID: "701", ColumnCode: "B2STARTMIN10", RawDate: "11/2/2025", Status: "Active"},
		{ParticipantID: "701", ColumnCode: "B2STARTMIN1", RawDate: "11/11/2025", Status: "Active"},
		{ParticipantID: "701", ColumnCode: "B2STARTDATE", RawDate: "03/01/2026", Status: "Active"},
		{ParticipantID: "702", ColumnCode: "B2STARTMIN10", RawDate: "11/04/2025", Status: "Withdrawn"},
	}, rows)
}

func TestParseMissingColumns(t *testing.T) {
	_, err := Parse(strings.NewReader("NAME,IDSTATUS\nx,Active\n"), []string{"B2STARTDATE"})
	assert.ErrorContains(t, err, "ID column")

	_, err = Parse(strings.NewReader("ID,STATUS\n1,Active\n"), []string{"B2STARTDATE"})
	assert.ErrorContains(t, err, "IDSTATUS")

	_, err = Parse(strings.NewReader(""), nil)
	assert.Error(t, err)
}

func TestParseHandlesByteOrderMark(t *testing.T) {
	rows, err := Parse(strings.NewReader("\ufeffID,IDSTATUS,B2STARTDATE\n9,Active,03/01/2026\n"), []string{"B2STARTDATE"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "9", rows[0].ParticipantID)
}

func TestParsePlansEndToEnd(t *testing.T) {
	rows, err := Parse(strings.NewReader(export), planner.DefaultSchema().Codes())
	require.NoError(t, err)

	p, err := planner.New(nil, planner.Options{})
	require.NoError(t, err)
	events, invalid, err := p.Batch(rows, planner.BatchOptions{})
	require.NoError(t, err)
	assert.Empty(t, invalid)
	// Two reminders for 701 plus one retention event; 702 is withdrawn.
	assert.Len(t, events, 3)
}
