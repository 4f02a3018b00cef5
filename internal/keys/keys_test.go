package keys

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestManual(t *testing.T) {
	got := Manual("11/08/2025", "P100", "10 day", "P100+Lab@Example.com")
	assert.Equal(t, "11-08-2025_P100_10day_p100_lab@example.com", got)
}

func TestManualIsDeterministic(t *testing.T) {
	a := Manual("11/08/2025", "P100", "1 day", "p100@example.com")
	b := Manual("11/08/2025", "P100", "1 day", "p100@example.com")
	assert.Equal(t, a, b)
}

func TestManualDistinguishesInputs(t *testing.T) {
	base := Manual("11/08/2025", "P100", "1 day", "p100@example.com")

	assert.NotEqual(t, base, Manual("11/08/2025", "P100", "1 day", "p101@example.com"))
	assert.NotEqual(t, base, Manual("11/08/2025", "P100", "10 day", "p100@example.com"))
	assert.NotEqual(t, base, Manual("11/09/2025", "P100", "1 day", "p100@example.com"))
	assert.NotEqual(t, base, Manual("11/08/2025", "P200", "1 day", "p100@example.com"))
}

func TestCSV(t *testing.T) {
	assert.Equal(t, "701_11-02-2025_B2STARTMIN10", CSV("701", "11/02/2025", "B2STARTMIN10"))
	assert.NotEqual(t, CSV("701", "03/01/2026", "B2STARTDATE"), CSV("701", "03/01/2026", "B3STARTDATE"))
}
