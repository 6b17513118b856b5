package devspec_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"codeberg.org/mutker/otnpmon/internal/devspec"
	"codeberg.org/mutker/otnpmon/internal/hardware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `{
  "number": {"CHASSIS": 1, "CU": 1, "LINECARD": 4, "PSU": 2, "FAN": 4},
  "expected-pn": {
    "CHASSIS": "OTN1-CHASSIS",
    "PSU": ["PSU-800-A", "PSU-800-B"],
    "FAN": "FAN-A1"
  }
}`

func TestParse(t *testing.T) {
	spec, err := devspec.Parse(strings.NewReader(sample))
	require.NoError(t, err)

	assert.Equal(t, 4, spec.Number(hardware.Linecard))
	assert.Equal(t, 2, spec.Number(hardware.PSU))
	assert.Equal(t, []string{"PSU-800-A", "PSU-800-B"}, spec.ExpectedPN(hardware.PSU))
	assert.Equal(t, []string{"FAN-A1"}, spec.ExpectedPN(hardware.Fan))
	assert.Nil(t, spec.ExpectedPN(hardware.Linecard))

	assert.True(t, spec.IsExpectedPN(hardware.PSU, "PSU-800-B"))
	assert.False(t, spec.IsExpectedPN(hardware.PSU, "PSU-550"))
}

func TestSlotRanges(t *testing.T) {
	spec, err := devspec.Parse(strings.NewReader(sample))
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3, 4}, spec.Slots(hardware.Linecard))
	assert.Equal(t, []int{5, 6}, spec.Slots(hardware.PSU))
	assert.Equal(t, []int{7, 8, 9, 10}, spec.Slots(hardware.Fan))
	assert.Equal(t, []int{1}, spec.Slots(hardware.CU))
	assert.Equal(t, 1, spec.FirstSlot(hardware.Chassis))
	assert.Equal(t, 10, spec.LastSlot(hardware.Fan))
}

func TestChassisPowerCapacity(t *testing.T) {
	tests := []struct {
		pn   string
		want int
	}{
		{"OTN0-X", 550},
		{"OTN1-X", 800},
		{"OTN2-X", 1300},
		{"OTN9-X", 0},
		{"OTN", 0},
	}

	for _, tt := range tests {
		t.Run(tt.pn, func(t *testing.T) {
			doc := `{"number": {"CHASSIS": 1}, "expected-pn": {"CHASSIS": "` + tt.pn + `"}}`
			spec, err := devspec.Parse(strings.NewReader(doc))
			require.NoError(t, err)
			assert.Equal(t, tt.want, spec.ChassisPowerCapacity())
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dev_spec.json")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	spec, err := devspec.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, spec.Number(hardware.Fan))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := devspec.Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestParseInvalidNumber(t *testing.T) {
	_, err := devspec.Parse(strings.NewReader(`{"number": {"FAN": "many"}}`))
	assert.Error(t, err)
}
