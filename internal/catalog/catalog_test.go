package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roadscan/internal/domain"
)

func TestDefault_Entries(t *testing.T) {
	c := Default()
	entries := c.Entries()
	require.Len(t, entries, 4)

	codes := make([]string, 0, len(entries))
	for _, e := range entries {
		codes = append(codes, e.Code)
	}
	assert.Equal(t, []string{"D00", "D10", "D20", "D40"}, codes)

	entries[0].Name = "mutated"
	assert.Equal(t, "Longitudinal Crack", c.Entries()[0].Name, "Entries must return a copy")
}

func TestResolve_Known(t *testing.T) {
	e := Default().Resolve(3, "ignored")
	assert.Equal(t, "D40", e.Code)
	assert.Equal(t, "Pothole", e.Name)
	assert.Equal(t, "severe", e.Severity)
	assert.Equal(t, "#CC0000", e.Color)
}

func TestResolve_Unknown(t *testing.T) {
	c := Default()

	e := c.Resolve(99, "")
	assert.Equal(t, "D99", e.Code)
	assert.Equal(t, "Class 99", e.Name)
	assert.Equal(t, SeverityUnknown, e.Severity)
	assert.Equal(t, ColorUnknown, e.Color)

	e = c.Resolve(7, "manhole")
	assert.Equal(t, "D7", e.Code)
	assert.Equal(t, "manhole", e.Name)
}

func TestResolve_UnknownIDCanShadowCatalogCode(t *testing.T) {
	c := Default()

	e := c.Resolve(40, "")
	assert.Equal(t, "D40", e.Code)
	assert.Equal(t, "Class 40", e.Name)
	assert.Equal(t, SeverityUnknown, e.Severity)

	// Reading it back goes by code, so it displays as the catalogued type.
	d := c.Describe(e.Code, e.Name)
	assert.Equal(t, 3, d.ClassID)
	assert.Equal(t, "Pothole", d.Name)
	assert.True(t, c.Known(e.Code))
}

func TestDescribe(t *testing.T) {
	c := Default()
	assert.Equal(t, "moderate", c.Describe("D10", "whatever").Severity)

	e := c.Describe("D99", "Class 99")
	assert.Equal(t, "Class 99", e.Name)
	assert.Equal(t, SeverityUnknown, e.Severity)
	assert.False(t, c.Known("D99"))
	assert.True(t, c.Known("D20"))
}

func TestNew_RejectsDuplicates(t *testing.T) {
	_, err := New([]domain.LabelEntry{{ClassID: 0, Code: "A"}, {ClassID: 0, Code: "B"}})
	assert.Error(t, err)

	_, err = New([]domain.LabelEntry{{ClassID: 0, Code: "A"}, {ClassID: 1, Code: "A"}})
	assert.Error(t, err)

	_, err = New([]domain.LabelEntry{{ClassID: 0}})
	assert.Error(t, err)
}
