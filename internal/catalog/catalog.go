// Package catalog maps detector class ids to the road damage taxonomy.
package catalog

import (
	"fmt"
	"slices"

	"roadscan/internal/domain"
)

const (
	SeverityUnknown = "unknown"
	ColorUnknown    = "#999999"
)

// rdd2022 is the RDD2022 label set the detection model is trained on.
var rdd2022 = []domain.LabelEntry{
	{ClassID: 0, Code: "D00", Name: "Longitudinal Crack", Color: "#FF6B6B", Severity: "moderate"},
	{ClassID: 1, Code: "D10", Name: "Transverse Crack", Color: "#FFA500", Severity: "moderate"},
	{ClassID: 2, Code: "D20", Name: "Alligator Crack", Color: "#FF4444", Severity: "severe"},
	{ClassID: 3, Code: "D40", Name: "Pothole", Color: "#CC0000", Severity: "severe"},
}

// Catalog is immutable once built and safe for concurrent use.
type Catalog struct {
	byClass map[int]domain.LabelEntry
	byCode  map[string]domain.LabelEntry
	entries []domain.LabelEntry
}

// Default returns the RDD2022 catalog.
func Default() *Catalog {
	c, err := New(rdd2022)
	if err != nil {
		panic(err)
	}
	return c
}

// New builds a catalog, rejecting duplicate class ids or codes.
func New(entries []domain.LabelEntry) (*Catalog, error) {
	c := &Catalog{
		byClass: make(map[int]domain.LabelEntry, len(entries)),
		byCode:  make(map[string]domain.LabelEntry, len(entries)),
	}
	for _, e := range entries {
		if e.Code == "" {
			return nil, fmt.Errorf("catalog: class %d has no code", e.ClassID)
		}
		if _, dup := c.byClass[e.ClassID]; dup {
			return nil, fmt.Errorf("catalog: duplicate class id %d", e.ClassID)
		}
		if _, dup := c.byCode[e.Code]; dup {
			return nil, fmt.Errorf("catalog: duplicate code %q", e.Code)
		}
		c.byClass[e.ClassID] = e
		c.byCode[e.Code] = e
		c.entries = append(c.entries, e)
	}
	slices.SortFunc(c.entries, func(a, b domain.LabelEntry) int { return a.ClassID - b.ClassID })
	return c, nil
}

// Resolve always returns an entry. Unknown class ids get a synthesized
// "D<id>" code, the model label (or "Class <id>") as name and unknown severity.
// The synthesized code can equal a catalogued one (class 40 yields "D40");
// such records are stored and counted under the catalogued code.
func (c *Catalog) Resolve(classID int, modelLabel string) domain.LabelEntry {
	if e, ok := c.byClass[classID]; ok {
		return e
	}
	name := modelLabel
	if name == "" {
		name = fmt.Sprintf("Class %d", classID)
	}
	return domain.LabelEntry{
		ClassID:  classID,
		Code:     fmt.Sprintf("D%d", classID),
		Name:     name,
		Color:    ColorUnknown,
		Severity: SeverityUnknown,
	}
}

// Describe returns display metadata for a stored damage code.
func (c *Catalog) Describe(code, name string) domain.LabelEntry {
	if e, ok := c.byCode[code]; ok {
		return e
	}
	return domain.LabelEntry{ClassID: -1, Code: code, Name: name, Color: ColorUnknown, Severity: SeverityUnknown}
}

// Known reports whether code belongs to the catalog.
func (c *Catalog) Known(code string) bool {
	_, ok := c.byCode[code]
	return ok
}

// Entries returns a copy of the catalog ordered by class id.
func (c *Catalog) Entries() []domain.LabelEntry {
	return slices.Clone(c.entries)
}
