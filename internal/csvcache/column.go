package csvcache

import (
	"strconv"
	"strings"
)

// TextType is the only column type the loader emits. Backends translate it
// to their own text type.
const TextType = "TEXT"

// ColumnDescriptor is the resolved name and type of one column. It is used
// both for table creation and for binding row values, so both sides always
// agree on names.
type ColumnDescriptor struct {
	Name string
	Type string
}

// ColumnName returns header[index] when present, otherwise prefix followed by
// the 1-based column number ("column3" for index 2). A blank header cell counts
// as absent, since no store accepts an empty column name.
func ColumnName(header []string, prefix string, index int) string {
	if index >= 0 && index < len(header) && strings.TrimSpace(header[index]) != "" {
		return header[index]
	}
	return prefix + strconv.Itoa(index+1)
}

// ColumnDesc describes column index of the cache. It never fails: indices
// past the header get a generated name.
func (c *Cache) ColumnDesc(index int) ColumnDescriptor {
	return ColumnDescriptor{
		Name: ColumnName(c.header, c.prefix, index),
		Type: TextType,
	}
}

// ColumnDescs describes every column up to MaxColumnCount.
func (c *Cache) ColumnDescs() []ColumnDescriptor {
	out := make([]ColumnDescriptor, c.maxColumnCount)
	for i := range out {
		out[i] = c.ColumnDesc(i)
	}
	return out
}

// ColumnNames is ColumnDescs reduced to names.
func (c *Cache) ColumnNames() []string {
	out := make([]string, c.maxColumnCount)
	for i := range out {
		out[i] = c.ColumnDesc(i).Name
	}
	return out
}
