package schema

import (
	"sort"
	"time"
)

type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type ForeignKey struct {
	Column    string `json:"column"`
	RefTable  string `json:"ref_table"`
	RefColumn string `json:"ref_column"`
}

// TableInfo describes one introspected table. Likely holds the semantic
// categories attached by Annotate, in category declaration order.
type TableInfo struct {
	Columns     []Column     `json:"columns"`
	PrimaryKey  []string     `json:"primary_key"`
	ForeignKeys []ForeignKey `json:"foreign_keys"`
	Likely      []string     `json:"likely"`
}

// Snapshot is a point-in-time view of a database schema. Snapshots are never
// mutated after construction; Annotate returns a new one.
type Snapshot struct {
	Tables       map[string]TableInfo
	DiscoveredAt time.Time
}

// TableNames returns the snapshot's table names in lexical order.
func (s Snapshot) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for name := range s.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s Snapshot) clone() Snapshot {
	tables := make(map[string]TableInfo, len(s.Tables))
	for name, info := range s.Tables {
		tables[name] = TableInfo{
			Columns:     append([]Column{}, info.Columns...),
			PrimaryKey:  append([]string{}, info.PrimaryKey...),
			ForeignKeys: append([]ForeignKey{}, info.ForeignKeys...),
			Likely:      append([]string{}, info.Likely...),
		}
	}
	return Snapshot{Tables: tables, DiscoveredAt: s.DiscoveredAt}
}
