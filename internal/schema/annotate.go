package schema

import (
	"sort"
	"strings"
)

type category struct {
	name     string
	keywords []string
}

var categories = []category{
	{name: "employee", keywords: []string{"employee", "employees", "emp", "staff", "personnel", "person"}},
	{name: "department", keywords: []string{"department", "departments", "dept", "division"}},
	{name: "documents", keywords: []string{"document", "documents", "resume", "resumes"}},
	{name: "salary", keywords: []string{"salary", "compensation", "pay", "annual_salary", "comp"}},
}

// Annotate returns a copy of snapshot where every table carries the
// categories its name or column names suggest. Table-name hits come first,
// followed by categories found only in column names.
func Annotate(snapshot Snapshot) Snapshot {
	annotated := snapshot.clone()
	for name, info := range annotated.Tables {
		info.Likely = likelyCategories(name, info.Columns)
		annotated.Tables[name] = info
	}
	return annotated
}

func likelyCategories(table string, columns []Column) []string {
	lowerTable := strings.ToLower(table)
	lowerColumns := make([]string, 0, len(columns))
	for _, column := range columns {
		lowerColumns = append(lowerColumns, strings.ToLower(column.Name))
	}

	likely := make([]string, 0, len(categories))
	tagged := make(map[string]bool, len(categories))
	for _, c := range categories {
		if containsAny(lowerTable, c.keywords) {
			likely = append(likely, c.name)
			tagged[c.name] = true
		}
	}
	for _, c := range categories {
		if tagged[c.name] {
			continue
		}
		for _, column := range lowerColumns {
			if containsAny(column, c.keywords) {
				likely = append(likely, c.name)
				tagged[c.name] = true
				break
			}
		}
	}
	return likely
}

func containsAny(value string, keywords []string) bool {
	for _, keyword := range keywords {
		if strings.Contains(value, keyword) {
			return true
		}
	}
	return false
}

// TableMatch scores how strongly a table relates to a free-text question.
type TableMatch struct {
	Table   string   `json:"table"`
	Score   int      `json:"score"`
	Columns []string `json:"columns"`
}

// MapNLToSchema scores each table against the whitespace tokens of text: two
// points per token found inside any column name and one point per token found
// inside the table name. Tables scoring zero are dropped.
func MapNLToSchema(text string, snapshot Snapshot) []TableMatch {
	tokens := strings.Fields(strings.ToLower(text))
	matches := make([]TableMatch, 0)
	if len(tokens) == 0 {
		return matches
	}

	for _, table := range snapshot.TableNames() {
		info := snapshot.Tables[table]
		lowerTable := strings.ToLower(table)
		columns := make([]string, 0, len(info.Columns))
		for _, column := range info.Columns {
			columns = append(columns, strings.ToLower(column.Name))
		}

		score := 0
		for _, token := range tokens {
			for _, column := range columns {
				if strings.Contains(column, token) {
					score += 2
					break
				}
			}
			if strings.Contains(lowerTable, token) {
				score++
			}
		}
		if score > 0 {
			matches = append(matches, TableMatch{Table: table, Score: score, Columns: columns})
		}
	}

	sort.SliceStable(matches, func(a, b int) bool {
		return matches[a].Score > matches[b].Score
	})
	return matches
}
