package nl2sql

import (
	"strings"
	"unicode"
)

const (
	engineeringEmployeesSQL = "SELECT e.*, d.dept_name, d.manager FROM employees e JOIN departments d ON e.department_id = d.dept_id WHERE d.dept_name ILIKE '%engineering%'"
	allEmployeesSQL         = "SELECT * FROM employees;"
	allDepartmentsSQL       = "SELECT * FROM departments;"
	managersSQL             = "SELECT e.full_name, e.position, d.dept_name FROM employees e JOIN departments d ON e.department_id = d.dept_id WHERE e.position ILIKE '%manager%';"
	hiredThisYearSQL        = "SELECT * FROM employees WHERE EXTRACT(YEAR FROM join_date) = EXTRACT(YEAR FROM CURRENT_DATE);"
)

type rule struct {
	name  string
	match func(q string) bool
	build func(q string) string
}

// rules are evaluated in order against the lowercased question; the first
// match wins.
var rules = []rule{
	{
		name: RuleListEmployees,
		match: func(q string) bool {
			return strings.Contains(q, "employee") && containsAny(q, "all", "list")
		},
		build: func(q string) string {
			if !strings.Contains(q, "engineering") {
				return allEmployeesSQL
			}
			if containsAny(q, "above", "greater") {
				return engineeringEmployeesSQL + " AND e.annual_salary > " + ExtractAmount(q) + ";"
			}
			return engineeringEmployeesSQL + ";"
		},
	},
	{
		name: RuleSalaryThreshold,
		match: func(q string) bool {
			return strings.Contains(q, "salary") && containsAny(q, "above", "greater")
		},
		build: func(q string) string {
			return "SELECT * FROM employees WHERE annual_salary > " + ExtractAmount(q) + ";"
		},
	},
	{
		name: RuleListDepartments,
		match: func(q string) bool {
			return strings.Contains(q, "department") && containsAny(q, "all", "list")
		},
		build: func(string) string { return allDepartmentsSQL },
	},
	{
		name: RuleManagers,
		match: func(q string) bool {
			return containsAny(q, "manager", "managed by")
		},
		build: func(string) string { return managersSQL },
	},
	{
		name: RuleHiredThisYear,
		match: func(q string) bool {
			return containsAny(q, "hired this year", "joined this year")
		},
		build: func(string) string { return hiredThisYearSQL },
	},
}

// RuleTranslator recognizes a fixed set of phrasings over the employees and
// departments tables. Matching is by substring, so "all" also matches
// "overall" or "small".
type RuleTranslator struct{}

func (RuleTranslator) Translate(question string) (Translation, bool) {
	q := strings.ToLower(question)
	for _, r := range rules {
		if r.match(q) {
			return Translation{SQL: r.build(q), Rule: r.name}, true
		}
	}
	return Translation{}, false
}

// ExtractAmount concatenates every digit of text in order and returns "0" when
// there are none. "above 50 and below 10" yields "5010"; the digits are not
// parsed as separate numbers.
func ExtractAmount(text string) string {
	var b strings.Builder
	for _, r := range text {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "0"
	}
	return b.String()
}

func containsAny(q string, needles ...string) bool {
	for _, needle := range needles {
		if strings.Contains(q, needle) {
			return true
		}
	}
	return false
}
