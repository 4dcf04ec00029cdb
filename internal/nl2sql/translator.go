package nl2sql

// Rule names reported with every successful translation.
const (
	RuleListEmployees   = "list_employees"
	RuleSalaryThreshold = "salary_threshold"
	RuleListDepartments = "list_departments"
	RuleManagers        = "managers"
	RuleHiredThisYear   = "hired_this_year"
)

// Translation is the SQL produced for a question together with the rule that
// produced it.
type Translation struct {
	SQL  string `json:"sql"`
	Rule string `json:"rule"`
}

// Translator maps a natural-language question to SQL. The boolean is false
// when the question cannot be interpreted.
type Translator interface {
	Translate(question string) (Translation, bool)
}
