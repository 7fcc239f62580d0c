package insights

import (
	"strings"
)

// errorCategory is one branch of the error guidance, matched by substrings of the
// lowercased error message.
type errorCategory struct {
	name     string
	patterns []string
	render   func(g *Generator, sqlQuery string) string
}

var errorCategories = []errorCategory{
	{
		name:     "configuration",
		patterns: []string{"not configured", "database_url", "anthropic_api_key", "no database"},
		render: func(*Generator, string) string {
			return "**Database Not Configured**\n\n" +
				"The analytics service is not connected to a data source yet, so the question could not be answered.\n\n" +
				"- Set `DATABASE_URL` to a supported connection string (postgres, mysql, clickhouse, duckdb or sqlite)\n" +
				"- Set `ANTHROPIC_API_KEY` so questions can be translated into queries\n" +
				"- Restart the service and check `GET /query` reports `ready: true`"
		},
	},
	{
		name:     "timeout",
		patterns: []string{"timed out", "timeout", "deadline exceeded", "execution time exceeded"},
		render: func(*Generator, string) string {
			return "**Query Took Too Long**\n\n" +
				"The database did not finish the query in time.\n\n" +
				"- Narrow the date range, for example \"last 30 days\" instead of all time\n" +
				"- Filter to a specific customer, carrier or route\n" +
				"- Ask for a summary such as a total or top 10 rather than every row"
		},
	},
	{
		name:     "permission",
		patterns: []string{"permission denied", "read-only", "readonly", "not allowed", "only read"},
		render: func(*Generator, string) string {
			return "**Read-Only Access**\n\n" +
				"This assistant can only read data. Requests that would create, change or delete records are blocked.\n\n" +
				"- Ask a question about existing data, for example totals, trends or rankings\n" +
				"- Contact your data team for changes to the underlying records"
		},
	},
	{
		name:     "missing_relation",
		patterns: []string{"does not exist", "relation", "no such table", "no such column", "unknown table", "not found"},
		render: func(g *Generator, _ string) string {
			var sb strings.Builder
			sb.WriteString("**Table or Column Not Found**\n\n")
			sb.WriteString("The query referred to data that is not available. I can answer questions about:\n\n")
			for _, area := range g.cfg.Profile.DataAreas {
				sb.WriteString("- " + area + "\n")
			}
			sb.WriteString("\nTry rephrasing the question using one of these areas.")
			return sb.String()
		},
	},
	{
		name:     "syntax",
		patterns: []string{"syntax error", "syntax"},
		render: func(*Generator, string) string {
			return "**Query Syntax Issue**\n\n" +
				"The generated query could not be parsed by the database.\n\n" +
				"- Rephrase the question more simply, one metric at a time\n" +
				"- Name the time period explicitly, for example \"last 30 days\"\n" +
				"- Try again, a second attempt often produces a valid query"
		},
	},
	{
		name:     "step_limit",
		patterns: []string{"step budget", "step limit"},
		render: func(g *Generator, _ string) string {
			return "**Question Too Complex to Process**\n\n" +
				"I could not reach an answer within the processing limit for a single question.\n\n" +
				"- Break the question into smaller parts and ask them one at a time\n" +
				"- Focus on one metric or one time period\n" +
				examplesList(g)
		},
	},
}

// GenerateError returns remediation guidance for a failed question. It never calls
// the model.
func (g *Generator) GenerateError(question, sqlQuery, errMsg string) string {
	lower := strings.ToLower(errMsg)
	for _, c := range errorCategories {
		for _, p := range c.patterns {
			if strings.Contains(lower, p) {
				g.log.Debug("insights: error guidance", "category", c.name, "pattern", p)
				return c.render(g, sqlQuery)
			}
		}
	}
	g.log.Debug("insights: generic error guidance", "question", question)
	return "**Something Went Wrong**\n\n" +
		"I was not able to answer that question. Try rephrasing it or asking something more specific.\n" +
		examplesList(g)
}

func examplesList(g *Generator) string {
	var sb strings.Builder
	sb.WriteString("\nFor example:\n\n")
	for _, q := range g.cfg.Profile.ExampleQuestions {
		sb.WriteString("- " + q + "\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}
