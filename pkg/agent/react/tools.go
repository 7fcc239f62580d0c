package react

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

const (
	toolExecuteSQL     = "execute_sql"
	toolDescribeTables = "describe_tables"
	toolFinish         = "finish"
)

type ExecuteSQLInput struct {
	SQL string `json:"sql" jsonschema:"one read-only SELECT or WITH statement"`
}

type DescribeTablesInput struct {
	Tables []string `json:"tables" jsonschema:"names of the tables to describe"`
}

type FinishInput struct {
	SQL     string `json:"sql" jsonschema:"the final SELECT or WITH statement that answers the question"`
	Summary string `json:"summary,omitempty" jsonschema:"one sentence describing what the query returns"`
}

// Tools returns the tool definitions offered to the model.
func Tools() ([]Tool, error) {
	executeSQL, err := inputSchema[ExecuteSQLInput]()
	if err != nil {
		return nil, fmt.Errorf("failed to create %s input schema: %w", toolExecuteSQL, err)
	}
	describeTables, err := inputSchema[DescribeTablesInput]()
	if err != nil {
		return nil, fmt.Errorf("failed to create %s input schema: %w", toolDescribeTables, err)
	}
	finish, err := inputSchema[FinishInput]()
	if err != nil {
		return nil, fmt.Errorf("failed to create %s input schema: %w", toolFinish, err)
	}

	return []Tool{
		{
			Name:        toolDescribeTables,
			Description: "Show the columns, types and sample values of the given tables.",
			InputSchema: describeTables,
		},
		{
			Name:        toolExecuteSQL,
			Description: "Run a read-only SQL query and return the first rows of its result.",
			InputSchema: executeSQL,
		},
		{
			Name:        toolFinish,
			Description: "Submit the final SQL query that answers the question. Its full result is shown to the user.",
			InputSchema: finish,
		},
	}, nil
}

func inputSchema[T any]() (map[string]any, error) {
	s, err := jsonschema.For[T](nil)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
