package agent

// State is a step of the ReAct state machine.
type State string

const (
	StateThinking           State = "thinking"
	StateActionSQL          State = "action_sql"
	StateActionSchemaLookup State = "action_schema_lookup"
	StateObservation        State = "observation"
	StateFinish             State = "finish"
	StateStepLimitExceeded  State = "step_limit_exceeded"
)

// Step is one entry of an agent trace.
type Step struct {
	Index       int      `json:"index"`
	State       State    `json:"state"`
	Thought     string   `json:"thought,omitempty"`
	SQL         string   `json:"sql,omitempty"`
	Tables      []string `json:"tables,omitempty"`
	Observation string   `json:"observation,omitempty"`
	RowCount    int      `json:"rowCount,omitempty"`
	Error       string   `json:"error,omitempty"`
	DurationMs  int64    `json:"durationMs"`
}
