package engine

// Outcome is the terminal state of one conversation turn.
type Outcome string

const (
	OutcomeCompleted     Outcome = "completed"
	OutcomeCancelled     Outcome = "cancelled"
	OutcomeMaxIterations Outcome = "max_iterations_summarized"
	OutcomeError         Outcome = "error"
)

// State is the per-turn agent loop state.
type State struct {
	SessionID string
	ModelID   string        // catalog id, e.g. "deepseek-chat"
	Model     string        // provider model name
	Question  string        // the user question for this turn
	History   []ChatMessage // working history: session context plus synthetic turns
	Round     int           // rounds completed
	MaxRounds int
	ToolCalls int
	Outcome   Outcome
	Answer    string
	Err       error
	Totals    Usage
	Stats     SessionStats
	Cancel    *CancelToken
}

func (s *State) Append(msg ChatMessage) { s.History = append(s.History, msg) }

// Finished reports whether the turn reached a terminal state.
func (s *State) Finished() bool { return s.Outcome != "" }

func (s *State) fail(err error) {
	s.Outcome = OutcomeError
	s.Err = err
}
