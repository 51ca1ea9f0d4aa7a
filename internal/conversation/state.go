package conversation

// State is the value of the current_state key.
type State string

// Question flow states.
const (
	StateIdle       State = ""
	StateQuestion1  State = "question_1"
	StateQuestion2  State = "question_2"
	StateQuestion3  State = "question_3"
	StateQuestion4  State = "question_4"
	StateQuestion41 State = "question_4_1"
	StateQuestion5  State = "question_5"
)

// Answer flow states.
const (
	StateAnswering            State = "answer_2"
	StateAnsweringSensitive   State = "answer_sensitive"
	StateAnsweringAnonymously State = "answer_anonymously"
)

var activeStates = map[State]struct{}{
	StateQuestion1:            {},
	StateQuestion2:            {},
	StateQuestion3:            {},
	StateQuestion4:            {},
	StateQuestion41:           {},
	StateQuestion5:            {},
	StateAnswering:            {},
	StateAnsweringSensitive:   {},
	StateAnsweringAnonymously: {},
}

// Active reports whether s belongs to the question or answer flow.
func (s State) Active() bool {
	_, ok := activeStates[s]
	return ok
}

// String returns the string form of the state.
func (s State) String() string {
	if s == StateIdle {
		return "idle"
	}
	return string(s)
}
