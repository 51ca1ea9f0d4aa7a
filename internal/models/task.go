package models

// Transaction labels understood by the hub.
const (
	LabelAnswerTransaction         = "answerTransaction"
	LabelNotAnswerTransaction      = "notAnswerTransaction"
	LabelReportQuestionTransaction = "reportQuestionTransaction"
	LabelReportAnswerTransaction   = "reportAnswerTransaction"
	LabelMoreAnswerTransaction     = "moreAnswerTransaction"
	LabelBestAnswerTransaction     = "bestAnswerTransaction"
)

// Task attribute keys.
const (
	AttrKindOfAnswerer     = "kindOfAnswerer"
	AttrAnsweredDetails    = "answeredDetails"
	AttrSensitive          = "sensitive"
	AttrAnonymous          = "anonymous"
	AttrPositionOfAnswerer = "positionOfAnswerer"
)

// PositionNearby is the positionOfAnswerer value for nearby answerers.
const PositionNearby = "nearby"

// TaskGoal holds the question text of a task.
type TaskGoal struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// TaskTransaction is an action taken by a user on a task.
type TaskTransaction struct {
	ID          string         `json:"id,omitempty"`
	TaskID      string         `json:"taskId"`
	Label       string         `json:"label"`
	ActioneerID string         `json:"actioneerId"`
	Attributes  map[string]any `json:"attributes"`
	Creation    int64          `json:"_creationTs,omitempty"`
}

// Task is a question tracked by the hub.
type Task struct {
	ID           string            `json:"id,omitempty"`
	TypeID       string            `json:"taskTypeId"`
	RequesterID  string            `json:"requesterId"`
	AppID        string            `json:"appId"`
	Goal         TaskGoal          `json:"goal"`
	Attributes   map[string]any    `json:"attributes"`
	Transactions []TaskTransaction `json:"transactions,omitempty"`
	Creation     int64             `json:"_creationTs,omitempty"`
}

// BoolAttribute returns the boolean attribute stored under key, or false.
func (t Task) BoolAttribute(key string) bool {
	v, _ := t.Attributes[key].(bool)
	return v
}

// StringAttribute returns the string attribute stored under key, or "".
func (t Task) StringAttribute(key string) string {
	v, _ := t.Attributes[key].(string)
	return v
}

// Transaction returns the transaction with the given id.
func (t Task) Transaction(id string) (TaskTransaction, bool) {
	for _, tr := range t.Transactions {
		if tr.ID == id {
			return tr, true
		}
	}
	return TaskTransaction{}, false
}

// AnsweredBy reports whether userID already posted an answer transaction.
func (t Task) AnsweredBy(userID string) bool {
	for _, tr := range t.Transactions {
		if tr.Label == LabelAnswerTransaction && tr.ActioneerID == userID {
			return true
		}
	}
	return false
}

// UserName is the name block of a hub profile.
type UserName struct {
	First string `json:"first"`
	Last  string `json:"last"`
}

// UserProfile is the subset of the hub profile used by the bot.
type UserProfile struct {
	ID     string   `json:"id"`
	Name   UserName `json:"name"`
	Locale string   `json:"locale"`
}

// AnonymousName is displayed in place of hidden or missing names.
const AnonymousName = "Anonymous"

// DisplayName returns the first name unless hidden is set or the name is empty.
func (p UserProfile) DisplayName(hidden bool) string {
	if hidden || p.Name.First == "" {
		return AnonymousName
	}
	return p.Name.First
}
