package flow

// Commands.
const (
	IntentStart         = "/start"
	IntentHelp          = "/help"
	IntentInfo          = "/info"
	IntentCancel        = "/cancel"
	IntentQuestion      = "/question"
	IntentQuestionFirst = "/question_first"
	IntentAnswer        = "/answer"
)

// Question flow choices.
const (
	IntentAskToDifferent = "ask_to_different"
	IntentAskToSimilar   = "ask_to_similar"
	IntentAskToAnyone    = "ask_to_anyone"
	IntentSensitive      = "sensitive"
	IntentNotSensitive   = "not_sensitive"
	IntentAnonymous      = "anonymous"
	IntentNotAnonymous   = "not_anonymous"
	IntentNearby         = "nearby"
	IntentAnywhere       = "anywhere"
)

// Answer flow choices.
const (
	IntentAnswerAnonymously    = "answer_anonymously"
	IntentAnswerNotAnonymously = "answer_not_anonymously"
)

// Button payload intents.
const (
	IntentAnswerQuestion       = "answer_question"
	IntentAnswerRemindLater    = "answer_remind_later"
	IntentAnswerNot            = "answer_not"
	IntentQuestionReport       = "question_report"
	IntentAnswerReport         = "answer_report"
	IntentReportAbusive        = "abusive"
	IntentReportSpam           = "spam"
	IntentAskMoreAnswers       = "ask_more_answers"
	IntentBestAnswer           = "best_answer"
	IntentAnswerPickedQuestion = "picked_answer"
)

// Deterministic cache keys.
const (
	cacheLocalePrefix      = "locale-"
	cacheFirstAnswerPrefix = "first-answer-"
)

// maxProposedTasks bounds the /answer listing.
const maxProposedTasks = 3
