package config

type WorkerKeyStruct struct {
	PersistFlagsQueue         string
	PersistAnswersQueue       string
	PersistScoresQueue        string
	PersistQuestionOrderQueue string
}

var WorkerKey = &WorkerKeyStruct{
	PersistFlagsQueue:         "persist_flags_queue",
	PersistAnswersQueue:       "persist_answers_queue",
	PersistScoresQueue:        "persist_scores_queue",
	PersistQuestionOrderQueue: "persist_question_order_queue",
}
