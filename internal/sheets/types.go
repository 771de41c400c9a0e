package sheets

// Question is one row of the question sheet. EventID combines the row id with
// its timestamp so re-submissions of the same id are distinct events.
type Question struct {
	ID        string `json:"id"`
	Text      string `json:"question"`
	TimeStamp string `json:"time_stamp"`
}

// EventID returns the stable identifier for this question event.
func (q Question) EventID() string {
	return q.ID + "_" + q.TimeStamp
}

// AnswerRow is one row of the answer sheet. Document carries the source URLs
// joined by newlines; TimeStamp preserves the originating question's own
// timestamp so the two sheets line up.
type AnswerRow struct {
	ID        string `json:"id"`
	Question  string `json:"question"`
	Answer    string `json:"answer"`
	Document  string `json:"document"`
	TimeStamp string `json:"time_stamp"`
}
