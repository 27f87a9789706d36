package request

// AddParticipantRequest is the request body for joining a game.
// ID is generated when omitted.
type AddParticipantRequest struct {
	ID          string `json:"id,omitempty"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email,omitempty"`
}

// AnswerRequest is the request body for answering the current question
type AnswerRequest struct {
	ParticipantID string `json:"participant_id"`
	QuestionIndex *int   `json:"question_index"`
	Answer        string `json:"answer"`
}
