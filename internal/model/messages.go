package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies the type of a message on the bus
type MessageType string

const (
	// Inbound game events
	MessageCreateGame           MessageType = "CreateGame"
	MessageAddParticipant       MessageType = "AddParticipant"
	MessageStartGame            MessageType = "StartGame"
	MessageAnswerQuestion       MessageType = "AnswerQuestion"
	MessageGetParticipantState  MessageType = "GetParticipantState"
	MessageQuestionsFetched     MessageType = "QuestionsFetched"
	MessageFetchQuestionsFailed MessageType = "FetchQuestionsFailed"

	// Scheduled game events
	MessageCloseCurrentQuestion MessageType = "CloseCurrentQuestion"
	MessageNextQuestion         MessageType = "NextQuestion"
	MessageRetryFetchQuestions  MessageType = "RetryFetchQuestions"

	// Outbound requests and responses
	MessageFetchQuestions           MessageType = "FetchQuestions"
	MessageParticipantStateResponse MessageType = "ParticipantStateResponse"
)

// Message is implemented by every message contract
type Message interface {
	Type() MessageType
	CorrelationID() GameID
}

// CreateGame opens a new game lobby
type CreateGame struct {
	GameID    GameID    `json:"gameId"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`

	// Optional per-game overrides; zero means use the configured default
	AnswerTimeSeconds     int `json:"answerTimeSeconds,omitempty"`
	ShowResultTimeSeconds int `json:"showResultTimeSeconds,omitempty"`
}

// AddParticipant adds a participant to a game in the lobby
type AddParticipant struct {
	GameID      GameID      `json:"gameId"`
	Participant Participant `json:"participant"`
}

// StartGame closes the lobby and requests questions
type StartGame struct {
	GameID GameID `json:"gameId"`
}

// FetchQuestions asks the question source adapter for questions
type FetchQuestions struct {
	GameID GameID `json:"gameId"`
	Count  int    `json:"count,omitempty"`
}

// QuestionsFetched is the adapter's response to FetchQuestions
type QuestionsFetched struct {
	GameID    GameID     `json:"gameId"`
	Questions []Question `json:"questions"`
}

// FetchQuestionsFailed reports that the adapter could not produce questions
type FetchQuestionsFailed struct {
	GameID GameID `json:"gameId"`
	Reason string `json:"reason"`
}

// RetryFetchQuestions is scheduled after a failed fetch.
// Attempt is the failure count that scheduled it.
type RetryFetchQuestions struct {
	GameID  GameID `json:"gameId"`
	Attempt *int   `json:"attempt,omitempty"`
}

// AnswerQuestion is a participant's answer submission
type AnswerQuestion struct {
	GameID        GameID        `json:"gameId"`
	ParticipantID ParticipantID `json:"participantId"`
	QuestionIndex int           `json:"questionIndex"`
	Answer        string        `json:"answer"`
	Timestamp     time.Time     `json:"timestamp"`
}

// CloseCurrentQuestion is scheduled when a question opens.
// QuestionIndex, when set, pins the timer to the round that scheduled it.
type CloseCurrentQuestion struct {
	GameID        GameID `json:"gameId"`
	QuestionIndex *int   `json:"questionIndex,omitempty"`
}

// NextQuestion is scheduled when a question closes.
// QuestionIndex, when set, pins the timer to the round that scheduled it.
type NextQuestion struct {
	GameID        GameID `json:"gameId"`
	QuestionIndex *int   `json:"questionIndex,omitempty"`
}

// GetParticipantState requests a participant's view of a game
type GetParticipantState struct {
	GameID        GameID        `json:"gameId"`
	ParticipantID ParticipantID `json:"participantId"`
}

// ParticipantStateResponse answers GetParticipantState
type ParticipantStateResponse struct {
	GameID               GameID                  `json:"gameId"`
	State                Phase                   `json:"state"`
	CurrentQuestionIndex *int                    `json:"currentQuestionIndex"`
	CurrentQuestion      *ParticipantQuestion    `json:"currentQuestion"`
	Responses            []QuestionResponse      `json:"responses"`
	Scores               []QuestionResponseScore `json:"scores"`
	TotalScore           int                     `json:"totalScore"`

	// Fetch health, so a game stuck waiting on questions is observable
	FetchAttempts  int    `json:"fetchAttempts,omitempty"`
	LastFetchError string `json:"lastFetchError,omitempty"`
	Stalled        bool   `json:"stalled,omitempty"`
}

func (CreateGame) Type() MessageType               { return MessageCreateGame }
func (AddParticipant) Type() MessageType           { return MessageAddParticipant }
func (StartGame) Type() MessageType                { return MessageStartGame }
func (FetchQuestions) Type() MessageType           { return MessageFetchQuestions }
func (QuestionsFetched) Type() MessageType         { return MessageQuestionsFetched }
func (FetchQuestionsFailed) Type() MessageType     { return MessageFetchQuestionsFailed }
func (RetryFetchQuestions) Type() MessageType      { return MessageRetryFetchQuestions }
func (AnswerQuestion) Type() MessageType           { return MessageAnswerQuestion }
func (CloseCurrentQuestion) Type() MessageType     { return MessageCloseCurrentQuestion }
func (NextQuestion) Type() MessageType             { return MessageNextQuestion }
func (GetParticipantState) Type() MessageType      { return MessageGetParticipantState }
func (ParticipantStateResponse) Type() MessageType { return MessageParticipantStateResponse }

func (m CreateGame) CorrelationID() GameID               { return m.GameID }
func (m AddParticipant) CorrelationID() GameID           { return m.GameID }
func (m StartGame) CorrelationID() GameID                { return m.GameID }
func (m FetchQuestions) CorrelationID() GameID           { return m.GameID }
func (m QuestionsFetched) CorrelationID() GameID         { return m.GameID }
func (m FetchQuestionsFailed) CorrelationID() GameID     { return m.GameID }
func (m RetryFetchQuestions) CorrelationID() GameID      { return m.GameID }
func (m AnswerQuestion) CorrelationID() GameID           { return m.GameID }
func (m CloseCurrentQuestion) CorrelationID() GameID     { return m.GameID }
func (m NextQuestion) CorrelationID() GameID             { return m.GameID }
func (m GetParticipantState) CorrelationID() GameID      { return m.GameID }
func (m ParticipantStateResponse) CorrelationID() GameID { return m.GameID }

// Envelope is the wire form of a message
type Envelope struct {
	ID          string          `json:"id"`
	Type        MessageType     `json:"type"`
	GameID      GameID          `json:"gameId"`
	PublishedAt time.Time       `json:"publishedAt"`
	Payload     json.RawMessage `json:"payload"`
}

// Seal wraps a message in an envelope
func Seal(id string, msg Message, publishedAt time.Time) (Envelope, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s: %w", msg.Type(), err)
	}
	return Envelope{
		ID:          id,
		Type:        msg.Type(),
		GameID:      msg.CorrelationID(),
		PublishedAt: publishedAt,
		Payload:     payload,
	}, nil
}

// Open decodes the message carried by an envelope
func (e Envelope) Open() (Message, error) {
	var msg Message
	switch e.Type {
	case MessageCreateGame:
		msg = &CreateGame{}
	case MessageAddParticipant:
		msg = &AddParticipant{}
	case MessageStartGame:
		msg = &StartGame{}
	case MessageFetchQuestions:
		msg = &FetchQuestions{}
	case MessageQuestionsFetched:
		msg = &QuestionsFetched{}
	case MessageFetchQuestionsFailed:
		msg = &FetchQuestionsFailed{}
	case MessageRetryFetchQuestions:
		msg = &RetryFetchQuestions{}
	case MessageAnswerQuestion:
		msg = &AnswerQuestion{}
	case MessageCloseCurrentQuestion:
		msg = &CloseCurrentQuestion{}
	case MessageNextQuestion:
		msg = &NextQuestion{}
	case MessageGetParticipantState:
		msg = &GetParticipantState{}
	case MessageParticipantStateResponse:
		msg = &ParticipantStateResponse{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, e.Type)
	}

	if err := json.Unmarshal(e.Payload, msg); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", e.Type, err)
	}
	return deref(msg), nil
}

// deref returns the value form of a decoded message so type switches match on values
func deref(msg Message) Message {
	switch m := msg.(type) {
	case *CreateGame:
		return *m
	case *AddParticipant:
		return *m
	case *StartGame:
		return *m
	case *FetchQuestions:
		return *m
	case *QuestionsFetched:
		return *m
	case *FetchQuestionsFailed:
		return *m
	case *RetryFetchQuestions:
		return *m
	case *AnswerQuestion:
		return *m
	case *CloseCurrentQuestion:
		return *m
	case *NextQuestion:
		return *m
	case *GetParticipantState:
		return *m
	case *ParticipantStateResponse:
		return *m
	}
	return msg
}

// TimerMessage builds the message a fired timer delivers
func TimerMessage(t Timer) (Message, error) {
	seq := t.Seq
	switch t.Kind {
	case MessageCloseCurrentQuestion:
		return CloseCurrentQuestion{GameID: t.GameID, QuestionIndex: &seq}, nil
	case MessageNextQuestion:
		return NextQuestion{GameID: t.GameID, QuestionIndex: &seq}, nil
	case MessageRetryFetchQuestions:
		return RetryFetchQuestions{GameID: t.GameID, Attempt: &seq}, nil
	default:
		return nil, fmt.Errorf("%w: %q is not a timer message", ErrUnknownMessageType, t.Kind)
	}
}
