package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/mcoot/triviagame/internal/api/response"
)

// Output handles formatting output based on the configured format
type Output struct {
	format string
	w      io.Writer
}

// NewOutput creates a new Output formatter writing to w
func NewOutput(format string, w io.Writer) *Output {
	return &Output{format: format, w: w}
}

// Print outputs data in the configured format
func (o *Output) Print(data any) {
	if o.format == "json" {
		o.printJSON(data)
	} else {
		o.printText(data)
	}
}

// PrintMessage outputs a simple message
func (o *Output) PrintMessage(msg string) {
	if o.format == "json" {
		data, _ := json.Marshal(map[string]string{"message": msg})
		_, _ = fmt.Fprintln(o.w, string(data))
	} else {
		_, _ = fmt.Fprintln(o.w, msg)
	}
}

func (o *Output) printJSON(data any) {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(data)
}

func (o *Output) printText(data any) {
	switch v := data.(type) {
	case response.CreateGameResponse:
		o.printf("Game: %s\n", v.GameID)
	case response.Accepted:
		o.printAccepted(v)
	case response.ParticipantState:
		o.printParticipantState(v)
	case HealthResult:
		o.printHealthResult(v)
	default:
		o.printJSON(data)
	}
}

// HealthResult response type
type HealthResult struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (o *Output) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(o.w, format, args...)
}

func (o *Output) printAccepted(a response.Accepted) {
	o.printf("Game: %s\n", a.GameID)
	if a.ParticipantID != "" {
		o.printf("Participant: %s\n", a.ParticipantID)
	}
	o.printf("%s\n", a.Message)
}

func (o *Output) printParticipantState(s response.ParticipantState) {
	o.printf("Game: %s\n", s.GameID)
	o.printf("State: %s\n", s.State)
	if s.Stalled {
		o.printf("Question fetch gave up after %d attempts: %s\n", s.FetchAttempts, s.LastFetchError)
	} else if s.FetchAttempts > 0 {
		o.printf("Question fetch attempts: %d (last error: %s)\n", s.FetchAttempts, s.LastFetchError)
	}

	if q := s.CurrentQuestion; q != nil {
		o.printf("\nQuestion %d: %s\n", q.Index+1, q.Text)
		for i, a := range q.Answers {
			o.printf("  %c) %s\n", 'a'+i, a)
		}
	} else if s.CurrentQuestionIndex != nil {
		o.printf("Current question: %d\n", *s.CurrentQuestionIndex+1)
	}

	if len(s.Responses) > 0 {
		scores := make(map[int]int, len(s.Scores))
		for _, sc := range s.Scores {
			scores[sc.QuestionIndex] = sc.Score
		}
		o.printf("\nAnswers:\n")
		for _, r := range s.Responses {
			if score, ok := scores[r.QuestionIndex]; ok {
				o.printf("  %d. %s (%+d)\n", r.QuestionIndex+1, r.Answer, score)
			} else {
				o.printf("  %d. %s\n", r.QuestionIndex+1, r.Answer)
			}
		}
	}
	o.printf("\nTotal score: %d\n", s.TotalScore)
}

func (o *Output) printHealthResult(h HealthResult) {
	o.printf("Status: %s\n", h.Status)
	names := make([]string, 0, len(h.Checks))
	for name := range h.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		o.printf("  %s: %s\n", name, strings.TrimSpace(h.Checks[name]))
	}
}
