// Package triviaapi is a client for the-trivia-api.com v2.
package triviaapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/mcoot/triviagame/internal/model"
)

const (
	DefaultBaseURL = "https://the-trivia-api.com"
	defaultLimit   = 10
)

type apiQuestionText struct {
	Text string `json:"text"`
}

type apiQuestion struct {
	ID               string          `json:"id"`
	Category         string          `json:"category"`
	CorrectAnswer    string          `json:"correctAnswer"`
	IncorrectAnswers []string        `json:"incorrectAnswers"`
	Question         apiQuestionText `json:"question"`
	Difficulty       string          `json:"difficulty"`
}

// Client fetches questions from the-trivia-api
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a client. A nil httpClient uses http.DefaultClient.
func NewClient(httpClient *http.Client, baseURL string) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{httpClient: httpClient, baseURL: baseURL}
}

// Fetch requests limit questions
func (c *Client) Fetch(ctx context.Context, limit int) ([]model.Question, error) {
	if limit <= 0 {
		limit = defaultLimit
	}

	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	reqURL := c.baseURL + "/v2/questions?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("trivia api request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("trivia api returned status %d", resp.StatusCode)
	}

	var payload []apiQuestion
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode trivia api response: %w", err)
	}

	questions := make([]model.Question, 0, len(payload))
	for _, p := range payload {
		if p.Question.Text == "" || p.CorrectAnswer == "" {
			continue
		}
		questions = append(questions, model.Question{
			Index:            len(questions),
			Text:             p.Question.Text,
			CorrectAnswer:    p.CorrectAnswer,
			IncorrectAnswers: p.IncorrectAnswers,
			Category:         p.Category,
			Difficulty:       p.Difficulty,
		})
	}
	return questions, nil
}
