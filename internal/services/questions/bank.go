package questions

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/mcoot/triviagame/internal/dependencies/random"
	"github.com/mcoot/triviagame/internal/model"
)

//go:embed bank.json
var defaultBank []byte

// Bank is a Source serving questions from a local list
type Bank struct {
	random random.Random

	mu        sync.RWMutex
	questions []model.Question
}

// Ensure Bank implements Source
var _ Source = (*Bank)(nil)

// NewBank creates a Bank loaded with the built-in questions
func NewBank(rnd random.Random) (*Bank, error) {
	b := &Bank{random: rnd}
	if err := b.load(defaultBank); err != nil {
		return nil, fmt.Errorf("load built-in question bank: %w", err)
	}
	return b, nil
}

// NewBankWithQuestions creates a Bank over the given questions
func NewBankWithQuestions(rnd random.Random, questions []model.Question) *Bank {
	return &Bank{random: rnd, questions: append([]model.Question{}, questions...)}
}

// LoadFromFile replaces the bank with the questions in a JSON file
func (b *Bank) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return b.load(data)
}

func (b *Bank) load(data []byte) error {
	var questions []model.Question
	if err := json.Unmarshal(data, &questions); err != nil {
		return err
	}

	valid := questions[:0]
	for _, q := range questions {
		if strings.TrimSpace(q.Text) == "" || strings.TrimSpace(q.CorrectAnswer) == "" {
			continue
		}
		valid = append(valid, q)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.questions = valid
	return nil
}

// Size returns the number of questions in the bank
func (b *Bank) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.questions)
}

// Fetch returns up to count distinct questions in random order
func (b *Bank) Fetch(ctx context.Context, count int) ([]model.Question, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.RLock()
	picked := make([]model.Question, len(b.questions))
	copy(picked, b.questions)
	b.mu.RUnlock()

	random.Shuffle(b.random, picked)
	if count > 0 && count < len(picked) {
		picked = picked[:count]
	}
	return picked, nil
}
