package mocks

import (
	"context"
	"sync"

	"github.com/mcoot/triviagame/internal/model"
)

// RecordingPublisher collects published messages for assertions
type RecordingPublisher struct {
	mu       sync.Mutex
	messages []model.Message

	// Err, when set, is returned from Publish and nothing is recorded
	Err error
}

// NewRecordingPublisher creates an empty RecordingPublisher
func NewRecordingPublisher() *RecordingPublisher {
	return &RecordingPublisher{}
}

// Publish records msg
func (p *RecordingPublisher) Publish(ctx context.Context, msg model.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.messages = append(p.messages, msg)
	return nil
}

// Messages returns everything published so far
func (p *RecordingPublisher) Messages() []model.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.Message{}, p.messages...)
}

// Reset forgets recorded messages
func (p *RecordingPublisher) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = nil
}
