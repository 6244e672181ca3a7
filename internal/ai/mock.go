package ai

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/pribylovaa/command-my-startup/internal/models"
)

// Mock отвечает эхом промпта без обращения к сети.
type Mock struct {
	name string
}

func NewMock(name string) *Mock { return &Mock{name: name} }

func (m *Mock) Name() string { return m.name + "-mock" }

func (m *Mock) Complete(_ context.Context, req models.CommandRequest) (*models.Completion, error) {
	prompt := req.Prompt
	if utf8.RuneCountInString(prompt) > 50 {
		prompt = string([]rune(prompt)[:50]) + "..."
	}

	content := fmt.Sprintf("This is a mock %s response. Your prompt was: %s", m.name, prompt)

	return &models.Completion{
		Content:    content,
		Model:      req.Model,
		TokensUsed: len(strings.Fields(req.Prompt)) + len(strings.Fields(content)),
	}, nil
}
