package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"gwi.com/live-replay/internal/store"
)

const (
	defaultChatModelName = "gemini-1.5-flash-latest"
	historyWindow        = 5

	chatSystemInstruction = "You are the assistant of a live multimodal session replay tool. " +
		"Help the user understand their recorded sessions and answer general questions concisely. " +
		"Do not make up information about sessions you were not told about."

	titleSystemInstruction = "You are a helpful assistant that generates concise titles for chat conversations. " +
		"The title should be 3-5 words maximum. Just return the title itself, nothing else."

	emptyReplyNotice = "I'm sorry, I couldn't generate a response at this time. Please try again."
)

// Responder produces model replies and chat titles.
type Responder interface {
	// Reply answers the last message of history, which must be from the user.
	Reply(ctx context.Context, history []store.Message) (string, error)
	Title(ctx context.Context, basis string) (string, error)
}

// LLMService talks to Gemini through the generative-ai-go client.
type LLMService struct {
	client *genai.Client
	model  string
	logger *slog.Logger
}

var _ Responder = (*LLMService)(nil)

func NewLLMService(ctx context.Context, apiKey, model string, logger *slog.Logger) (*LLMService, error) {
	if apiKey == "" {
		return nil, errors.New("gemini api key is empty")
	}
	if model == "" {
		model = defaultChatModelName
	}
	if logger == nil {
		logger = slog.Default()
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &LLMService{client: client, model: model, logger: logger}, nil
}

func (s *LLMService) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// Reply sends the trailing window of history as a chat session.
func (s *LLMService) Reply(ctx context.Context, history []store.Message) (string, error) {
	contents := BuildPromptHistory(history, historyWindow)
	if len(contents) == 0 {
		return "", fmt.Errorf("prompt history is empty for chat completion")
	}
	last := contents[len(contents)-1]
	if last.Role != "user" {
		return "", fmt.Errorf("last message in history is not from 'user', cannot proceed with chat completion")
	}

	model := s.client.GenerativeModel(s.model)
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(chatSystemInstruction)}}
	session := model.StartChat()
	session.History = contents[:len(contents)-1]

	resp, err := session.SendMessage(ctx, last.Parts...)
	if err != nil {
		return "", fmt.Errorf("gemini chat SendMessage failed: %w", err)
	}
	text := responseText(resp)
	if text == "" {
		s.logger.Warn("gemini response was empty or had no text parts")
		return emptyReplyNotice, nil
	}
	return text, nil
}

func (s *LLMService) Title(ctx context.Context, basis string) (string, error) {
	model := s.client.GenerativeModel(s.model)
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(titleSystemInstruction)}}
	temp := float32(0.3)
	maxTokens := int32(20)
	model.GenerationConfig = genai.GenerationConfig{MaxOutputTokens: &maxTokens, Temperature: &temp}

	prompt := fmt.Sprintf("Generate a very concise title (3-5 words maximum) for a conversation that starts with or is about: %q.", basis)
	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini title generation request failed: %w", err)
	}
	title := CleanTitle(responseText(resp))
	if title == "" {
		return "", fmt.Errorf("LLM generated an empty title string")
	}
	return title, nil
}

// BuildPromptHistory maps the newest window messages to Gemini contents.
// Senders other than "user" are sent as the model role.
func BuildPromptHistory(messages []store.Message, window int) []*genai.Content {
	if window > 0 && len(messages) > window {
		messages = messages[len(messages)-window:]
	}
	contents := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		role := "model"
		if msg.Sender == "user" {
			role = "user"
		}
		contents = append(contents, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(msg.Content)}})
	}
	return contents
}

// CleanTitle strips the quotes and punctuation models like to wrap titles in.
func CleanTitle(title string) string {
	return strings.Trim(title, "\"'\n\r\t .")
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return b.String()
}
