package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const systemPrompt = "You are a friendly medical clinic phone assistant making " +
	"appointment confirmation calls. Keep every reply to two or three spoken " +
	"sentences, address the patient by name, and never invent appointment details."

type OpenAIClient struct {
	client *openai.Client
	model  string
}

func NewOpenAIClient(apiKey, model string) *OpenAIClient {
	return &OpenAIClient{
		client: openai.NewClient(apiKey),
		model:  model,
	}
}

func (c *OpenAIClient) Generate(ctx context.Context, req Request) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		MaxTokens:   200,
		Temperature: 0.7,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt(req)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty completion", ErrUnavailable)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func userPrompt(req Request) string {
	var b strings.Builder
	switch req.Action {
	case ActionGreet:
		fmt.Fprintf(&b, "Greet %s and tell them about their appointment on %s at %s. ",
			req.PatientName, req.AppointmentDate, req.AppointmentTime)
		if req.Notes != "" {
			fmt.Fprintf(&b, "Appointment notes: %s. ", req.Notes)
		}
		b.WriteString("Ask whether they would like to confirm, reschedule, or cancel.")
	case ActionConfirm:
		fmt.Fprintf(&b, "%s chose to confirm the appointment. Acknowledge it warmly and close the call.", req.PatientName)
	case ActionReschedule:
		fmt.Fprintf(&b, "%s asked to reschedule. Tell them the team will arrange a new time and close the call.", req.PatientName)
	case ActionCancel:
		fmt.Fprintf(&b, "%s chose to cancel. Confirm the cancellation politely and close the call.", req.PatientName)
	}
	return b.String()
}
