package openai

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Upstream failure classes, mapped to HTTP statuses by the handlers.
var (
	ErrAuth      = errors.New("ai provider auth failed")
	ErrRateLimit = errors.New("ai provider rate limited")
	ErrUpstream  = errors.New("ai provider unavailable")
)

type Client struct {
	api   *openai.Client
	Model string
}

const defaultModel = "gpt-4o-mini"

func NewClient() *Client {
	key := os.Getenv("OPENAI_API_KEY")
	model := os.Getenv("OPENAI_MODEL")
	if model == "" {
		model = defaultModel
	}
	return &Client{api: openai.NewClient(key), Model: model}
}

// scriptPrompt is the Shorts CTA template: a hook question, four one-word
// options with short explanations, and a comment-bait closer.
func scriptPrompt(topic string) string {
	return fmt.Sprintf(`Create an engaging YouTube Shorts script about %s.
The script must follow this EXACT format with line breaks (do not include any other text or formatting):

"[An engaging question about the theme that hooks viewers]"

"[First Option]: [One word] - [2-3 word compelling explanation]"

"[Second Option]: [One word] - [2-3 word compelling explanation]"

"[Third Option]: [One word] - [2-3 word compelling explanation]"

"[Fourth Option]: [One word] - [2-3 word compelling explanation]"

"[One engaging line that includes both a call-to-action to comment and a FOMO-inducing statement]"

Example format:
"Calling all Yamaha enthusiasts! Which beast do you love the most?"

"YZF-R1: Unleash the racing spirit."

"MT-10: Master the urban jungle."

"XSR900: The modern-classic outlaw."

"Niken: Conquer the curves with three wheels."

"Share your choice and let's ride together!"

Follow this format exactly with double quote, keeping options concise with one primary word followed by a short explanation. Make the CTA engaging and include both a comment prompt and FOMO element. Use conversational, TikTok-style language.`, topic)
}

var boldRe = regexp.MustCompile(`\*\*(.*?)\*\*`)

// sanitize strips markdown bold markers the model sometimes adds despite the
// format instructions.
func sanitize(s string) string {
	return strings.TrimSpace(boldRe.ReplaceAllString(s, "$1"))
}

func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case 401, 403:
			return fmt.Errorf("%w: %v", ErrAuth, err)
		case 429:
			return fmt.Errorf("%w: %v", ErrRateLimit, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrUpstream, err)
}

// GenerateScript produces a complete Shorts script for a topic.
func (c *Client) GenerateScript(ctx context.Context, topic string) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.Model,
		Temperature: 0.7,
		MaxTokens:   1024,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: scriptPrompt(topic)},
		},
	})
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty response", ErrUpstream)
	}
	script := sanitize(resp.Choices[0].Message.Content)
	if script == "" {
		return "", fmt.Errorf("%w: empty response", ErrUpstream)
	}
	return script, nil
}

// StreamScript streams the script token-by-token for SSE delivery.
func (c *Client) StreamScript(ctx context.Context, topic string) (<-chan string, error) {
	stream, err := c.api.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       c.Model,
		Temperature: 0.7,
		MaxTokens:   1024,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: scriptPrompt(topic)},
		},
	})
	if err != nil {
		return nil, classify(err)
	}

	ch := make(chan string)

	go func() {
		defer stream.Close()
		defer close(ch)
		for {
			resp, err := stream.Recv()
			if err != nil {
				break
			}
			if len(resp.Choices) > 0 {
				ch <- resp.Choices[0].Delta.Content
			}
		}
	}()

	return ch, nil
}
