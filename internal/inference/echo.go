package inference

import "context"

// Echo answers every prompt with "Echo: <prompt>". Development only.
type Echo struct{}

func (Echo) Generate(_ context.Context, prompt string) (string, error) {
	return "Echo: " + prompt, nil
}
