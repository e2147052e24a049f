package module

import (
	"context"

	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/intent"
)

// GoodbyeHandler closes the conversation: a farewell reply plus the
// EndSession flag so the engine retires the session. The next message from
// the same contact starts a fresh session.
type GoodbyeHandler struct{}

func (GoodbyeHandler) Name() string { return intent.ModuleGoodbye }

func (GoodbyeHandler) Handle(_ context.Context, req *Request) (Result, error) {
	return Result{
		ReplyText:       "Thanks for getting in touch. Have a great day!",
		EndSession:      true,
		MetadataUpdates: map[string]any{"sessionEnded": true},
	}, nil
}
