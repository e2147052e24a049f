package llm

// Per-million-token prices in USD millionths, by model prefix. Unknown
// models fall back to the gpt-4o-mini rate so cost accounting never
// silently records zero.
var (
	inputMicrosPerMTok = map[string]int64{
		"gpt-4o":      2_500_000,
		"gpt-4o-mini": 150_000,
	}
	outputMicrosPerMTok = map[string]int64{
		"gpt-4o":      10_000_000,
		"gpt-4o-mini": 600_000,
	}
)

const (
	defaultInputMicrosPerMTok  = 150_000
	defaultOutputMicrosPerMTok = 600_000
)

// CostMicros converts token counts for a model into USD millionths.
func CostMicros(model string, inputTokens, outputTokens int) int64 {
	in, ok := inputMicrosPerMTok[model]
	if !ok {
		in = defaultInputMicrosPerMTok
	}
	out, ok := outputMicrosPerMTok[model]
	if !ok {
		out = defaultOutputMicrosPerMTok
	}
	return int64(inputTokens)*in/1_000_000 + int64(outputTokens)*out/1_000_000
}

// EstimateTokens approximates the token count of text for budget pre-checks.
// Four characters per token is close enough for an upper-bound reservation.
func EstimateTokens(text string) int {
	n := len(text)/4 + 1
	return n
}
