package llm

// tokenRate is the USD price per 1K tokens, split by direction.
type tokenRate struct {
	In  float64
	Out float64
}

// rates holds per-model unit prices. Unknown models fall back to
// defaultRate so cost accounting never silently records zero.
var rates = map[string]tokenRate{
	"gpt-4o":                     {In: 0.0025, Out: 0.01},
	"gpt-4o-mini":                {In: 0.00015, Out: 0.0006},
	"gpt-4-turbo":                {In: 0.01, Out: 0.03},
	"gpt-4":                      {In: 0.03, Out: 0.06},
	"gpt-3.5-turbo":              {In: 0.0005, Out: 0.0015},
	"claude-3-5-sonnet-20241022": {In: 0.003, Out: 0.015},
	"claude-3-5-haiku-20241022":  {In: 0.0008, Out: 0.004},
	"claude-3-opus-20240229":     {In: 0.015, Out: 0.075},
	"claude-3-haiku-20240307":    {In: 0.00025, Out: 0.00125},
}

var defaultRate = tokenRate{In: 0.003, Out: 0.015}

// Cost computes the USD cost of an invocation from its token counts.
func Cost(model string, tokensIn, tokensOut int) float64 {
	rate, ok := rates[model]
	if !ok {
		rate = defaultRate
	}
	return float64(tokensIn)/1000*rate.In + float64(tokensOut)/1000*rate.Out
}
