package dispatcher

// ModelClass is the tier an agent asks for rather than a concrete model
// id, letting operators re-bind tiers to providers without touching
// agent code.
type ModelClass string

const (
	ClassFast        ModelClass = "fast"
	ClassMid         ModelClass = "mid"
	ClassIntelligent ModelClass = "intelligent"
	ClassVerifier    ModelClass = "verifier"
)

// Binding ties a model class to a concrete provider endpoint and pricing.
type Binding struct {
	Class       ModelClass
	ModelID     string
	Endpoint    string
	APIKeyEnv   string
	MaxTokens   int
	Temperature float64
	Pricing     Pricing
}

// Pricing is cost per 1M tokens in USD, keyed per tier binding.
type Pricing struct {
	InputPer1M  float64
	OutputPer1M float64
}

// DefaultBindings routes small classification/extraction calls to a
// cheap model and the writing passes to a stronger one, using widely
// available OpenRouter-hosted models.
func DefaultBindings() map[ModelClass]Binding {
	return map[ModelClass]Binding{
		ClassFast: {
			Class: ClassFast, ModelID: "openai/gpt-4o-mini", Endpoint: openRouterURL,
			APIKeyEnv: "OPENROUTER_API_KEY", MaxTokens: 4096, Temperature: 0.3,
			Pricing: Pricing{InputPer1M: 0.15, OutputPer1M: 0.60},
		},
		ClassMid: {
			Class: ClassMid, ModelID: "alibaba/tongyi-deepresearch-30b-a3b", Endpoint: openRouterURL,
			APIKeyEnv: "OPENROUTER_API_KEY", MaxTokens: 8192, Temperature: 0.7,
			Pricing: Pricing{InputPer1M: 0.50, OutputPer1M: 0.50},
		},
		ClassIntelligent: {
			Class: ClassIntelligent, ModelID: "anthropic/claude-3.5-sonnet", Endpoint: openRouterURL,
			APIKeyEnv: "OPENROUTER_API_KEY", MaxTokens: 8192, Temperature: 0.7,
			Pricing: Pricing{InputPer1M: 3.00, OutputPer1M: 15.00},
		},
		ClassVerifier: {
			Class: ClassVerifier, ModelID: "anthropic/claude-3-haiku", Endpoint: openRouterURL,
			APIKeyEnv: "OPENROUTER_API_KEY", MaxTokens: 2048, Temperature: 0.0,
			Pricing: Pricing{InputPer1M: 0.25, OutputPer1M: 1.25},
		},
	}
}

// CalculateCost computes cost from token counts against a binding's
// pricing table.
func CalculateCost(b Binding, inputTokens, outputTokens int) (inputCost, outputCost, totalCost float64) {
	inputCost = float64(inputTokens) * b.Pricing.InputPer1M / 1_000_000
	outputCost = float64(outputTokens) * b.Pricing.OutputPer1M / 1_000_000
	totalCost = inputCost + outputCost
	return
}
