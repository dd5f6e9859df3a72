package dispatcher

// configurationErrorMessage gives the user-facing guidance for a 401
// from the provider: point at the settings surface and name the
// supported provider options instead of surfacing a raw status code.
func configurationErrorMessage() string {
	return "API key is missing or invalid. Configure a provider under " +
		"Settings > AI Config: OpenRouter (recommended, a single key covers " +
		"most hosted models), OpenAI direct, or a custom OpenAI-compatible " +
		"endpoint. Save your credentials there and retry."
}

// quotaErrorMessage gives the user-facing guidance for a 403:
// billing/credits exhausted, not a bug.
func quotaErrorMessage() string {
	return "The model provider rejected this request for billing reasons " +
		"(credits exhausted or a plan limit reached). Check your provider's " +
		"usage dashboard, add credits, or switch providers under Settings > " +
		"AI Config, then retry."
}
