package prompts

const DefaultSystem = "You are a prospective customer in a sales roleplay. Stay in character, raise realistic objections, and keep every reply short and conversational, as if speaking on a phone call."

// ForSession resolves the final system prompt for a voice session.
func ForSession(systemPrompt string) string {
	if systemPrompt != "" {
		return systemPrompt
	}
	return DefaultSystem
}
