package models

// EstimateTokens is the character-count heuristic used when a precise
// tokenizer is unavailable: ceil(len/4). It never fails.
func EstimateTokens(serialized string) int {
	return (len(serialized) + 3) / 4
}

// TextForCounting flattens a request's textual content for token counting:
// system instruction, then every part's text and serialized call names.
func (r *Generate_Request) TextForCounting() string {
	out := r.SystemInstruction
	for _, content := range r.Contents {
		for _, part := range content.Parts {
			if part.Text != "" {
				out += part.Text
			}
			if part.FunctionCall != nil {
				out += part.FunctionCall.Name
			}
			if part.FunctionResponse != nil {
				out += part.FunctionResponse.Name
			}
		}
	}
	return out
}
