package models

// Generate_Response is the canonical response shape. A full (non-streaming)
// response is a single value; a stream is an ordered sequence of these, where
// zero or more carry parts and exactly one terminal chunk carries the final
// finish reason and usage.
type Generate_Response struct {
	ResponseID    string         `json:"response_id,omitempty"`
	Model         string         `json:"model,omitempty"`
	Candidates    []Candidate    `json:"candidates"`
	UsageMetadata *UsageMetadata `json:"usageMetadata,omitempty"`
}

type Candidate struct {
	Content      Content      `json:"content"`
	FinishReason FinishReason `json:"finishReason,omitempty"`
}

type UsageMetadata struct {
	PromptTokenCount        int `json:"promptTokenCount"`
	CachedContentTokenCount int `json:"cachedContentTokenCount,omitempty"`
	CandidatesTokenCount    int `json:"candidatesTokenCount"`
	TotalTokenCount         int `json:"totalTokenCount"`
}

// Parts returns the parts of the first candidate, or nil.
func (r *Generate_Response) Parts() []Part {
	if r == nil || len(r.Candidates) == 0 {
		return nil
	}
	return r.Candidates[0].Content.Parts
}

// FinishReason returns the first candidate's finish reason, or the empty value.
func (r *Generate_Response) FinishReason() FinishReason {
	if r == nil || len(r.Candidates) == 0 {
		return ""
	}
	return r.Candidates[0].FinishReason
}

// Empty reports whether the response carries no parts, no finish reason and
// no usage. Providers emit such keep-alive chunks; the pipeline drops them.
func (r *Generate_Response) Empty() bool {
	return len(r.Parts()) == 0 && r.FinishReason() == "" && r.UsageMetadata == nil
}

// Text concatenates the visible (non-thought) text of the first candidate.
func (r *Generate_Response) Text() string {
	var out string
	for _, p := range r.Parts() {
		if p.Text != "" && !p.Thought {
			out += p.Text
		}
	}
	return out
}

// FunctionCalls collects the function calls of the first candidate.
func (r *Generate_Response) FunctionCalls() []FunctionCall {
	var calls []FunctionCall
	for _, p := range r.Parts() {
		if p.FunctionCall != nil {
			calls = append(calls, *p.FunctionCall)
		}
	}
	return calls
}
