package models

// FinishReason is the canonical vocabulary for why a model turn ended.
// Converters map provider values onto it with pure lookup tables; unmapped
// provider values become Unspecified rather than an error.
type FinishReason string

const (
	FinishReasonUnspecified FinishReason = "FINISH_REASON_UNSPECIFIED"
	FinishReasonStop        FinishReason = "STOP"
	FinishReasonMaxTokens   FinishReason = "MAX_TOKENS"
	FinishReasonSafety      FinishReason = "SAFETY"
	FinishReasonRecitation  FinishReason = "RECITATION"
	FinishReasonOther       FinishReason = "OTHER"
)
