package selector

// DefaultModels returns the built-in model descriptors.
func DefaultModels() []ModelDescriptor {
	return []ModelDescriptor{
		{ID: "gemini-3-flash", RPM: 5, TPM: 250000, RPD: 20},
		{ID: "gemini-2.5-flash", RPM: 5, TPM: 250000, RPD: 20},
		{ID: "gemini-2.5-flash-lite", RPM: 10, TPM: 250000, RPD: 20},
		{ID: "gemma-3-27b", RPM: 30, TPM: 15000, RPD: 14400},
		{ID: "gemma-3-12b", RPM: 30, TPM: 15000, RPD: 14400},
		{ID: "gemma-3-4b", RPM: 30, TPM: 15000, RPD: 14400},
	}
}

// DefaultChains returns the built-in ordered model chain per task type.
func DefaultChains() map[TaskType][]string {
	complexChain := []string{"gemini-3-flash", "gemini-2.5-flash", "gemini-2.5-flash-lite", "gemma-3-27b"}
	shortChain := []string{"gemini-2.5-flash-lite", "gemma-3-4b", "gemma-3-27b"}
	return map[TaskType][]string{
		TaskCoding:  complexChain,
		TaskComplex: append([]string(nil), complexChain...),
		TaskShort:   shortChain,
		TaskAudio:   {"gemini-2.5-flash", "gemini-2.5-flash-lite"},
		TaskChat:    {"gemini-2.5-flash-lite", "gemini-3-flash", "gemma-3-27b", "gemma-3-12b"},
	}
}
