package models

const (
	// NoInformationAnswer is returned whenever the confidence gate rejects a question
	NoInformationAnswer = "I don't have that information in the provided documents."
	ContextSeparator    = "\n"
	ContextBlockFormat  = "[source: %s, page: %s, score: %.3f]\n%s\n"
	UnknownSource       = "unknown"
	UnknownPage         = "n/a"
)

var (
	SystemPrompt = `You are a strict company-documents chatbot.
Rules:
- Use ONLY the provided CONTEXT from company documents.
- If the answer is not in the context, say you don't have that information in the provided documents.
- Do NOT guess, do NOT use outside knowledge.
- Always include citations in the form: [source: <file>, page: <n>]
`

	UserPromptTemplate = `CONTEXT:
%s

QUESTION:
%s`
)
