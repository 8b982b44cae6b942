package translate

import (
	"strings"
)

// PromptTemplate is the fixed translation instruction. {language} and {text}
// are substituted by BuildPrompt.
const PromptTemplate = `
- you are a professional translator
- translate the provided content into {language}
- only respond with the translation
{text}
`

// BuildPrompt fills the template for one chunk.
func BuildPrompt(language, chunkText string) string {
	if language == "" {
		language = "English"
	}
	r := strings.NewReplacer("{language}", language, "{text}", chunkText)
	return r.Replace(PromptTemplate)
}
