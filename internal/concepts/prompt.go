package concepts

import (
	"fmt"
	"strings"
)

const extractionInstructions = `You are given the abstract of an academic paper. Extract the key concepts a reader would need defined to understand the paper.

Rules:
- Extract between 3 and 10 concepts.
- A concept name is a short noun phrase exactly as it appears in the abstract (preserve casing of acronyms).
- Do not extract generic research vocabulary ("method", "results", "evaluation").
- For each concept provide one or more content entries, each with a short label (e.g. "Definition", "Why it matters") and a one- or two-sentence value written for a non-expert.

Return only the structured response.`

// extractionSchema constrains the model to the concepts list shape. Every
// object forbids additional properties, as strict structured output
// requires.
const extractionSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["concepts"],
  "properties": {
    "concepts": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["name", "contents"],
        "properties": {
          "name": {"type": "string"},
          "contents": {
            "type": "array",
            "items": {
              "type": "object",
              "additionalProperties": false,
              "required": ["label", "value"],
              "properties": {
                "label": {"type": "string"},
                "value": {"type": "string"}
              }
            }
          }
        }
      }
    }
  }
}`

func extractionPrompt(abstract string) string {
	var sb strings.Builder
	sb.WriteString(extractionInstructions)
	sb.WriteString("\n\n---\n")
	sb.WriteString(fmt.Sprintf("Abstract:\n%s\n", strings.TrimSpace(abstract)))
	return sb.String()
}
