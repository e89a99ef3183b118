package intent

import (
	"fmt"
	"strings"

	"github.com/ashureev/postreview/internal/llmjson"
)

const extractionSchema = `{
  "type": "object",
  "required": ["category", "entities"],
  "properties": {
    "category": {
      "enum": ["add-location", "change-event-type", "add-scheme", "add-people", "generate-hashtags",
               "validate-data", "get-suggestions", "edit-field", "approve-changes", "reject-changes",
               "clear-data", "help", "unknown"]
    },
    "entities": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "locations":   {"type": "array", "items": {"type": "string"}},
        "event_types": {"type": "array", "items": {"type": "string"}},
        "schemes":     {"type": "array", "items": {"type": "string"}},
        "people":      {"type": "array", "items": {"type": "string"}},
        "hashtags":    {"type": "array", "items": {"type": "string"}},
        "numbers":     {"type": "array", "items": {"type": "string"}},
        "dates":       {"type": "array", "items": {"type": "string"}}
      }
    },
    "actions": {
      "type": "array",
      "items": {
        "enum": ["addLocation", "changeEventType", "suggestEventType", "addScheme", "addPeople",
                 "generateHashtags", "validateData", "generateSuggestions", "learnFromCorrection",
                 "approveChanges", "rejectChanges", "clearField", "showHelp"]
      }
    },
    "confidence": {"type": "number", "minimum": 0, "maximum": 1}
  }
}`

var extractionDecoder = llmjson.MustCompile("intent-extraction.json", []byte(extractionSchema))

// extraction is the structured output requested from a backend.
type extraction struct {
	Category   string              `json:"category"`
	Entities   map[string][]string `json:"entities"`
	Actions    []string            `json:"actions"`
	Confidence float64             `json:"confidence"`
}

const extractionSystem = "You extract structured review instructions from messages written in Hindi, English or a mix of both. " +
	"Reply with a single JSON object and nothing else."

func extractionPrompt(message string) string {
	var b strings.Builder
	b.WriteString("Classify the reviewer message and extract entities.\n")
	b.WriteString(`Return {"category": string, "entities": {"locations": [], "event_types": [], "schemes": [], "people": [], "hashtags": [], "numbers": [], "dates": []}, "actions": [], "confidence": number}.`)
	b.WriteString("\nKeep place names in the script they were written in.\n")
	fmt.Fprintf(&b, "Message: %q\n", message)
	return b.String()
}
