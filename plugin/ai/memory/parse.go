package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrInvalidExtraction is returned when model output is not a JSON array of strings.
var ErrInvalidExtraction = errors.New("extraction output is not a JSON array of strings")

const extractionSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "array",
	"maxItems": 20,
	"items": {"type": "string"}
}`

var extractionValidator = jsonschema.MustCompileString("mirrord://memory/extraction.json", extractionSchema)

// ParseMemories decodes the model's reply into candidate memories. Models
// sometimes wrap the array in prose or code fences, so decoding starts at
// each '[' in turn and the first value that is an array of strings wins.
func ParseMemories(text string) ([]string, error) {
	lastErr := errors.New("no JSON array found")
	for offset := 0; offset < len(text); {
		i := strings.IndexByte(text[offset:], '[')
		if i < 0 {
			break
		}
		offset += i

		memories, err := decodeMemories(text[offset:])
		if err == nil {
			return memories, nil
		}
		lastErr = err
		offset++
	}
	return nil, fmt.Errorf("%w: %v", ErrInvalidExtraction, lastErr)
}

// decodeMemories decodes the first JSON value in text and validates it.
func decodeMemories(text string) ([]string, error) {
	var doc any
	if err := json.NewDecoder(strings.NewReader(text)).Decode(&doc); err != nil {
		return nil, err
	}
	if err := extractionValidator.Validate(doc); err != nil {
		return nil, err
	}

	items, _ := doc.([]any)
	memories := make([]string, 0, len(items))
	for _, item := range items {
		s, _ := item.(string)
		memories = append(memories, s)
	}
	return memories, nil
}
