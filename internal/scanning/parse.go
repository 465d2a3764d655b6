package scanning

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/zombor/pantry-tracker/internal/dates"
)

// defaultProductName is used when the model could not read a name
const defaultProductName = "Unknown Product"

// Layouts models return besides ISO dates.
var fallbackLayouts = []string{
	"2006/01/02",
	"01/02/2006",
	"02.01.2006",
}

// parseProductJSON parses the JSON object in a model response. A missing or
// unreadable expiry date becomes one year from now.
func parseProductJSON(text string, now time.Time) (*ProductData, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON object in response")
	}
	text = text[startIdx : endIdx+1]

	var data ProductData
	if err := json.Unmarshal([]byte(text), &data); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	data.ProductName = strings.TrimSpace(data.ProductName)
	if data.ProductName == "" {
		data.ProductName = defaultProductName
	}
	data.ExpiryDate = normalizeExpiry(data.ExpiryDate, now)

	return &data, nil
}

func normalizeExpiry(raw string, now time.Time) string {
	raw = strings.TrimSpace(raw)
	if t, err := dates.ParseDate(raw); err == nil {
		return t.Format(dates.ISOLayout)
	}
	for _, layout := range fallbackLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format(dates.ISOLayout)
		}
	}
	// year and month only
	if t, err := time.Parse("2006-01", raw); err == nil {
		return t.Format(dates.ISOLayout)
	}
	return now.AddDate(1, 0, 0).Format(dates.ISOLayout)
}
