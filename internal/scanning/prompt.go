package scanning

import "strings"

// Prompts used by the capture flows.
const (
	// LabelAndDatePrompt goes with a label photo followed by a date photo.
	LabelAndDatePrompt = "Analyze the two images. Image 1 shows the product name/label. Image 2 shows the expiry date."
	// QuickScanPrompt goes with a single photo showing both.
	QuickScanPrompt = "Analyze this image and provide the product name and expiry date."
)

const systemInstruction = "You are an expert OCR and object recognition system for food and household product inventory. Your task is to extract a product name and an expiry date from images. The expiry date must be returned in YYYY-MM-DD format. If a specific date is unclear, prioritize year-month (YYYY-MM-01). If no date is found, use the current date plus one year. Respond ONLY with a single JSON object."

const responseFormat = `Return ONLY valid JSON in this exact format:
{
  "productName": "The name of the product found",
  "expiryDate": "YYYY-MM-DD"
}

Important:
- Look for "best before", "use by", "BB", "EXP" and similar markings
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

// buildPrompt joins the caller's prompt with the response format. An empty
// prompt falls back to QuickScanPrompt.
func buildPrompt(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		prompt = QuickScanPrompt
	}
	return prompt + "\n\n" + responseFormat
}
