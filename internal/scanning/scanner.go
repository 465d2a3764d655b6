package scanning

import "context"

// ProductData contains what a vision model read off a product
type ProductData struct {
	ProductName string `json:"productName"`
	ExpiryDate  string `json:"expiryDate"` // YYYY-MM-DD
}

// Image is one uploaded photo or document page
type Image struct {
	Data        []byte
	ContentType string
}

// Scanner defines the interface for product label analysis
type Scanner interface {
	// ScanProduct analyzes one or more images of a product and extracts its
	// name and expiry date
	ScanProduct(ctx context.Context, images []Image, prompt string) (*ProductData, error)
	// Close closes the scanner and releases resources
	Close() error
}
