package scanning

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"net/http"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

// ErrNoImages is returned when a scan is requested without any images
var ErrNoImages = errors.New("at least one image is required")

// maxImages bounds how many images go into one model request
const maxImages = 4

// normalizeImages converts every image to PNG, the one format both
// providers accept.
func normalizeImages(images []Image) ([][]byte, error) {
	if len(images) == 0 {
		return nil, ErrNoImages
	}
	if len(images) > maxImages {
		return nil, fmt.Errorf("too many images: %d (max %d)", len(images), maxImages)
	}

	out := make([][]byte, 0, len(images))
	for i, img := range images {
		data, err := toPNG(img)
		if err != nil {
			return nil, fmt.Errorf("image %d: %w", i+1, err)
		}
		out = append(out, data)
	}
	return out, nil
}

// mimeTypeOf normalizes the declared content type, sniffing the data when
// none was sent.
func mimeTypeOf(img Image) string {
	mimeType := strings.ToLower(strings.TrimSpace(img.ContentType))
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if mimeType == "" || mimeType == "application/octet-stream" {
		if isHEICFormat(img.Data) {
			return "image/heic"
		}
		mimeType = http.DetectContentType(img.Data)
	}
	return mimeType
}

func toPNG(img Image) ([]byte, error) {
	if len(img.Data) == 0 {
		return nil, errors.New("empty image")
	}

	mimeType := mimeTypeOf(img)
	switch {
	case mimeType == "application/pdf":
		data, err := pdfToPNG(img.Data)
		if err != nil {
			return nil, fmt.Errorf("converting PDF to image: %w", err)
		}
		return data, nil
	case mimeType == "image/png" && !isHEICFormat(img.Data):
		return img.Data, nil
	default:
		data, err := imageToPNG(img.Data, mimeType)
		if err != nil {
			return nil, fmt.Errorf("converting image to PNG: %w", err)
		}
		return data, nil
	}
}

// pdfToPNG renders the first page of a PDF
func pdfToPNG(pdfData []byte) ([]byte, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	if doc.NumPage() == 0 {
		return nil, errors.New("PDF has no pages")
	}
	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}
	return encodePNG(img)
}

// imageToPNG decodes JPEG, GIF or HEIC data and re-encodes it as PNG
func imageToPNG(data []byte, mimeType string) ([]byte, error) {
	var (
		img image.Image
		err error
	)
	// iPhone photos arrive as HEIC, which the standard library cannot decode
	if isHEICFormat(data) || isHEICMimeType(mimeType) {
		img, err = heic.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
		return encodePNG(img)
	}

	img, _, err = image.Decode(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, fmt.Errorf("unsupported image format %q (supported: JPEG, PNG, GIF, HEIC, HEIF, PDF): %w", mimeType, err)
		}
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return encodePNG(img)
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// isHEICFormat checks for an ftyp box with a HEIC/HEIF brand at offset 4
func isHEICFormat(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "heif", "mif1", "msf1":
		return true
	}
	return false
}

func isHEICMimeType(mimeType string) bool {
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}
