package extraction

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

const (
	mimePDF  = "application/pdf"
	mimePNG  = "image/png"
	mimeJPEG = "image/jpeg"
)

// invoicePrompt is shared by the vision model extractors
const invoicePrompt = `You are reading an invoice. Extract the following fields from the document:

- invoice_number: the invoice or order number exactly as printed
- invoice_date: the invoice date exactly as printed (do not reformat it)
- seller_name and seller_address: the company issuing the invoice
- buyer_name and buyer_address: the customer being billed
- currency: the ISO currency code, e.g. EUR, USD, INR
- subtotal: the net amount before tax
- tax_amount: the tax (VAT, MwSt, GST) amount
- total_amount: the gross amount due
- line_items: every line with description, quantity, unit_price and line_total

Return ONLY valid JSON in this exact format:
{
  "invoice_number": "",
  "invoice_date": "",
  "seller_name": "",
  "seller_address": "",
  "buyer_name": "",
  "buyer_address": "",
  "currency": "",
  "subtotal": "",
  "tax_amount": "",
  "total_amount": "",
  "line_items": [{"description": "", "quantity": "", "unit_price": "", "line_total": ""}]
}

Important:
- Copy amounts as printed, including separators
- Use an empty string for any field you cannot find
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

// pdfToImage renders the first page of a PDF as PNG
func pdfToImage(pdfData []byte) ([]byte, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}

	return buf.Bytes(), nil
}

// pdfText returns the text layer of every page of a PDF
func pdfText(pdfData []byte) (string, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return "", fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	var sb strings.Builder
	for n := 0; n < doc.NumPage(); n++ {
		text, err := doc.Text(n)
		if err != nil {
			return "", fmt.Errorf("reading text of page %d: %w", n+1, err)
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

// imageToPNG converts any supported image format to PNG
func imageToPNG(imageData []byte, mimeType string) ([]byte, error) {
	var img image.Image
	var err error

	// Phone photos of paper invoices are often HEIC, which image.Decode does not know
	if isHEICFormat(imageData) || isHEICMimeType(mimeType) {
		img, err = heic.Decode(bytes.NewReader(imageData))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
	} else {
		img, _, err = image.Decode(bytes.NewReader(imageData))
		if err != nil {
			if strings.Contains(err.Error(), "unknown format") || strings.Contains(err.Error(), "unsupported") {
				return nil, fmt.Errorf("unsupported image format. Supported formats: JPEG, PNG, GIF, HEIC, HEIF, PDF. Error: %w", err)
			}
			return nil, fmt.Errorf("decoding image: %w", err)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}

	return buf.Bytes(), nil
}

// isHEICFormat checks for an ftyp box with a HEIC-family brand
func isHEICFormat(data []byte) bool {
	if len(data) < 12 {
		return false
	}
	if string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heif", "mif1", "msf1":
		return true
	}
	return false
}

func isHEICMimeType(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}

// convertToPNG converts PDFs and non-PNG images to PNG.
// The boolean reports whether a conversion happened.
func convertToPNG(data []byte, mimeType string) ([]byte, bool, error) {
	if mimeType == mimePDF {
		pngData, err := pdfToImage(data)
		if err != nil {
			return nil, false, fmt.Errorf("converting PDF to image: %w", err)
		}
		return pngData, true, nil
	}
	if mimeType != mimePNG || isHEICFormat(data) || isHEICMimeType(mimeType) {
		pngData, err := imageToPNG(data, mimeType)
		if err != nil {
			return nil, false, fmt.Errorf("converting image to PNG: %w", err)
		}
		return pngData, true, nil
	}
	return data, false, nil
}

// normalizeMimeType lowercases and trims a content type, defaulting to JPEG
func normalizeMimeType(contentType string) string {
	mimeType := strings.ToLower(strings.TrimSpace(contentType))
	if mimeType == "" {
		return mimeJPEG
	}
	return mimeType
}

// prepareImageData returns PNG bytes for any supported document
func prepareImageData(data []byte, contentType string) ([]byte, error) {
	pngData, _, err := convertToPNG(data, normalizeMimeType(contentType))
	if err != nil {
		return nil, err
	}
	return pngData, nil
}

// readDocumentText exposes the text layer of PDFs; images have none
func readDocumentText(data []byte, contentType string) (string, error) {
	if normalizeMimeType(contentType) != mimePDF {
		return "", nil
	}
	return pdfText(data)
}
