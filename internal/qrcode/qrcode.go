// Package qrcode renders opaque tokens to PNG images for receipts.
package qrcode

import (
	"fmt"
	"strings"

	qr "github.com/skip2/go-qrcode"
)

// DefaultSize is the rendered image edge in pixels.
const DefaultSize = 256

// TicketPayload is the token printed on a ticket copy: email|reference_id|copy-N.
func TicketPayload(email, referenceID string, copyNumber int) string {
	return strings.Join([]string{email, referenceID, fmt.Sprintf("copy-%d", copyNumber)}, "|")
}

// ParseTicketPayload splits a token produced by TicketPayload.
func ParseTicketPayload(token string) (email, referenceID string, copyNumber int, err error) {
	parts := strings.Split(token, "|")
	if len(parts) != 3 {
		return "", "", 0, fmt.Errorf("malformed ticket token %q", token)
	}
	if _, err := fmt.Sscanf(parts[2], "copy-%d", &copyNumber); err != nil {
		return "", "", 0, fmt.Errorf("malformed ticket copy %q: %w", parts[2], err)
	}
	return parts[0], parts[1], copyNumber, nil
}

// Render encodes content as a PNG.
func Render(content string, size int) ([]byte, error) {
	if size <= 0 {
		size = DefaultSize
	}
	png, err := qr.Encode(content, qr.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("encoding qr code: %w", err)
	}
	return png, nil
}
