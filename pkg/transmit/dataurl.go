// mumblesync - A Mumble voice chat client core.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package transmit

import (
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	dataURLRegex = regexp.MustCompile(`data:image/[a-zA-Z0-9.+-]+;base64,[^"'<>\s]+`)
	imgTagRegex  = regexp.MustCompile(`(?i)<img[^>]*src=["'](data:image/[a-zA-Z0-9.+-]+;base64,[^"'<>\s]+)["'][^>]*/?>`)
)

const imageHTMLOverhead = len(`<img src="data:image/jpeg;base64," />`)

// DataURL renders data as a base64 data URL.
func DataURL(mime string, data []byte) string {
	return fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(data))
}

// ImageHTML wraps an image as the HTML message body used on the wire.
func ImageHTML(mime string, data []byte) string {
	return fmt.Sprintf(`<img src="%s" />`, DataURL(mime, data))
}

// ParseDataURL decodes a base64 image data URL.
func ParseDataURL(url string) ([]byte, string, error) {
	rest, ok := strings.CutPrefix(url, "data:")
	if !ok {
		return nil, "", errors.New("not a data URL")
	}
	mime, payload, ok := strings.Cut(rest, ";base64,")
	if !ok {
		return nil, "", errors.New("data URL is not base64 encoded")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode data URL: %w", err)
	}
	return data, mime, nil
}

// BudgetForMessageLength converts a server image message length limit into
// the largest raw image that fits once wrapped. Zero means no limit.
func BudgetForMessageLength(limit int) int {
	if limit <= 0 {
		return 0
	}
	return max(limit-imageHTMLOverhead, 0) / 4 * 3
}

// SplitImages removes inline data URL images from a message body and
// returns the remaining HTML and the decoded images in order.
func SplitImages(html string) (string, [][]byte) {
	var images [][]byte
	text := imgTagRegex.ReplaceAllStringFunc(html, func(tag string) string {
		m := imgTagRegex.FindStringSubmatch(tag)
		if data, _, err := ParseDataURL(m[1]); err == nil {
			images = append(images, data)
			return ""
		}
		return tag
	})
	return strings.TrimSpace(text), images
}

// CompressEmbeddedImages re-fits every embedded image larger than
// maxBytes. An image is replaced only when the new encoding is smaller.
func (f *Fitter) CompressEmbeddedImages(html string, maxBytes int) string {
	return dataURLRegex.ReplaceAllStringFunc(html, func(url string) string {
		data, _, err := ParseDataURL(url)
		if err != nil || len(data) <= maxBytes {
			return url
		}
		res, err := f.Fit(data, maxBytes)
		if err != nil || len(res.Data) >= len(data) {
			f.log.Debug().Err(err).Int("size", len(data)).Msg("Keeping embedded image unchanged")
			return url
		}
		return DataURL(res.MIME, res.Data)
	})
}
