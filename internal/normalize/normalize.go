// Package normalize converts raw marketplace search records into validated
// products. Normalization is a pure function: no I/O, and the same input
// always yields the same output or the same failure.
package normalize

import (
	"html"
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/unicode/norm"
)

// ErrInvalidRecord marks a raw record that cannot be normalized. Callers
// decide whether to skip the record or abort the run.
var ErrInvalidRecord = eris.New("invalid record")

// Product is a validated search record ready for persistence.
type Product struct {
	ExternalID string
	Title      string
	ProductURL string
	ImageURL   string
	MallName   string
	Price      int
}

var (
	htmlTagRe = regexp.MustCompile(`<[^>]+>`)

	// Catalog ids appear either as a path segment (/catalog/123456) or as an
	// id/nvMid query parameter depending on which storefront the link targets.
	externalIDRes = []*regexp.Regexp{
		regexp.MustCompile(`/catalog/(\d+)`),
		regexp.MustCompile(`[?&](?:id|nvMid)=(\d+)`),
		regexp.MustCompile(`/products/(\d+)`),
	}
)

// CleanTitle decodes HTML entities, strips markup tags, NFC-normalizes and
// trims the raw title. Fails when the value is absent, not a string, or
// empty after cleaning.
func CleanTitle(raw any) (string, error) {
	if raw == nil {
		return "", eris.Wrap(ErrInvalidRecord, "title is missing")
	}
	s, ok := raw.(string)
	if !ok {
		return "", eris.Wrapf(ErrInvalidRecord, "title is not a string: %T", raw)
	}

	s = html.UnescapeString(s)
	s = htmlTagRe.ReplaceAllString(s, "")
	s = norm.NFC.String(s)
	s = strings.TrimSpace(s)

	if s == "" {
		return "", eris.Wrap(ErrInvalidRecord, "title is empty after cleaning")
	}
	return s, nil
}

// ParsePrice accepts an integer, a JSON number, or a numeric string (commas
// stripped) and returns a non-negative price.
func ParsePrice(raw any, field string) (int, error) {
	switch v := raw.(type) {
	case nil:
		return 0, eris.Wrapf(ErrInvalidRecord, "%s is missing", field)
	case int:
		if v < 0 {
			return 0, eris.Wrapf(ErrInvalidRecord, "%s is negative: %d", field, v)
		}
		return v, nil
	case int64:
		if v < 0 {
			return 0, eris.Wrapf(ErrInvalidRecord, "%s is negative: %d", field, v)
		}
		return int(v), nil
	case float64:
		// JSON numbers decode as float64.
		if v < 0 {
			return 0, eris.Wrapf(ErrInvalidRecord, "%s is negative: %v", field, v)
		}
		if v != float64(int(v)) {
			return 0, eris.Wrapf(ErrInvalidRecord, "%s is not an integer: %v", field, v)
		}
		return int(v), nil
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(v), ",", "")
		if s == "" {
			return 0, eris.Wrapf(ErrInvalidRecord, "%s is empty", field)
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0, eris.Wrapf(ErrInvalidRecord, "%s is not numeric: %q", field, v)
		}
		if n < 0 {
			return 0, eris.Wrapf(ErrInvalidRecord, "%s is negative: %q", field, v)
		}
		return n, nil
	default:
		return 0, eris.Wrapf(ErrInvalidRecord, "%s has unsupported type %T", field, raw)
	}
}

// ExternalID derives the stable catalog identifier from a product URL.
func ExternalID(productURL string) (string, error) {
	for _, re := range externalIDRes {
		if m := re.FindStringSubmatch(productURL); m != nil {
			return m[1], nil
		}
	}
	return "", eris.Wrapf(ErrInvalidRecord, "no catalog id in url %q", productURL)
}

// Normalize validates one raw search record. Title, link and price are
// required; image and mall name default to empty strings.
func Normalize(raw map[string]any) (*Product, error) {
	if raw == nil {
		return nil, eris.Wrap(ErrInvalidRecord, "record is nil")
	}

	title, err := CleanTitle(raw["title"])
	if err != nil {
		return nil, err
	}

	link, ok := raw["link"].(string)
	if !ok || strings.TrimSpace(link) == "" {
		return nil, eris.Wrap(ErrInvalidRecord, "link is missing or empty")
	}
	productURL := strings.TrimSpace(link)

	externalID, err := ExternalID(productURL)
	if err != nil {
		return nil, err
	}

	price, err := ParsePrice(raw["lprice"], "lprice")
	if err != nil {
		return nil, err
	}

	imageURL := ""
	if s, ok := raw["image"].(string); ok {
		imageURL = strings.TrimSpace(s)
	}
	mallName := ""
	if s, ok := raw["mallName"].(string); ok {
		mallName = strings.TrimSpace(s)
	}

	return &Product{
		ExternalID: externalID,
		Title:      title,
		ProductURL: productURL,
		ImageURL:   imageURL,
		MallName:   mallName,
		Price:      price,
	}, nil
}
