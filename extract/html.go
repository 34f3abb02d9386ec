package extract

import (
	"bytes"
	"fmt"
	"net/url"

	readability "github.com/go-shiori/go-readability"
)

// Compile-time interface check.
var _ Extractor = HTMLExtractor{}

// HTMLExtractor pulls the main article body out of a web page, dropping
// navigation, ads, and boilerplate.
type HTMLExtractor struct {
	// PageURL resolves relative links during readability parsing. Optional.
	PageURL string
}

// Extract returns the page's readable text content.
func (e HTMLExtractor) Extract(content []byte) (string, error) {
	r, err := e.extract(content)
	if err != nil {
		return "", err
	}
	return Normalize(r.TextContent), nil
}

// ExtractArticle returns the readable text plus the page title.
func (e HTMLExtractor) ExtractArticle(content []byte) (title, text string, err error) {
	r, err := e.extract(content)
	if err != nil {
		return "", "", err
	}
	return r.Title, Normalize(r.TextContent), nil
}

func (e HTMLExtractor) extract(content []byte) (readability.Article, error) {
	var u *url.URL
	if e.PageURL != "" {
		parsed, err := url.Parse(e.PageURL)
		if err == nil {
			u = parsed
		}
	}
	art, err := readability.FromReader(bytes.NewReader(content), u)
	if err != nil {
		return readability.Article{}, fmt.Errorf("parse html: %w", err)
	}
	return art, nil
}
