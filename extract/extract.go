// Package extract converts raw source documents (plain text, HTML, markdown,
// PDF) into normalized articles ready for chunking.
package extract

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	quarry "github.com/quarryhq/quarry"
)

// Extractor converts raw content to normalized article text.
type Extractor interface {
	Extract(content []byte) (string, error)
}

// ContentType identifies the MIME type of content for extraction.
type ContentType string

const (
	TypePlainText ContentType = "text/plain"
	TypeHTML      ContentType = "text/html"
	TypeMarkdown  ContentType = "text/markdown"
	TypePDF       ContentType = "application/pdf"
)

// ContentTypeFromExtension maps file extensions to content types.
func ContentTypeFromExtension(ext string) ContentType {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "md", "markdown":
		return TypeMarkdown
	case "html", "htm":
		return TypeHTML
	case "pdf":
		return TypePDF
	default:
		return TypePlainText
	}
}

// ForType returns the extractor for a content type, defaulting to plain text.
func ForType(ct ContentType) Extractor {
	switch ct {
	case TypeHTML:
		return HTMLExtractor{}
	case TypeMarkdown:
		return MarkdownExtractor{}
	case TypePDF:
		return PDFExtractor{}
	default:
		return PlainTextExtractor{}
	}
}

// PlainTextExtractor normalizes raw text as-is.
type PlainTextExtractor struct{}

func (PlainTextExtractor) Extract(content []byte) (string, error) {
	return Normalize(string(content)), nil
}

// MarkdownExtractor keeps markdown structure intact: the router uses it to
// judge chunk complexity, so stripping it here would hide the signal.
type MarkdownExtractor struct{}

func (MarkdownExtractor) Extract(content []byte) (string, error) {
	return Normalize(string(content)), nil
}

// Normalize applies Unicode NFC, converts CRLF to LF, and collapses runs of
// three or more newlines into paragraph breaks. Invalid UTF-8 bytes are
// replaced so downstream validation sees well-formed text.
func Normalize(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "�")
	}
	s = norm.NFC.String(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	for strings.Contains(s, "\n\n\n") {
		s = strings.ReplaceAll(s, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(s)
}

// NormalizeLanguage canonicalizes a language hint ("en", "en-US", "EN_us")
// into a BCP 47 tag, or returns "" when the hint is unparseable.
func NormalizeLanguage(hint string) string {
	if hint == "" {
		return ""
	}
	tag, err := language.Parse(strings.ReplaceAll(hint, "_", "-"))
	if err != nil {
		return ""
	}
	return tag.String()
}

// NewArticle assembles an Article from extracted text. The text must already
// be normalized by one of the extractors.
func NewArticle(domain, title, text, lang string) quarry.Article {
	return quarry.Article{
		ID:        quarry.NewID(),
		Domain:    domain,
		Language:  NormalizeLanguage(lang),
		Title:     title,
		Text:      text,
		CreatedAt: quarry.NowUnix(),
	}
}
