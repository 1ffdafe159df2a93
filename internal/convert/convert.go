// Package convert defines the PDF conversion collaborator interface.
// The retrieval core never converts PDFs itself; it schedules an
// injected converter inside a bounded worker pool.
package convert

import "context"

// Result is the outcome of a PDF to Markdown conversion.
type Result struct {
	Success        bool
	Markdown       string
	SourceFilename string
	ErrorMessage   string
}

// PdfConverter turns a PDF on disk into Markdown. Convert is
// synchronous and potentially long-running; callers schedule it off the
// foreground and enforce timeouts through ctx.
type PdfConverter interface {
	Convert(ctx context.Context, path string) (Result, error)
}

// PdfConverterFunc adapts a function to the PdfConverter interface.
type PdfConverterFunc func(ctx context.Context, path string) (Result, error)

// Convert implements PdfConverter.
func (f PdfConverterFunc) Convert(ctx context.Context, path string) (Result, error) {
	return f(ctx, path)
}
