package importer

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/lumidoc/lumi/internal/assets"
	"github.com/lumidoc/lumi/internal/convert"
	"github.com/lumidoc/lumi/internal/llm"
	"github.com/lumidoc/lumi/internal/lumidoc"
)

// Formatter is the model call used to turn raw paper sources into the
// intermediate markup.
type Formatter interface {
	Complete(ctx context.Context, prompt string, attachments ...llm.Attachment) (string, error)
}

// DefaultConverter runs the conversion stage: one formatting-model call
// over the PDF (plus inlined LaTeX when present), then the structural
// pass, then image upload.
type DefaultConverter struct {
	llm           Formatter
	assets        assets.Store
	maxLatexChars int
	log           *slog.Logger
}

func NewDefaultConverter(f Formatter, store assets.Store, maxLatexChars int, log *slog.Logger) *DefaultConverter {
	return &DefaultConverter{llm: f, assets: store, maxLatexChars: maxLatexChars, log: log}
}

func (c *DefaultConverter) Convert(ctx context.Context, job Job, concepts []lumidoc.Concept) (*lumidoc.LumiDoc, error) {
	if c.maxLatexChars > 0 && len(job.Latex) > c.maxLatexChars {
		return nil, fmt.Errorf("latex source is too long: %d chars (limit %d)", len(job.Latex), c.maxLatexChars)
	}

	prompt := formatPrompt(job.Latex)
	out, err := c.llm.Complete(ctx, prompt, llm.Attachment{MIME: "application/pdf", Data: job.PDF})
	if err != nil {
		return nil, fmt.Errorf("format document: %w", err)
	}

	doc, err := convert.Build(out, concepts, job.Key(), c.log)
	if err != nil {
		return nil, err
	}

	c.storeImages(doc, job)
	return doc, nil
}

// storeImages uploads every referenced image found in the extracted source
// tree and fills in its dimensions. Missing or undecodable files are
// logged and skipped so one broken figure does not fail the import.
func (c *DefaultConverter) storeImages(doc *lumidoc.LumiDoc, job Job) {
	images := lumidoc.CollectImages(doc)
	if len(images) == 0 || job.LatexDir == "" {
		return
	}
	for _, img := range images {
		local := filepath.Join(job.LatexDir, filepath.FromSlash(img.LatexPath))
		data, err := os.ReadFile(local)
		if err != nil {
			c.log.Warn("image file not found in source tree", "path", img.LatexPath, "error", err)
			continue
		}
		if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
			img.Width = float64(cfg.Width)
			img.Height = float64(cfg.Height)
		} else {
			c.log.Warn("image dimensions unavailable", "path", img.LatexPath, "error", err)
		}
		if _, err := c.assets.Store(local, img.StoragePath); err != nil {
			c.log.Warn("storing image failed", "path", img.LatexPath, "error", err)
		}
	}
}
