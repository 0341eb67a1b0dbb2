// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package convert

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/pdiddy/academic-agent/internal/container"
)

const imageMarkitdown = "markitdown:latest"

// Markitdown converts PDFs by piping them through the markitdown container
// image. Its output has no page boundaries.
type Markitdown struct {
	runtime container.Runtime
}

// NewMarkitdown returns a converter over rt after checking that the image
// is present.
func NewMarkitdown(ctx context.Context, rt container.Runtime) (*Markitdown, error) {
	if err := rt.ImageExists(ctx, imageMarkitdown); err != nil {
		return nil, fmt.Errorf("markitdown image not available in %s: %w", rt.Name(), err)
	}
	return &Markitdown{runtime: rt}, nil
}

// Name returns the back-end name.
func (m *Markitdown) Name() string { return "markitdown" }

// Convert pipes the PDF through the container and returns the text.
func (m *Markitdown) Convert(ctx context.Context, pdfPath string) (string, error) {
	f, err := os.Open(pdfPath)
	if err != nil {
		return "", fmt.Errorf("opening PDF: %w", err)
	}
	defer f.Close()

	var out bytes.Buffer
	if err := m.runtime.Run(ctx, imageMarkitdown, f, &out); err != nil {
		return "", err
	}
	return out.String(), nil
}
