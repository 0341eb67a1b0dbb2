// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package convert

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
)

const binPdftotext = "pdftotext"

// Pdftotext converts with poppler's pdftotext, which marks page ends with
// form feeds.
type Pdftotext struct {
	Bin string

	// run executes the command; nil runs it on the host.
	run func(ctx context.Context, name string, args []string, stdout io.Writer) error
}

// Name returns the back-end name.
func (p *Pdftotext) Name() string { return binPdftotext }

// Convert runs pdftotext in layout mode and returns its output.
func (p *Pdftotext) Convert(ctx context.Context, pdfPath string) (string, error) {
	bin := p.Bin
	if bin == "" {
		bin = binPdftotext
	}
	run := p.run
	if run == nil {
		run = runHost
	}
	var out bytes.Buffer
	if err := run(ctx, bin, []string{"-layout", "-enc", "UTF-8", pdfPath, "-"}, &out); err != nil {
		return "", err
	}
	return out.String(), nil
}

func runHost(ctx context.Context, name string, args []string, stdout io.Writer) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, bytes.TrimSpace(stderr.Bytes()))
	}
	return nil
}
