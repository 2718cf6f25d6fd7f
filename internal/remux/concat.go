package remux

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var reConcatSafe = regexp.MustCompile(`^[A-Za-z0-9._/-]+$`)

// WriteConcatList writes an ffmpeg concat-demuxer list naming chunks in
// order, relative to the list's directory.
func WriteConcatList(listPath string, chunks []string) error {
	dir := filepath.Dir(listPath)

	var b strings.Builder
	for _, chunk := range chunks {
		name := chunk
		if filepath.IsAbs(chunk) || filepath.Dir(chunk) != "." {
			rel, err := filepath.Rel(dir, chunk)
			if err != nil {
				return fmt.Errorf("chunk %s: %w", chunk, err)
			}
			name = filepath.ToSlash(rel)
		}
		b.WriteString("file ")
		b.WriteString(quoteConcat(name))
		b.WriteString("\n")
	}

	if err := os.WriteFile(listPath, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("write concat list: %w", err)
	}
	return nil
}

// quoteConcat quotes name for the concat list when it contains characters
// the demuxer's tokenizer treats specially.
func quoteConcat(name string) string {
	if reConcatSafe.MatchString(name) {
		return name
	}
	return "'" + strings.ReplaceAll(name, "'", `'\''`) + "'"
}

// Concat stream-copies chunks, in order, into output using a concat list
// written at listPath. ffmpeg runs in the list's directory.
func (e *Engine) Concat(ctx context.Context, listPath string, chunks []string, output string) error {
	if len(chunks) == 0 {
		return fmt.Errorf("concat: no chunks")
	}
	if err := WriteConcatList(listPath, chunks); err != nil {
		return err
	}

	absOutput, err := filepath.Abs(output)
	if err != nil {
		return fmt.Errorf("resolve output: %w", err)
	}

	e.logger.Info("merging intermediate products", "chunks", len(chunks), "list", listPath)
	args := ConcatArgs(e.logLevel, filepath.Base(listPath), absOutput)
	if err := e.run(ctx, "concat", listPath, args, filepath.Dir(listPath), func(string) error { return nil }); err != nil {
		e.logger.Error("ffmpeg failed", "list", listPath, "error", err)
		return err
	}

	e.logger.Info("merged", "output", output)
	return nil
}
