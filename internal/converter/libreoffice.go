package converter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrProtected is returned for password protected documents.
var ErrProtected = errors.New("document is password protected")

const defaultTimeout = 180 * time.Second

// LibreOffice converts office documents to PDF with a headless soffice
// process per conversion.
type LibreOffice struct {
	Binary  string
	Timeout time.Duration
	sem     chan struct{}
}

// NewLibreOffice limits concurrent conversions to maxWorkers.
func NewLibreOffice(binary string, maxWorkers int, timeout time.Duration) *LibreOffice {
	if binary == "" {
		binary = "libreoffice"
	}
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &LibreOffice{Binary: binary, Timeout: timeout, sem: make(chan struct{}, maxWorkers)}
}

// Version runs "--version"; an error means the converter is unavailable.
func (l *LibreOffice) Version(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, l.Binary, "--version").Output()
	if err != nil {
		return "", fmt.Errorf("%s not usable: %w", l.Binary, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// ConvertToPDF writes <outDir>/<input stem>.pdf and returns its path.
func (l *LibreOffice) ConvertToPDF(ctx context.Context, inputPath, outDir string) (string, error) {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-l.sem }()

	start := time.Now()
	if err := validateInput(inputPath); err != nil {
		return "", fmt.Errorf("input validation failed: %w", err)
	}
	profileDir := filepath.Join(os.TempDir(), "libreoffice_profile_"+uuid.New().String())
	if err := os.MkdirAll(profileDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create profile directory: %w", err)
	}
	defer os.RemoveAll(profileDir)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	cctx, cancel := context.WithTimeout(ctx, l.Timeout)
	defer cancel()
	cmd := exec.CommandContext(cctx, l.Binary,
		"-env:UserInstallation=file://"+profileDir,
		"--headless",
		"--convert-to", "pdf",
		"--outdir", outDir,
		inputPath,
	)
	log.Debug().Str("cmd", strings.Join(cmd.Args, " ")).Msg("LibreOffice command")
	out, err := cmd.CombinedOutput()
	if cctx.Err() == context.DeadlineExceeded {
		return "", fmt.Errorf("conversion timeout after %v", l.Timeout)
	}
	if err != nil {
		if protected(string(out)) {
			return "", ErrProtected
		}
		return "", fmt.Errorf("conversion failed: %w: %s", err, strings.TrimSpace(string(out)))
	}

	pdf := expectedOutput(inputPath, outDir)
	if _, err := os.Stat(pdf); err != nil {
		if protected(string(out)) {
			return "", ErrProtected
		}
		return "", fmt.Errorf("output file not created: %w", err)
	}
	log.Info().Str("input", inputPath).Str("output", pdf).Dur("duration", time.Since(start)).Msg("conversion successful")
	return pdf, nil
}

func validateInput(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("file not found: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("path is a directory, not a file")
	}
	if info.Size() == 0 {
		return fmt.Errorf("file is empty")
	}
	return nil
}

func protected(output string) bool {
	s := strings.ToLower(output)
	return strings.Contains(s, "password") || strings.Contains(s, "encrypted")
}

func expectedOutput(inputPath, outDir string) string {
	base := filepath.Base(inputPath)
	return filepath.Join(outDir, strings.TrimSuffix(base, filepath.Ext(base))+".pdf")
}
