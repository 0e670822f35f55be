package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"typeset/internal/services"
)

// LocalDownloader copies job inputs from an inbox directory laid out as
// <inbox>/<job-id>/. Used when no object storage bucket is configured.
type LocalDownloader struct {
	inbox string
}

// NewLocalDownloader builds a downloader rooted at inbox.
func NewLocalDownloader(inbox string) *LocalDownloader {
	return &LocalDownloader{inbox: inbox}
}

// DownloadInputs copies the job's inbox directory tree into destDir.
func (d *LocalDownloader) DownloadInputs(_ context.Context, jobID, destDir string) error {
	sourceDir := filepath.Join(d.inbox, jobID)
	info, err := os.Stat(sourceDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return services.Wrap(services.ErrNotFound, "", "transfer",
				fmt.Sprintf("no inputs at %s", sourceDir), nil)
		}
		return fmt.Errorf("stat %s: %w", sourceDir, err)
	}
	if !info.IsDir() {
		return services.Wrap(services.ErrNotFound, "", "transfer",
			fmt.Sprintf("%s is not a directory", sourceDir), nil)
	}

	return filepath.WalkDir(sourceDir, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		relative, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return err
		}
		target := filepath.Join(destDir, relative)
		if entry.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}

func copyFile(source, target string) error {
	in, err := os.Open(source)
	if err != nil {
		return fmt.Errorf("open %s: %w", source, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", target, err)
	}

	out, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy to %s: %w", target, err)
	}
	return out.Sync()
}
