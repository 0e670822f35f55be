// Package transfer fetches job input bundles into the per-job working
// directory, either from object storage or from a local inbox.
package transfer

import "context"

// Downloader fetches the input bundle for a job into destDir.
type Downloader interface {
	DownloadInputs(ctx context.Context, jobID, destDir string) error
}
