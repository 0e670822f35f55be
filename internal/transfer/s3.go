package transfer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"typeset/internal/config"
	"typeset/internal/services"
)

// S3Downloader pulls job input bundles from object storage. Each job's
// inputs live under the prefix jobs/<job-id>/.
type S3Downloader struct {
	client *s3.Client
	bucket string
}

// NewS3Downloader builds a downloader from transfer configuration.
func NewS3Downloader(cfg config.TransferConfig) (*S3Downloader, error) {
	if cfg.Bucket == "" || cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, services.Wrap(services.ErrConfiguration, "", "transfer", "bucket and credentials are required", nil)
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{URL: endpoint}, nil
		})
		loadOpts = append(loadOpts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	return &S3Downloader{
		client: s3.NewFromConfig(awsCfg),
		bucket: cfg.Bucket,
	}, nil
}

// DownloadInputs copies every object under jobs/<jobID>/ into destDir,
// preserving relative paths. A job with no objects is an error.
func (d *S3Downloader) DownloadInputs(ctx context.Context, jobID, destDir string) error {
	prefix := "jobs/" + jobID + "/"

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("create input directory: %w", err)
	}

	var downloaded int
	paginator := s3.NewListObjectsV2Paginator(d.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(d.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("list job inputs: %w", err)
		}
		for _, object := range page.Contents {
			key := aws.ToString(object.Key)
			relative := strings.TrimPrefix(key, prefix)
			if relative == "" || strings.HasSuffix(relative, "/") {
				continue
			}
			if err := d.downloadObject(ctx, key, filepath.Join(destDir, filepath.FromSlash(relative))); err != nil {
				return err
			}
			downloaded++
		}
	}

	if downloaded == 0 {
		return services.Wrap(services.ErrNotFound, "", "transfer",
			fmt.Sprintf("no inputs found under %s", prefix), nil)
	}
	return nil
}

func (d *S3Downloader) downloadObject(ctx context.Context, key, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", destPath, err)
	}

	result, err := d.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("get object %s: %w", key, err)
	}
	defer result.Body.Close()

	file, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", destPath, err)
	}
	defer file.Close()

	if _, err := io.Copy(file, result.Body); err != nil {
		return fmt.Errorf("write %s: %w", destPath, err)
	}
	return nil
}
