package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/cobra"

	"github.com/accelbench/trainmetrics/cmd/cli/format"
	"github.com/accelbench/trainmetrics/internal/database"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export leaderboard results to JSON or CSV",
	Long: `Export completed-run efficiency results in JSON or CSV format.

By default exports to stdout. Use --file to write to a file or --s3-uri to
upload to S3 with the default AWS credential chain.

Examples:
  trainmetrics export -o json > results.json
  trainmetrics export -o csv --file results.csv
  trainmetrics export --accelerator h100 -o csv --s3-uri s3://bench-results/mfu/h100.csv`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

var (
	exportModel       string
	exportAccelerator string
	exportFile        string
	exportS3URI       string
)

// s3PutAPI is the subset of the S3 client used for uploads.
type s3PutAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// newS3Client is replaced in tests.
var newS3Client = func(ctx context.Context) (s3PutAPI, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return s3.NewFromConfig(cfg), nil
}

func init() {
	exportCmd.Flags().StringVar(&exportModel, "model", "", "Filter by model name")
	exportCmd.Flags().StringVar(&exportAccelerator, "accelerator", "", "Filter by accelerator")
	exportCmd.Flags().StringVar(&exportFile, "file", "", "Output file path (default: stdout)")
	exportCmd.Flags().StringVar(&exportS3URI, "s3-uri", "", "Upload to s3://bucket/key instead of stdout")
	exportCmd.MarkFlagsMutuallyExclusive("file", "s3-uri")
	RootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	c := newClient()

	entries, err := c.ListLeaderboard(ctx, database.LeaderboardFilter{
		ModelName:       exportModel,
		AcceleratorName: exportAccelerator,
		Limit:           500,
	})
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		fmt.Fprintln(stderr(), "No results to export.")
		return nil
	}

	var buf bytes.Buffer
	contentType := "application/json"
	switch getFormat() {
	case format.FormatCSV:
		contentType = "text/csv"
		err = format.CSV(&buf, leaderboardHeaders(), leaderboardRows(entries))
	default:
		// Default to JSON for export.
		err = format.JSONTo(&buf, entries)
	}
	if err != nil {
		return err
	}

	switch {
	case exportS3URI != "":
		bucket, key, err := parseS3URI(exportS3URI)
		if err != nil {
			return err
		}
		client, err := newS3Client(ctx)
		if err != nil {
			return err
		}
		_, err = client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(buf.Bytes()),
			ContentType: aws.String(contentType),
		})
		if err != nil {
			return fmt.Errorf("upload to %s: %w", exportS3URI, err)
		}
		fmt.Fprintf(stderr(), "Exported %d results to %s\n", len(entries), exportS3URI)
		return nil
	case exportFile != "":
		if err := os.WriteFile(exportFile, buf.Bytes(), 0o644); err != nil {
			return fmt.Errorf("write output file: %w", err)
		}
		fmt.Fprintf(stderr(), "Exported %d results to %s\n", len(entries), exportFile)
		return nil
	default:
		_, err := io.Copy(stdout(), &buf)
		return err
	}
}

// parseS3URI splits s3://bucket/key/path into bucket and key.
func parseS3URI(raw string) (string, string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("invalid S3 URI %q: %w", raw, err)
	}
	key := strings.TrimPrefix(u.Path, "/")
	if u.Scheme != "s3" || u.Host == "" || key == "" {
		return "", "", fmt.Errorf("invalid S3 URI %q: want s3://bucket/key", raw)
	}
	return u.Host, key, nil
}
