// Package integration provides end-to-end integration tests for Lumen.
package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/joho/godotenv"

	"github.com/lumenapm/lumen/internal/storage"
)

// getIntegrationStorage returns an object storage for integration tests.
// It respects LUMEN_STORAGE_TYPE=s3 from .env or the environment; the
// default is local storage under a test temp directory.
func getIntegrationStorage(t *testing.T) storage.ObjectStorage {
	t.Helper()

	// Try loading .env from project root (../../.env relative to test/integration)
	_ = godotenv.Load("../../.env")

	if os.Getenv("LUMEN_STORAGE_TYPE") == "s3" {
		if v := os.Getenv("LUMEN_AWS_ACCESS_KEY_ID"); v != "" {
			os.Setenv("AWS_ACCESS_KEY_ID", v)
		}
		if v := os.Getenv("LUMEN_AWS_SECRET_ACCESS_KEY"); v != "" {
			os.Setenv("AWS_SECRET_ACCESS_KEY", v)
		}

		bucket := os.Getenv("LUMEN_S3_BUCKET")
		if bucket == "" {
			t.Fatal("LUMEN_S3_BUCKET is required for s3 integration tests")
		}

		st, err := storage.NewS3Storage(context.Background(), bucket, storage.S3Config{
			Region:   os.Getenv("LUMEN_S3_REGION"),
			Endpoint: os.Getenv("LUMEN_S3_ENDPOINT"),
		})
		if err != nil {
			t.Fatalf("failed to initialize S3 storage: %v", err)
		}
		t.Logf("running integration tests against S3 bucket %s", bucket)
		return st
	}

	st, err := storage.NewLocalStorage(filepath.Join(t.TempDir(), "storage"))
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	return st
}
