// Package embedding provides resident, single-model text embedding backed
// by an ONNX Runtime forward pass over a MiniLM-family sentence encoder
// (spec.md §4.5).
package embedding

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	modelName     = "all-MiniLM-L6-v2"
	modelFileName = "model.onnx"
	tokenizerFile = "tokenizer.json"

	modelURL     = "https://huggingface.co/sentence-transformers/all-MiniLM-L6-v2/resolve/main/onnx/model.onnx"
	tokenizerURL = "https://huggingface.co/sentence-transformers/all-MiniLM-L6-v2/resolve/main/tokenizer.json"

	perFileTimeout = 5 * time.Minute
)

// ModelDir returns the on-disk directory for the resident model's assets
// under the given Diachron home directory.
func ModelDir(home string) string {
	return filepath.Join(home, "models", modelName)
}

// EnsureModel downloads the model graph and tokenizer into dir if either is
// missing, retrying each download with exponential backoff bounded by a
// 5-minute per-file timeout (spec.md §4.5). It verifies both files exist on
// disk before returning.
func EnsureModel(ctx context.Context, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("embedding: create model dir: %w", err)
	}

	modelPath := filepath.Join(dir, modelFileName)
	tokenizerPath := filepath.Join(dir, tokenizerFile)

	if err := ensureFile(ctx, modelPath, modelURL); err != nil {
		return fmt.Errorf("embedding: fetch model graph: %w", err)
	}
	if err := ensureFile(ctx, tokenizerPath, tokenizerURL); err != nil {
		return fmt.Errorf("embedding: fetch tokenizer: %w", err)
	}

	if _, err := os.Stat(modelPath); err != nil {
		return fmt.Errorf("embedding: model graph missing after download: %w", err)
	}
	if _, err := os.Stat(tokenizerPath); err != nil {
		return fmt.Errorf("embedding: tokenizer missing after download: %w", err)
	}
	return nil
}

func ensureFile(ctx context.Context, path, url string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	downloadCtx, cancel := context.WithTimeout(ctx, perFileTimeout)
	defer cancel()

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = perFileTimeout

	return backoff.Retry(func() error {
		err := download(downloadCtx, path, url)
		if downloadCtx.Err() != nil {
			return backoff.Permanent(downloadCtx.Err())
		}
		return err
	}, backoff.WithContext(bo, downloadCtx))
}

func download(ctx context.Context, path, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return backoff.Permanent(err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err // retryable: transient network error
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("embedding: download %s: status %d", url, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return backoff.Permanent(fmt.Errorf("embedding: download %s: status %d", url, resp.StatusCode))
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return backoff.Permanent(err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return err // retryable: truncated body
	}
	if err := tmp.Close(); err != nil {
		return backoff.Permanent(err)
	}
	return os.Rename(tmpName, path)
}
