package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/Brennan-Chesley-FLP/kent/scrape"
)

// ArchiveFunc persists an archived body and returns the stored path.
type ArchiveFunc func(content []byte, rawURL, expectedType, storageDir string) (string, error)

// DefaultArchive names the file after the URL's last path segment, or
// synthesizes download_<hash><ext> when the path has none, and writes it
// under storageDir.
func DefaultArchive(content []byte, rawURL, expectedType, storageDir string) (string, error) {
	filename := ""
	if parsed, err := url.Parse(rawURL); err == nil {
		if base := path.Base(parsed.Path); base != "" && base != "." && base != "/" {
			filename = base
		}
	}
	if filename == "" {
		ext := map[string]string{"pdf": ".pdf", "audio": ".mp3"}[expectedType]
		sum := sha256.Sum256([]byte(rawURL))
		filename = "download_" + hex.EncodeToString(sum[:6]) + ext
	}

	if err := os.MkdirAll(storageDir, 0o755); err != nil {
		return "", fmt.Errorf("create storage dir %s: %w", storageDir, err)
	}
	filePath := filepath.Join(storageDir, filename)
	if err := os.WriteFile(filePath, content, 0o644); err != nil {
		return "", fmt.Errorf("write archive file %s: %w", filePath, err)
	}
	abs, err := filepath.Abs(filePath)
	if err != nil {
		return filePath, nil
	}
	return abs, nil
}

// SaveJSONL returns an OnData callback appending each datum as one JSON
// line to w.
func SaveJSONL(w io.Writer) func(data any) {
	enc := json.NewEncoder(w)
	return func(data any) {
		_ = enc.Encode(data)
	}
}

// CountData returns an OnData callback incrementing counter per datum.
func CountData(counter *int64) func(data any) {
	return func(any) {
		atomic.AddInt64(counter, 1)
	}
}

// CombineData fans one datum out to several OnData callbacks in order.
func CombineData(callbacks ...func(data any)) func(data any) {
	return func(data any) {
		for _, cb := range callbacks {
			cb(data)
		}
	}
}

// LogInvalidData returns an OnInvalidData callback that logs each
// validation failure with its field errors.
func LogInvalidData(logger *zap.Logger) func(data *scrape.DeferredValidation) {
	return func(data *scrape.DeferredValidation) {
		_, err := data.Confirm()
		logger.Error("data validation failed",
			zap.String("model", data.ModelName()),
			zap.Error(err))
	}
}
