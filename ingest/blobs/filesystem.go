package blobs

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/relabs-tech/roost/core/logger"
)

// LocalFilesystem stores objects below a base folder on the local
// filesystem. This only works in a single instance configuration; use the
// S3 driver for anything else.
type LocalFilesystem struct {
	baseFolder string
}

// NewLocalFilesystem returns a new LocalFilesystem
func NewLocalFilesystem(config LocalConfiguration) (*LocalFilesystem, error) {
	if config.BasePath == "" {
		return nil, fmt.Errorf("BasePath must not be empty")
	}
	if err := os.MkdirAll(config.BasePath, 0700); err != nil {
		return nil, err
	}
	logger.Default().Debugln("blobs: local filesystem driver enabled")
	return &LocalFilesystem{baseFolder: config.BasePath}, nil
}

// UploadData writes data into a new key object
func (f LocalFilesystem) UploadData(key string, data []byte) error {
	if strings.Contains(key, "..") {
		return fmt.Errorf("'..' is not allowed in a key")
	}
	dir := filepath.Join(f.baseFolder, key)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "file"), data, 0600)
}

// GetPreSignedURL returns a file URL for the object. The local driver does
// not sign anything, the path is only reachable from the host itself.
func (f LocalFilesystem) GetPreSignedURL(key string, expireIn time.Duration) (string, error) {
	if strings.Contains(key, "..") {
		return "", fmt.Errorf("'..' is not allowed in a key")
	}
	u := url.URL{Scheme: "file", Path: filepath.Join(f.baseFolder, key, "file")}
	return u.String(), nil
}

// Delete deletes the key object
func (f LocalFilesystem) Delete(key string) error {
	if strings.Contains(key, "..") {
		return fmt.Errorf("'..' is not allowed in a key")
	}
	return os.RemoveAll(filepath.Join(f.baseFolder, key))
}
