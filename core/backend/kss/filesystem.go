package kss

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/relabs-tech/carlog/core/logger"
)

// LocalFilesystem is the entity which provides local filesystem storage
type LocalFilesystem struct {
	basePath string
}

// NewLocalFilesystem returns a new LocalFilesystem storing objects below
// basePath. The directory gets created if it does not exist yet.
func NewLocalFilesystem(config LocalConfiguration) (*LocalFilesystem, error) {
	if config.BasePath == "" {
		return nil, fmt.Errorf("BasePath must not be empty")
	}
	if err := os.MkdirAll(config.BasePath, 0700); err != nil {
		return nil, err
	}
	logger.Default().Debugln("KSS local filesystem enabled:", config.BasePath)
	return &LocalFilesystem{basePath: config.BasePath}, nil
}

func (f LocalFilesystem) path(key string) (string, error) {
	if strings.Contains(key, "..") {
		return "", fmt.Errorf("'..' is not allowed in a key")
	}
	return filepath.Join(f.basePath, filepath.FromSlash(key)), nil
}

// Put stores data under key, overwriting any previous object
func (f LocalFilesystem) Put(key string, data []byte, contentType string) error {
	filePath, err := f.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0700); err != nil {
		return err
	}
	if err := os.WriteFile(filePath+".type", []byte(contentType), 0600); err != nil {
		return err
	}
	return os.WriteFile(filePath, data, 0600)
}

// Get returns the object stored under key, or ErrNotFound
func (f LocalFilesystem) Get(key string) ([]byte, string, error) {
	filePath, err := f.path(key)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(filePath)
	if os.IsNotExist(err) {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", err
	}
	contentType, _ := os.ReadFile(filePath + ".type")
	return data, string(contentType), nil
}

// Delete removes the object stored under key
func (f LocalFilesystem) Delete(key string) error {
	filePath, err := f.path(key)
	if err != nil {
		return err
	}
	os.Remove(filePath + ".type")
	err = os.Remove(filePath)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
