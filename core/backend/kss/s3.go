package kss

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/relabs-tech/carlog/core/logger"
)

// S3 is the implementation of the KSS driver for AWS S3
type S3 struct {
	client      *s3.Client
	uploader    *manager.Uploader
	downloader  *manager.Downloader
	bucket      string
	baseKeyName string
}

// NewS3 returns a new S3 driver
func NewS3(kssConfig S3Configuration) (*S3, error) {
	if kssConfig.AWSBucketName == "" {
		return nil, fmt.Errorf("AWSBucketName must not be empty")
	}

	cfg, err := config.LoadDefaultConfig(
		context.TODO(),
		config.WithRegion(kssConfig.AWSRegion),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(kssConfig.AccessID, kssConfig.AccessKey, "")),
	)
	if err != nil {
		return nil, err
	}
	logger.Default().Debugln("KSS S3 enabled")
	client := s3.NewFromConfig(cfg)
	s := S3{
		client:      client,
		uploader:    manager.NewUploader(client),
		downloader:  manager.NewDownloader(client),
		bucket:      kssConfig.AWSBucketName,
		baseKeyName: kssConfig.KeyPrefix,
	}
	return &s, nil
}

// Put stores data under key, overwriting any previous object
func (s S3) Put(key string, data []byte, contentType string) error {
	_, err := s.uploader.Upload(context.TODO(), &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.baseKeyName + key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s, %v", s.baseKeyName+key, err)
	}
	return nil
}

// Get returns the object stored under key, or ErrNotFound
func (s S3) Get(key string) ([]byte, string, error) {
	head, err := s.client.HeadObject(context.TODO(), &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.baseKeyName + key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return nil, "", ErrNotFound
		}
		return nil, "", err
	}

	buffer := manager.NewWriteAtBuffer([]byte{})
	_, err = s.downloader.Download(context.TODO(), buffer, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.baseKeyName + key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, "", ErrNotFound
		}
		return nil, "", err
	}
	contentType := ""
	if head.ContentType != nil {
		contentType = *head.ContentType
	}
	return buffer.Bytes(), contentType, nil
}

// Delete removes the object stored under key
func (s S3) Delete(key string) error {
	_, err := s.client.DeleteObject(context.TODO(), &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.baseKeyName + key),
	})
	if err != nil {
		logger.Default().Error("Could not delete ", s.baseKeyName+key)
		return err
	}
	return nil
}

// NewDriver returns the configured KSS driver, or nil for DriverType None
func NewDriver(config Configuration) (Driver, error) {
	switch config.DriverType {
	case DriverTypeLocal:
		if config.LocalConfiguration == nil {
			return nil, fmt.Errorf("missing local configuration")
		}
		return NewLocalFilesystem(*config.LocalConfiguration)
	case DriverTypeAWSS3:
		if config.S3Configuration == nil {
			return nil, fmt.Errorf("missing S3 configuration")
		}
		return NewS3(*config.S3Configuration)
	case None:
		return nil, nil
	}
	return nil, fmt.Errorf("unknown KSS driver type %s", config.DriverType)
}
