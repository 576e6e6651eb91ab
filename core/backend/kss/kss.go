package kss

import "errors"

// kss stores large binary objects outside of the standard carlog database.
// There are currently two possible backends: a local file system and AWS S3.

// ErrNotFound is returned by Get when there is no object stored for a key.
var ErrNotFound = errors.New("kss: key not found")

// Driver defines the interface for the KSS service
type Driver interface {
	// Put stores data under key, overwriting any previous object.
	Put(key string, data []byte, contentType string) error
	// Get returns the object stored under key, or ErrNotFound.
	Get(key string) (data []byte, contentType string, err error)
	// Delete removes the object stored under key. Deleting a key that
	// does not exist is not an error.
	Delete(key string) error
}

// DriverType represents the different types of KSS drivers
type DriverType string

// DriverTypeLocal is the local filesystem implementation of the KSS service
const DriverTypeLocal DriverType = "Local"

// DriverTypeAWSS3 is the AWS S3 implementation of the KSS service
const DriverTypeAWSS3 DriverType = "AWSS3"

// None is used when there is no KSS implementation
const None DriverType = ""

// Configuration contains the configuration for the KSS service
type Configuration struct {
	DriverType         DriverType
	LocalConfiguration *LocalConfiguration
	S3Configuration    *S3Configuration
}

// LocalConfiguration contains the configuration for the local filesystem KSS service
type LocalConfiguration struct {
	BasePath string
}

// S3Configuration contains the configuration for the AWS S3 KSS service
type S3Configuration struct {
	AWSBucketName string
	AWSRegion     string
	AccessID      string
	AccessKey     string
	KeyPrefix     string
}
