// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package blobs stores large binary objects outside of the record store.
// There are two possible backends: a local file system and AWS S3. Image
// bytes go to a driver, the record store only keeps the object key.
package blobs

import (
	"fmt"
	"time"
)

// Driver defines the interface for object storage
type Driver interface {
	// UploadData uploads data into a new key object
	UploadData(key string, data []byte) error
	// GetPreSignedURL returns a pre-signed URL that can be used to GET the
	// object until the expiry time is passed
	GetPreSignedURL(key string, expireIn time.Duration) (URL string, err error)
	// Delete deletes the key object
	Delete(key string) error
}

// DriverType represents the different types of blob drivers
type DriverType string

// DriverTypeLocal is the local filesystem implementation
const DriverTypeLocal DriverType = "Local"

// DriverTypeAWSS3 is the AWS S3 implementation
const DriverTypeAWSS3 DriverType = "AWSS3"

// Configuration contains the configuration for the blob storage
type Configuration struct {
	DriverType         DriverType
	LocalConfiguration *LocalConfiguration
	S3Configuration    *S3Configuration
}

// LocalConfiguration contains the configuration for the local filesystem driver
type LocalConfiguration struct {
	BasePath string
}

// S3Configuration contains the configuration for the S3 driver
type S3Configuration struct {
	AWSRegion     string
	AWSBucketName string
	AccessID      string
	AccessKey     string
	KeyPrefix     string
}

// NewDriver returns the driver selected by the configuration.
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
	}
	return nil, fmt.Errorf("unknown blob driver %q", config.DriverType)
}
