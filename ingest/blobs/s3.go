package blobs

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/relabs-tech/roost/core/logger"
)

// S3 is the AWS S3 implementation of the blob driver
type S3 struct {
	config      aws.Config
	bucket      string
	baseKeyName string
}

// NewS3 returns a new S3
func NewS3(s3Config S3Configuration) (*S3, error) {
	if s3Config.AWSBucketName == "" {
		return nil, fmt.Errorf("AWSBucketName must not be empty")
	}

	cfg, err := config.LoadDefaultConfig(
		context.TODO(),
		config.WithRegion(s3Config.AWSRegion),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(s3Config.AccessID, s3Config.AccessKey, "")),
	)
	if err != nil {
		return nil, err
	}
	logger.Default().Debugln("blobs: S3 driver enabled")
	return &S3{config: cfg, bucket: s3Config.AWSBucketName, baseKeyName: s3Config.KeyPrefix}, nil
}

// UploadData uploads data into a new key object
func (s S3) UploadData(key string, data []byte) error {
	client := s3.NewFromConfig(s.config)

	_, err := client.PutObject(context.TODO(), &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.baseKeyName + key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("failed to upload object, %v", err)
	}
	return nil
}

// GetPreSignedURL returns a pre-signed URL that can be used to GET the
// object until the expiry time is passed
func (s S3) GetPreSignedURL(key string, expireIn time.Duration) (string, error) {
	client := s3.NewPresignClient(s3.NewFromConfig(s.config))

	resp, err := client.PresignGetObject(context.TODO(), &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.baseKeyName + key),
	}, s3.WithPresignExpires(expireIn))
	if err != nil {
		return "", err
	}
	return resp.URL, nil
}

// Delete deletes the key object
func (s S3) Delete(key string) error {
	client := s3.NewFromConfig(s.config)

	_, err := client.DeleteObject(context.TODO(), &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.baseKeyName + key),
	})
	if err != nil {
		logger.Default().Error("could not delete ", s.baseKeyName+key)
		return err
	}
	return nil
}
