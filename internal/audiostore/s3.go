/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package audiostore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/loqalabs/loqa-voicemirror/internal/config"
	"github.com/loqalabs/loqa-voicemirror/internal/logging"
	"go.uber.org/zap"
)

// S3Client is the subset of the S3 API the store uses. *s3.Client satisfies it.
type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3 stores audio in an S3-compatible bucket. Locators are built from
// publicURL, which must point at wherever the bucket is exposed.
type S3 struct {
	client    S3Client
	bucket    string
	prefix    string
	publicURL string
}

// NewS3 wraps a pre-configured client.
func NewS3(client S3Client, bucket, prefix, publicURL string) *S3 {
	return &S3{
		client:    client,
		bucket:    bucket,
		prefix:    strings.Trim(prefix, "/"),
		publicURL: strings.TrimRight(publicURL, "/"),
	}
}

// NewS3FromConfig builds an *s3.Client from static credentials. An empty
// key pair falls back to anonymous access, which is what local MinIO
// setups with public buckets expect.
func NewS3FromConfig(cfg config.S3Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("audiostore: s3 bucket is required")
	}

	opts := s3.Options{
		Region:       cfg.Region,
		UsePathStyle: cfg.PathStyle,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	if cfg.AccessKeyID != "" {
		ak, sk := cfg.AccessKeyID, cfg.SecretAccessKey
		opts.Credentials = aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return aws.Credentials{AccessKeyID: ak, SecretAccessKey: sk, Source: "voicemirror-config"}, nil
		})
	} else {
		opts.Credentials = aws.AnonymousCredentials{}
	}

	return NewS3(s3.New(opts), cfg.Bucket, cfg.Prefix, cfg.PublicURL), nil
}

func (s *S3) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return s.prefix + "/" + name
}

// Save uploads data with PutObject and returns publicURL/<key>.
func (s *S3) Save(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	if !validName(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	key := s.key(name)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("audiostore: put s3://%s/%s (%s): %w", s.bucket, key, errorCode(err), err)
	}

	if logging.Sugar != nil {
		logging.Sugar.Debugw("Stored audio object",
			zap.String("backend", "s3"),
			zap.String("bucket", s.bucket),
			zap.String("key", key),
			zap.Int("bytes", len(data)),
		)
	}
	return s.publicURL + "/" + key, nil
}

func (s *S3) Backend() string { return "s3" }

// errorCode extracts the S3 error code, or "unknown" for transport failures.
func errorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return "unknown"
}
