// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sink

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSSink writes objects under a prefix of a Cloud Storage bucket.
type GCSSink struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSSink creates a client for bucket.
//
// Inputs:
//
//	bucket - Bucket name. Must not be empty.
//	prefix - Object name prefix, may be empty.
//	credentialsFile - Service account key. Empty uses application default credentials.
//	opts - Extra client options (endpoint overrides in tests).
func NewGCSSink(ctx context.Context, bucket, prefix, credentialsFile string, opts ...option.ClientOption) (*GCSSink, error) {
	if bucket == "" {
		return nil, fmt.Errorf("%w: empty bucket", ErrInvalidName)
	}
	if credentialsFile != "" {
		if _, err := os.Stat(credentialsFile); err != nil {
			return nil, fmt.Errorf("service account key not found at %s: %w", credentialsFile, err)
		}
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GCS storage client: %w", err)
	}
	return &GCSSink{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}, nil
}

// Write uploads data as one object.
func (s *GCSSink) Write(ctx context.Context, name string, data []byte) error {
	if err := checkName(name); err != nil {
		return err
	}
	obj := s.client.Bucket(s.bucket).Object(s.objectName(name))
	w := obj.NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	w.CacheControl = "no-cache, no-store, must-revalidate"

	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("upload %s: %w", s.Location(name), err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close GCS writer for %s: %w", s.Location(name), err)
	}
	return nil
}

// Location returns the gs:// URL of name.
func (s *GCSSink) Location(name string) string {
	return "gs://" + s.bucket + "/" + s.objectName(name)
}

// Close closes the storage client.
func (s *GCSSink) Close() error {
	return s.client.Close()
}

func (s *GCSSink) objectName(name string) string {
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

// ParseGCSURL splits "gs://bucket/prefix". ok is false for other targets.
func ParseGCSURL(target string) (bucket, prefix string, ok bool) {
	rest, found := strings.CutPrefix(target, "gs://")
	if !found {
		return "", "", false
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	return bucket, strings.Trim(prefix, "/"), true
}
