// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"regexp"
	"sort"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type ObjectInfo struct {
	Key         string
	ContentType string
	ETag        string
}

// Storage is the subset of object storage used by this tool. The
// remote implementation talks to an S3-compatible server; tests can
// provide a fake.
type Storage interface {
	List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error)
	PutFile(ctx context.Context, bucket string, remotepath string, localpath string, contentType string) error
	Remove(ctx context.Context, bucket, path string) error
}

type remoteStorage struct {
	client *minio.Client
}

func (s *remoteStorage) List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	opts := minio.ListObjectsOptions{Prefix: prefix, Recursive: true}
	result := make([]ObjectInfo, 0)
	for f := range s.client.ListObjects(ctx, bucket, opts) {
		if f.Err != nil {
			return nil, f.Err
		}
		result = append(result, ObjectInfo{Key: f.Key, ContentType: f.ContentType, ETag: f.ETag})
	}
	return result, nil
}

func (s *remoteStorage) PutFile(ctx context.Context, bucket string, remotepath string, localpath string, contentType string) error {
	opts := minio.PutObjectOptions{ContentType: contentType}
	_, err := s.client.FPutObject(ctx, bucket, remotepath, localpath, opts)
	return err
}

func (s *remoteStorage) Remove(ctx context.Context, bucket, p string) error {
	return s.client.RemoveObject(ctx, bucket, p, minio.RemoveObjectOptions{})
}

// NewStorage sets up a client for accessing S3-compatible object
// storage. The key file is JSON with Endpoint, Key and Secret fields.
func NewStorage(keypath string) (Storage, error) {
	data, err := os.ReadFile(keypath)
	if err != nil {
		return nil, err
	}

	var config struct{ Endpoint, Key, Secret string }
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, err
	}

	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.Key, config.Secret, ""),
		Secure: true,
	})
	if err != nil {
		return nil, err
	}

	client.SetAppInfo("GvrsBuild", "0.1")
	return &remoteStorage{client: client}, nil
}

// keepUploads is how many date-stamped uploads of one raster survive
// garbage collection.
const keepUploads = 3

// Cleanup deletes all but the most recent uploads that share the
// directory and extension of remotepath. Date-stamped object names
// sort chronologically, so plain string order finds the oldest.
func Cleanup(s Storage, bucket, remotepath string) error {
	ctx := context.Background()
	dir := path.Dir(remotepath)
	ext := regexp.QuoteMeta(path.Ext(remotepath))
	re := regexp.MustCompile(regexp.QuoteMeta(dir) + `/.*` + ext + `$`)

	files, err := s.List(ctx, bucket, dir+"/")
	if err != nil {
		return err
	}
	found := make([]string, 0, len(files))
	for _, f := range files {
		if re.MatchString(f.Key) {
			found = append(found, f.Key)
		}
	}
	if len(found) <= keepUploads {
		return nil
	}
	sort.Strings(found)
	for _, p := range found[0 : len(found)-keepUploads] {
		msg := fmt.Sprintf("Deleting from storage: %s/%s", bucket, p)
		fmt.Println(msg)
		if logger != nil {
			logger.Println(msg)
		}
		if err := s.Remove(ctx, bucket, p); err != nil {
			return err
		}
	}
	return nil
}
