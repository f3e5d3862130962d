// Package backup snapshots the session database into S3-compatible
// object storage and prunes old snapshots.
package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/bowerhall/meshtale/internal/logger"
	"github.com/bowerhall/meshtale/internal/session"
)

const defaultKeep = 14

// Config holds object storage connection settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
	Prefix    string
	Keep      int
}

// Client uploads session database snapshots to one bucket.
type Client struct {
	mc     *minio.Client
	store  *session.Store
	bucket string
	prefix string
	keep   int
}

// NewClient creates a backup client over the given session store.
func NewClient(cfg Config, store *session.Store) (*Client, error) {
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	bucket := cfg.Bucket
	if bucket == "" {
		bucket = "meshtale"
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "sessions/"
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	keep := cfg.Keep
	if keep <= 0 {
		keep = defaultKeep
	}

	return &Client{mc: mc, store: store, bucket: bucket, prefix: prefix, keep: keep}, nil
}

// Init creates the backup bucket if it doesn't exist.
func (c *Client) Init(ctx context.Context) error {
	exists, err := c.mc.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", c.bucket, err)
	}

	if !exists {
		if err := c.mc.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket %s: %w", c.bucket, err)
		}
		logger.Info("bucket created", "bucket", c.bucket)
	}

	return nil
}

// Snapshot writes a consistent copy of the session database to a
// timestamped object, then prunes snapshots beyond the retention count.
func (c *Client) Snapshot(ctx context.Context) error {
	dir, err := os.MkdirTemp("", "meshtale-backup-*")
	if err != nil {
		return fmt.Errorf("temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "sessions.db")
	if err := c.store.Snapshot(path); err != nil {
		return fmt.Errorf("snapshot db: %w", err)
	}

	name := c.prefix + time.Now().UTC().Format("20060102T150405Z") + ".db"
	info, err := c.mc.FPutObject(ctx, c.bucket, name, path, minio.PutObjectOptions{
		ContentType: "application/vnd.sqlite3",
	})
	if err != nil {
		return fmt.Errorf("upload %s/%s: %w", c.bucket, name, err)
	}

	logger.Info("session backup uploaded", "object", name, "size", info.Size)

	return c.prune(ctx)
}

// prune removes the oldest snapshots once more than keep exist. The
// timestamped names sort chronologically.
func (c *Client) prune(ctx context.Context) error {
	var keys []string
	for obj := range c.mc.ListObjects(ctx, c.bucket, minio.ListObjectsOptions{
		Prefix:    c.prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return fmt.Errorf("list %s: %w", c.bucket, obj.Err)
		}
		keys = append(keys, obj.Key)
	}

	if len(keys) <= c.keep {
		return nil
	}

	sort.Strings(keys)
	for _, key := range keys[:len(keys)-c.keep] {
		if err := c.mc.RemoveObject(ctx, c.bucket, key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("delete %s/%s: %w", c.bucket, key, err)
		}
		logger.Debug("old backup removed", "object", key)
	}

	return nil
}

// Healthy checks if the object store is reachable.
func (c *Client) Healthy(ctx context.Context) bool {
	_, err := c.mc.BucketExists(ctx, c.bucket)
	return err == nil
}
