package s3

import (
	"context"
	"path"
	"path/filepath"
	"strings"

	"github.com/imamik/fleetrun/internal/fault"
)

// Stage downloads the object named by url into dir and returns the local
// path. With recursive set, url is a prefix and every object below it is
// downloaded into a directory of the prefix's base name.
func (c *Client) Stage(ctx context.Context, url, dir string, recursive bool) (string, error) {
	bucket, key, err := ParseURL(url)
	if err != nil {
		return "", err
	}

	if !recursive {
		if key == "" || strings.HasSuffix(key, "/") {
			return "", fault.New(fault.Configuration, "%s names a prefix, not an object", url)
		}
		local := filepath.Join(dir, path.Base(key))
		return local, c.Download(ctx, bucket, key, local)
	}

	prefix := strings.TrimSuffix(key, "/")
	base := path.Base(prefix)
	if prefix == "" {
		base = bucket
	} else {
		prefix += "/"
	}
	root := filepath.Join(dir, base)

	keys, err := c.ListObjects(ctx, bucket, prefix)
	if err != nil {
		return "", err
	}
	if len(keys) == 0 {
		return "", fault.New(fault.NotFound, "no objects below %s", url)
	}
	for _, k := range keys {
		rel := strings.TrimPrefix(k, prefix)
		if rel == "" || strings.HasSuffix(rel, "/") {
			continue
		}
		local := filepath.Join(root, filepath.FromSlash(rel))
		if !strings.HasPrefix(local, root+string(filepath.Separator)) {
			return "", fault.New(fault.Configuration, "object %s escapes %s", k, root)
		}
		if err := c.Download(ctx, bucket, k, local); err != nil {
			return "", err
		}
	}
	return root, nil
}

// Publish uploads the file at local to url. A url ending in "/" receives
// the file under its base name.
func (c *Client) Publish(ctx context.Context, local, url string) (string, error) {
	bucket, key, err := ParseURL(url)
	if err != nil {
		return "", err
	}
	if key == "" || strings.HasSuffix(key, "/") {
		key += filepath.Base(local)
	}
	if err := c.Upload(ctx, bucket, key, local); err != nil {
		return "", err
	}
	return Scheme + bucket + "/" + key, nil
}
