// Package s3 stages files between S3-compatible object storage and the
// local machine.
//
// Artifacts named by s3://bucket/key URLs are downloaded before they are
// broadcast to the cluster, and run logs can be uploaded afterwards.
package s3
