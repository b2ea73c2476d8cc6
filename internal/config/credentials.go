package config

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/imamik/fleetrun/internal/fault"
)

// Credentials are key/value pairs from a vendor rc file, falling back to
// the process environment.
type Credentials struct {
	values map[string]string
}

// LoadCredentials reads an rc file of "export KEY=value" lines. An empty
// path yields credentials backed only by the environment.
func LoadCredentials(path string) (Credentials, error) {
	if path == "" {
		return Credentials{values: map[string]string{}}, nil
	}
	values, err := godotenv.Read(ExpandPath(path))
	if err != nil {
		return Credentials{}, fault.Wrapf(fault.Configuration, err, "failed to read credentials %s", path)
	}
	return Credentials{values: values}, nil
}

// Get returns the first non-empty value among keys, looking at the file
// before the environment.
func (c Credentials) Get(keys ...string) string {
	for _, k := range keys {
		if v := c.values[k]; v != "" {
			return v
		}
	}
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// HCloudToken returns the Hetzner Cloud API token.
func (c Credentials) HCloudToken() (string, error) {
	token := c.Get("HCLOUD_TOKEN")
	if token == "" {
		return "", fault.New(fault.Configuration, "HCLOUD_TOKEN is required for the hcloud backend")
	}
	return token, nil
}

// AWSKeys returns static AWS keys in either the AWS or the euca2ools
// naming. Both are empty when neither is set and the SDK's default chain
// should be used.
func (c Credentials) AWSKeys() (accessKey, secretKey string) {
	return c.Get("AWS_ACCESS_KEY_ID", "EC2_ACCESS_KEY"), c.Get("AWS_SECRET_ACCESS_KEY", "EC2_SECRET_KEY")
}

// EC2Endpoint returns a custom EC2 endpoint such as a private cloud's.
func (c Credentials) EC2Endpoint() string {
	return c.Get("EC2_URL")
}
