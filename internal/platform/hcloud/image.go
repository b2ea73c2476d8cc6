package hcloud

import (
	"context"
	"strconv"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"

	"github.com/imamik/fleetrun/internal/provisioning"
)

// ListImages implements provisioning.Backend. System images are named by
// their name (e.g. "ubuntu-24.04"), snapshots by their description.
func (c *Client) ListImages(ctx context.Context) ([]provisioning.Image, error) {
	images, err := c.client.Image.AllWithOpts(ctx, hcloud.ImageListOpts{
		Type:   []hcloud.ImageType{hcloud.ImageTypeSystem, hcloud.ImageTypeSnapshot},
		Status: []hcloud.ImageStatus{hcloud.ImageStatusAvailable},
	})
	if err != nil {
		return nil, classify(err)
	}

	out := make([]provisioning.Image, 0, len(images))
	for _, img := range images {
		name := img.Name
		if name == "" {
			name = img.Description
		}
		out = append(out, provisioning.Image{ID: strconv.FormatInt(img.ID, 10), Name: name})
	}
	return out, nil
}
