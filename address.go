package assetforge

import (
	"context"
	"strings"

	"github.com/birdayz/assetforge/cas"
	"github.com/birdayz/assetforge/cas/s3"
)

// OpenStore resolves a content store backend from a connection string,
// once at startup: "mem:", a filesystem path or "file:" URI, or an
// "s3://endpoint/bucket" object-store address. Small payloads are inlined
// into identifiers so hot metadata reads skip the backend.
func OpenStore(ctx context.Context, address string) (cas.Provider, error) {
	var (
		p   cas.Provider
		err error
	)
	if strings.HasPrefix(address, "s3://") {
		p, err = s3.Open(ctx, address)
	} else {
		p, err = cas.Open(ctx, address)
	}
	if err != nil {
		return nil, err
	}
	return cas.WithSmallContent(p, cas.SmallContentThreshold), nil
}
