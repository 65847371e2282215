package domain

import "context"

// Fetcher retrieves the raw bytes of a remote PDF document
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Rasterizer turns PDF bytes into an ordered slice of page images
type Rasterizer interface {
	// Rasterize renders every page at the given resolution. Any resources it
	// acquires are released before it returns.
	Rasterize(ctx context.Context, data []byte, dpi int) ([]PageImage, error)
}

// PageInvoker converts one page image into a page outcome.
type PageInvoker interface {
	// Invoke never returns an error: every failure is carried by the outcome.
	Invoke(ctx context.Context, image PageImage, opts Options) PageOutcome
}
