package storage

import "io"

// BlobStore holds uploaded material files (pdfs, images). Keys are
// slash-separated paths assigned by the API layer.
type BlobStore interface {
	Put(key string, r io.Reader) (string, error) // returns canonical key
	Get(key string) (io.ReadCloser, error)
	Delete(key string) error
	SignedURL(key string) (string, error) // public path the asset handler serves
}
