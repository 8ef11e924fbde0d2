// Package compressor provides Compressor implementations for the cache
// layer's optional output compression (task_compress_level).
package compressor

// Compressor mirrors taskgraph.Compressor; declared locally for the same
// reason as codec.ValueCodec — it keeps this package free of a dependency
// on the root module while remaining structurally assignable to it.
type Compressor interface {
	Tag() string
	Compress(data []byte, level int) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}
