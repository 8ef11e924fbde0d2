package compressor

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Zstd is the default Compressor backing task_compress_level. Level is read
// as a zstd command-line level and mapped by zstd.EncoderLevelFromZstd onto
// the library's four EncoderLevels (1 and 2 give the fastest, 3 to 5 the
// default, 6 to 9 better, 10 and above the best compression); 0 is never
// passed here since the cache layer skips compression entirely when a task's
// compress level is 0.
type Zstd struct{}

// NewZstd constructs the default zstd-backed Compressor.
func NewZstd() Zstd { return Zstd{} }

func (Zstd) Tag() string { return "zstd" }

func (Zstd) Compress(data []byte, level int) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		return nil, fmt.Errorf("compressor: creating zstd encoder: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil), nil
}

func (Zstd) Decompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("compressor: creating zstd decoder: %w", err)
	}
	defer dec.Close()
	return dec.DecodeAll(data, nil)
}
