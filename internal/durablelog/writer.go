package durablelog

import (
	"io"
	"os"
	"sync"

	"github.com/ncw/directio"
)

// blockWriter wraps a directio file, padding every write out to a multiple
// of the platform's O_DIRECT block size. Short writes are padded with
// zeroes, and the file itself cannot distinguish padding from content;
// FileLog records only the starting block of each write, not how many
// bytes of the final block are payload.
type blockWriter struct {
	file  *os.File
	block int
}

var blockSizeOnce sync.Once
var alignedBlockSize int

func newBlockWriter(name string, flag int) (*blockWriter, error) {
	file, err := directio.OpenFile(name, flag, 0644)
	if err != nil {
		return nil, err
	}

	blockSizeOnce.Do(func() {
		alignedBlockSize = len(directio.AlignedBlock(directio.BlockSize))
	})

	return &blockWriter{file: file, block: alignedBlockSize}, nil
}

var _ io.WriteCloser = (*blockWriter)(nil)

// NewBlockFileWriter opens name for block-aligned O_DIRECT writes. Exposed
// for internal/checkpoint's snapshot writer, which needs the same
// padding discipline as the log itself but writes a different payload
// (point-in-time metadata snapshots rather than operation frames).
func NewBlockFileWriter(name string, flag int) (io.WriteCloser, error) {
	return newBlockWriter(name, flag)
}

// Write pads buf up to a multiple of the block size and writes it. It
// returns the number of blocks written, not the number of bytes, so the
// caller can track physical offsets in block units.
func (w *blockWriter) Write(buf []byte) (blocks int, err error) {
	if len(buf) == 0 {
		return 0, nil
	}

	rem := len(buf) % w.block
	if rem == 0 {
		if _, err = w.file.Write(buf); err != nil {
			return 0, err
		}
		return len(buf) / w.block, nil
	}

	whole := len(buf) - rem
	if whole > 0 {
		if _, err = w.file.Write(buf[:whole]); err != nil {
			return 0, err
		}
	}

	padded := make([]byte, w.block)
	copy(padded, buf[whole:])
	if _, err = w.file.Write(padded); err != nil {
		return whole / w.block, err
	}

	return whole/w.block + 1, nil
}

func (w *blockWriter) Sync() error {
	return w.file.Sync()
}

func (w *blockWriter) Close() error {
	return w.file.Close()
}
