package dag

import (
	"errors"
	"fmt"
	"os"
)

// MaxDAGFileBytes caps a single backing file at 2^32 - 128 bytes so the
// layout stays readable by tools confined to 32-bit file offsets. Realistic
// epochs therefore span at most two files.
const MaxDAGFileBytes = 1<<32 - MixBytes

const dagFileCount = 2

// linesPerFile is the line capacity of one backing file. A variable so tests
// can shrink the shard boundary to something that fits in a temp dir.
var linesPerFile = uint32(MaxDAGFileBytes / MixBytes)

// ErrDAGTooLarge is returned when the requested line count needs more backing
// files than the handle supports.
var ErrDAGTooLarge = errors.New("dataset exceeds the supported backing files")

// DAGFile is a handle on a logical dataset stored as up to two backing files:
// "<base>" and, past the per-file cap, "<base>-1". The on-disk content is a
// raw concatenation of 128-byte lines with no header or checksum.
type DAGFile struct {
	names     [dagFileCount]string
	files     [dagFileCount]*os.File
	fullLines uint32
}

// OpenDAGFile opens (or, given os.O_CREATE, creates) every backing file a
// dataset of fullLines lines needs. On any failure the files opened so far
// are closed and unlinked and the underlying error is returned, so a caller
// probing for a pre-generated DAG can distinguish "not there" via
// errors.Is(err, os.ErrNotExist) from anything fatal.
func OpenDAGFile(base string, flag int, perm os.FileMode, fullLines uint32) (*DAGFile, error) {
	n := (uint64(fullLines) + uint64(linesPerFile) - 1) / uint64(linesPerFile)
	if n > dagFileCount {
		return nil, ErrDAGTooLarge
	}
	h := &DAGFile{fullLines: fullLines}
	for i := uint64(0); i < n; i++ {
		name := base
		if i > 0 {
			name = fmt.Sprintf("%s-%d", base, i)
		}
		f, err := os.OpenFile(name, flag, perm)
		if err != nil {
			h.discard()
			return nil, err
		}
		h.names[i] = name
		h.files[i] = f
	}
	return h, nil
}

// discard closes and unlinks whatever OpenDAGFile managed to open.
func (h *DAGFile) discard() {
	for i, f := range h.files {
		if f == nil {
			continue
		}
		f.Close()
		os.Remove(h.names[i])
		h.files[i] = nil
	}
}

// FullLines returns the line count the handle was opened for.
func (h *DAGFile) FullLines() uint32 {
	return h.fullLines
}

// Bytes sums the current sizes of the backing files. A file below the
// per-file cap ends the dataset, so anything after it is not counted.
func (h *DAGFile) Bytes() (uint64, error) {
	var size uint64
	for i, f := range h.files {
		if f == nil {
			break
		}
		st, err := f.Stat()
		if err != nil {
			return 0, fmt.Errorf("%s: %w", h.names[i], err)
		}
		size += uint64(st.Size())
		if uint64(st.Size()) != uint64(linesPerFile)*MixBytes {
			break
		}
	}
	return size, nil
}

// locate translates a logical line index to (file index, line within file).
func (h *DAGFile) locate(line uint32) (int, uint32) {
	i := 0
	for line >= linesPerFile {
		i++
		line -= linesPerFile
	}
	return i, line
}

func (h *DAGFile) checkRange(lines, start uint32) error {
	if uint64(start)+uint64(lines) > uint64(h.fullLines) {
		return fmt.Errorf("line range [%d, %d) outside dataset of %d lines", start, start+lines, h.fullLines)
	}
	return nil
}

// ReadLines reads `lines` consecutive 128-byte lines starting at line index
// start into buf, splitting the range at file boundaries. Every positional
// read must return the full span; short reads are reported as errors.
func (h *DAGFile) ReadLines(buf []byte, lines, start uint32) error {
	if err := h.checkRange(lines, start); err != nil {
		return err
	}
	i, off := h.locate(start)
	for lines > 0 {
		if i >= dagFileCount || h.files[i] == nil {
			return fmt.Errorf("%s: dataset lines missing a backing file", h.names[0])
		}
		n := lines
		if off+n > linesPerFile {
			n = linesPerFile - off
		}
		span := int64(n) * MixBytes
		if _, err := h.files[i].ReadAt(buf[:span], int64(off)*MixBytes); err != nil {
			return fmt.Errorf("%s: %w", h.names[i], err)
		}
		buf = buf[span:]
		off += n
		if off == linesPerFile {
			off = 0
			i++
		}
		lines -= n
	}
	return nil
}

// WriteLines writes `lines` consecutive 128-byte lines from buf at line index
// start, splitting the range at file boundaries. Short writes are errors.
func (h *DAGFile) WriteLines(buf []byte, lines, start uint32) error {
	if err := h.checkRange(lines, start); err != nil {
		return err
	}
	i, off := h.locate(start)
	for lines > 0 {
		if i >= dagFileCount || h.files[i] == nil {
			return fmt.Errorf("%s: dataset lines missing a backing file", h.names[0])
		}
		n := lines
		if off+n > linesPerFile {
			n = linesPerFile - off
		}
		span := int64(n) * MixBytes
		if _, err := h.files[i].WriteAt(buf[:span], int64(off)*MixBytes); err != nil {
			return fmt.Errorf("%s: %w", h.names[i], err)
		}
		buf = buf[span:]
		off += n
		if off == linesPerFile {
			off = 0
			i++
		}
		lines -= n
	}
	return nil
}

// Close releases the backing files, keeping them on disk.
func (h *DAGFile) Close() error {
	var first error
	for i, f := range h.files {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil && first == nil {
			first = fmt.Errorf("%s: %w", h.names[i], err)
		}
		h.files[i] = nil
	}
	return first
}

// Remove closes the handle and unlinks every backing file.
func (h *DAGFile) Remove() error {
	first := h.Close()
	for i := range h.names {
		if h.names[i] == "" {
			continue
		}
		if err := os.Remove(h.names[i]); err != nil && first == nil {
			first = err
		}
	}
	return first
}
