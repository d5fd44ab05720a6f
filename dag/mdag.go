package dag

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/edsrzf/mmap-go"
)

// WriteDAGFile persists a fully materialized dataset as one raw file of
// 128-byte lines. The write goes through a temp file in the same directory
// and is renamed into place, so readers never observe a partial dataset.
func WriteDAGFile(path string, dag []byte) error {
	if len(dag)%MixBytes != 0 {
		return fmt.Errorf("dataset size %d is not a multiple of %d bytes", len(dag), MixBytes)
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(dag); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// MappedDAG is a read-only memory mapping of a single-file dataset, intended
// for development and verification flows where paging the DAG in lazily
// beats an upfront multi-gigabyte read.
type MappedDAG struct {
	path      string
	file      *os.File
	mapping   mmap.MMap
	fullLines uint32
}

// OpenMappedDAG maps an existing dataset file read-only. The file size must
// be a non-zero multiple of the 128-byte line width.
func OpenMappedDAG(path string) (*MappedDAG, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	st, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	if st.Size() == 0 || st.Size()%MixBytes != 0 {
		file.Close()
		return nil, fmt.Errorf("%s: size %d must be a non-zero multiple of %d bytes", path, st.Size(), MixBytes)
	}
	mapping, err := mmap.Map(file, mmap.RDONLY, 0)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &MappedDAG{
		path:      path,
		file:      file,
		mapping:   mapping,
		fullLines: uint32(st.Size() / MixBytes),
	}, nil
}

// FullLines returns the number of 128-byte lines in the mapped dataset.
func (m *MappedDAG) FullLines() uint32 {
	return m.fullLines
}

// Require fails loudly when the file's line count disagrees with what the
// caller derived from the epoch parameters.
func (m *MappedDAG) Require(fullLines uint32) error {
	if m.fullLines != fullLines {
		return fmt.Errorf("%s: holds %d lines (%d bytes), expected %d lines (%d bytes)",
			m.path, m.fullLines, uint64(m.fullLines)*MixBytes, fullLines, uint64(fullLines)*MixBytes)
	}
	return nil
}

// Line returns the 128-byte DAG line at the given index.
func (m *MappedDAG) Line(index uint32) []byte {
	off := uint64(index) * MixBytes
	return m.mapping[off : off+MixBytes]
}

// Close unmaps and closes the dataset file.
func (m *MappedDAG) Close() error {
	if err := m.mapping.Unmap(); err != nil {
		m.file.Close()
		return err
	}
	return m.file.Close()
}
