package index

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/google/uuid"

	"github.com/ragdesk/ragdesk/pkg/atomicfile"
)

var indexMagic = [4]byte{'R', 'D', 'I', 'X'}

const indexVersion uint32 = 2

// indexHeader precedes the vectors. Generation is shared with the chunks file
// written by the same Save.
type indexHeader struct {
	Magic      [4]byte
	Version    uint32
	Dim        uint32
	Count      uint64
	Generation uuid.UUID
}

var headerSize = int64(binary.Size(indexHeader{}))

// chunksFile is the JSON form of the chunk list.
type chunksFile struct {
	Generation string   `json:"generation"`
	Chunks     []string `json:"chunks"`
}

// WriteIndex encodes f in the little-endian binary index format, stamped with
// gen.
func WriteIndex(w io.Writer, f *Flat, gen uuid.UUID) error {
	hdr := indexHeader{
		Magic:      indexMagic,
		Version:    indexVersion,
		Dim:        uint32(f.dim),
		Count:      uint64(f.Len()),
		Generation: gen,
	}
	if err := binary.Write(w, binary.LittleEndian, hdr); err != nil {
		return fmt.Errorf("write index header: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, f.data); err != nil {
		return fmt.Errorf("write index vectors: %w", err)
	}
	return nil
}

// ReadIndex decodes an index written by WriteIndex. size is the total encoded
// length; a header whose dimensions disagree with it is rejected before
// anything is allocated.
func ReadIndex(r io.Reader, size int64) (*Flat, uuid.UUID, error) {
	var hdr indexHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, uuid.Nil, fmt.Errorf("read index header: %w", err)
	}
	if hdr.Magic != indexMagic {
		return nil, uuid.Nil, errors.New("not a ragdesk index file")
	}
	if hdr.Version != indexVersion {
		return nil, uuid.Nil, fmt.Errorf("unsupported index version %d", hdr.Version)
	}
	if hdr.Dim == 0 && hdr.Count > 0 {
		return nil, uuid.Nil, errors.New("index has vectors but zero dimension")
	}

	payload := size - headerSize
	if hdr.Dim > 0 && hdr.Count > uint64(math.MaxInt64/4)/uint64(hdr.Dim) {
		return nil, uuid.Nil, fmt.Errorf("index header claims %d vectors of dimension %d", hdr.Count, hdr.Dim)
	}
	values := hdr.Count * uint64(hdr.Dim)
	if payload < 0 || uint64(payload) != values*4 {
		return nil, uuid.Nil, fmt.Errorf("index header claims %d vectors of dimension %d but file holds %d bytes of vectors",
			hdr.Count, hdr.Dim, max(payload, 0))
	}

	data := make([]float32, values)
	if err := binary.Read(r, binary.LittleEndian, data); err != nil {
		return nil, uuid.Nil, fmt.Errorf("read index vectors: %w", err)
	}
	return &Flat{dim: int(hdr.Dim), data: data}, hdr.Generation, nil
}

// Save writes the index and chunk files under a fresh generation stamp. Each
// file is written to a synced temporary sibling and renamed into place, the
// chunk file last. A crash in between leaves files with different
// generations, which Load rejects.
func Save(c *Corpus, indexPath, chunksPath string) error {
	if err := c.Validate(); err != nil {
		return err
	}
	gen := uuid.New()

	idxTmp, err := atomicfile.CreateTemp(indexPath, func(w io.Writer) error {
		return WriteIndex(w, c.Index, gen)
	})
	if err != nil {
		return err
	}
	chunksTmp, err := atomicfile.CreateTemp(chunksPath, func(w io.Writer) error {
		return json.NewEncoder(w).Encode(chunksFile{Generation: gen.String(), Chunks: c.Chunks})
	})
	if err != nil {
		os.Remove(idxTmp)
		return err
	}

	if err := os.Rename(idxTmp, indexPath); err != nil {
		os.Remove(idxTmp)
		os.Remove(chunksTmp)
		return fmt.Errorf("install index file: %w", err)
	}
	if err := os.Rename(chunksTmp, chunksPath); err != nil {
		os.Remove(chunksTmp)
		return fmt.Errorf("install chunks file: %w", err)
	}
	return nil
}

// Load reads both files. It returns (nil, nil) when either file is absent and
// ErrMisaligned when they were not written by the same Save or their counts
// disagree.
func Load(indexPath, chunksPath string) (*Corpus, error) {
	if !exists(indexPath) || !exists(chunksPath) {
		return nil, nil
	}

	f, err := os.Open(indexPath)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat index: %w", err)
	}
	idx, gen, err := ReadIndex(bufio.NewReader(f), fi.Size())
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(chunksPath)
	if err != nil {
		return nil, fmt.Errorf("read chunks: %w", err)
	}
	var cf chunksFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("parse chunks: %w", err)
	}
	if cf.Generation != gen.String() {
		return nil, fmt.Errorf("%w: index generation %s, chunks generation %q", ErrMisaligned, gen, cf.Generation)
	}

	c := &Corpus{Chunks: cf.Chunks, Index: idx}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
