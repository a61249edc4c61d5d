package vectordb

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"school-copilot/internal/logger"
	"school-copilot/utils"
)

const (
	indexMagic   = "SCVI"
	indexVersion = uint16(1)
)

var ErrInvalidClassID = errors.New("class id cannot be used as an artifact name")

var classIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_\-.]*$`)

var compressionCodes = map[utils.CompressionAlgorithm]byte{
	utils.CompressionNone: 0,
	utils.CompressionGzip: 1,
	utils.CompressionZlib: 2,
	utils.CompressionZstd: 3,
}

func (r *Registry) artifactPaths(classID string) (string, string, error) {
	if !classIDPattern.MatchString(classID) {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidClassID, classID)
	}
	base := filepath.Join(r.dir, classID)
	return base + ".index", base + ".mapping", nil
}

// SaveIndex writes the class's index and chunk mapping. Each file is
// replaced atomically.
func (r *Registry) SaveIndex(classID string) error {
	indexPath, mappingPath, err := r.artifactPaths(classID)
	if err != nil {
		return err
	}

	ci, ok := r.get(classID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoIndex, classID)
	}

	ci.persistMu.Lock()
	defer ci.persistMu.Unlock()

	ci.mu.RLock()
	if ci.index == nil {
		ci.mu.RUnlock()
		return fmt.Errorf("%w: %s", ErrNoIndex, classID)
	}
	dim := ci.index.Dim()
	data := make([]float32, len(ci.index.data))
	copy(data, ci.index.data)
	mapping := make([]string, len(ci.chunkIDs))
	copy(mapping, ci.chunkIDs)
	ci.mu.RUnlock()

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("create vector db dir: %w", err)
	}

	encoded, err := encodeIndex(dim, data)
	if err != nil {
		return err
	}
	mappingJSON, err := json.Marshal(mapping)
	if err != nil {
		return fmt.Errorf("encode chunk mapping: %w", err)
	}

	if err := writeFileAtomic(indexPath, encoded); err != nil {
		return fmt.Errorf("write index %s: %w", indexPath, err)
	}
	if err := writeFileAtomic(mappingPath, mappingJSON); err != nil {
		return fmt.Errorf("write mapping %s: %w", mappingPath, err)
	}
	if info, err := os.Stat(mappingPath); err == nil {
		ci.mu.Lock()
		ci.stamp = info.ModTime()
		ci.mu.Unlock()
	}

	logger.Debug("Saved class vector index", "class_id", classID, "vectors", len(mapping))
	return nil
}

// LoadIndex restores the class's index from disk. It reports false when
// no artifacts exist.
func (r *Registry) LoadIndex(classID string) (bool, error) {
	indexPath, mappingPath, err := r.artifactPaths(classID)
	if err != nil {
		return false, err
	}

	var stamp time.Time
	if info, err := os.Stat(mappingPath); err == nil {
		stamp = info.ModTime()
	}

	raw, errIndex := os.ReadFile(indexPath)
	mappingJSON, errMapping := os.ReadFile(mappingPath)
	switch {
	case errors.Is(errIndex, fs.ErrNotExist) && errors.Is(errMapping, fs.ErrNotExist):
		return false, nil
	case errors.Is(errIndex, fs.ErrNotExist) || errors.Is(errMapping, fs.ErrNotExist):
		return false, fmt.Errorf("%w: %s has only one of its two artifacts", ErrCorruptIndex, classID)
	case errIndex != nil:
		return false, fmt.Errorf("read index %s: %w", indexPath, errIndex)
	case errMapping != nil:
		return false, fmt.Errorf("read mapping %s: %w", mappingPath, errMapping)
	}

	dim, data, err := decodeIndex(raw)
	if err != nil {
		return false, err
	}
	if dim != r.dim {
		return false, fmt.Errorf("%w: stored index of %s has %d dimensions, expected %d", ErrDimensionMismatch, classID, dim, r.dim)
	}

	var mapping []string
	if err := json.Unmarshal(mappingJSON, &mapping); err != nil {
		return false, fmt.Errorf("%w: decode mapping: %v", ErrCorruptIndex, err)
	}
	if len(data)/dim != len(mapping) {
		return false, fmt.Errorf("%w: %d vectors but %d chunk ids", ErrCorruptIndex, len(data)/dim, len(mapping))
	}

	ci := r.entry(classID)
	ci.mu.Lock()
	ci.index = &FlatIndex{dim: dim, data: data}
	ci.chunkIDs = mapping
	ci.stamp = stamp
	ci.mu.Unlock()

	logger.Info("Loaded class vector index", "class_id", classID, "vectors", len(mapping))
	return true, nil
}

// Refresh reloads the class index when its artifacts on disk are newer than
// the copy in memory, and forgets a saved index whose artifacts were
// removed. It reports whether the in-memory index changed.
func (r *Registry) Refresh(classID string) (bool, error) {
	_, mappingPath, err := r.artifactPaths(classID)
	if err != nil {
		return false, err
	}

	ci, known := r.get(classID)
	info, err := os.Stat(mappingPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if !known {
			return false, nil
		}
		ci.mu.Lock()
		defer ci.mu.Unlock()
		if ci.stamp.IsZero() {
			return false, nil
		}
		ci.index, ci.chunkIDs, ci.stamp = nil, nil, time.Time{}
		return true, nil
	case err != nil:
		return false, fmt.Errorf("stat mapping %s: %w", mappingPath, err)
	}

	if known {
		ci.mu.RLock()
		current := !info.ModTime().After(ci.stamp)
		ci.mu.RUnlock()
		if current {
			return false, nil
		}
	}
	return r.LoadIndex(classID)
}

func (r *Registry) removeArtifacts(classID string) error {
	indexPath, mappingPath, err := r.artifactPaths(classID)
	if err != nil {
		return err
	}
	for _, p := range []string{indexPath, mappingPath} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", p, err)
		}
	}
	return nil
}

// encodeIndex lays out: magic(4) version(2) compression(1) then the
// compressed body dim(u32) count(u32) float32 rows, all little-endian.
func encodeIndex(dim int, data []float32) ([]byte, error) {
	count := 0
	if dim > 0 {
		count = len(data) / dim
	}

	body := make([]byte, 8+4*len(data))
	binary.LittleEndian.PutUint32(body[0:4], uint32(dim))
	binary.LittleEndian.PutUint32(body[4:8], uint32(count))
	for i, v := range data {
		binary.LittleEndian.PutUint32(body[8+4*i:], math.Float32bits(v))
	}

	alg := utils.ChooseCompression(len(body))
	compressed, err := utils.CompressData(body, alg)
	if err != nil {
		return nil, fmt.Errorf("compress index: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(indexMagic)
	_ = binary.Write(&buf, binary.LittleEndian, indexVersion)
	buf.WriteByte(compressionCodes[alg])
	buf.Write(compressed)
	return buf.Bytes(), nil
}

func decodeIndex(raw []byte) (int, []float32, error) {
	if len(raw) < 7 || string(raw[:4]) != indexMagic {
		return 0, nil, fmt.Errorf("%w: bad index header", ErrCorruptIndex)
	}
	if v := binary.LittleEndian.Uint16(raw[4:6]); v != indexVersion {
		return 0, nil, fmt.Errorf("%w: unsupported index version %d", ErrCorruptIndex, v)
	}

	var alg utils.CompressionAlgorithm
	found := false
	for a, code := range compressionCodes {
		if code == raw[6] {
			alg, found = a, true
			break
		}
	}
	if !found {
		return 0, nil, fmt.Errorf("%w: unknown compression code %d", ErrCorruptIndex, raw[6])
	}

	body, err := utils.DecompressData(raw[7:], alg)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrCorruptIndex, err)
	}
	if len(body) < 8 {
		return 0, nil, fmt.Errorf("%w: truncated index body", ErrCorruptIndex)
	}

	dim := int(binary.LittleEndian.Uint32(body[0:4]))
	count := int(binary.LittleEndian.Uint32(body[4:8]))
	if dim <= 0 || len(body) != 8+4*dim*count {
		return 0, nil, fmt.Errorf("%w: index body size does not match header", ErrCorruptIndex)
	}

	data := make([]float32, dim*count)
	for i := range data {
		data[i] = math.Float32frombits(binary.LittleEndian.Uint32(body[8+4*i:]))
	}
	return dim, data, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
