// Package vectorindex wraps coder/hnsw in the persistent, string-keyed
// contract spec.md §4.4 names: new/add/remove/search/len/contains/save/load,
// backed by a companion JSON sidecar that maps Diachron's string ids
// ("event:17", "exchange:a1b2...") onto the int keys the graph itself uses.
package vectorindex

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/coder/hnsw"
)

const (
	m        = 16
	efSearch = 50

	// efConstruction documents the pack's HNSW default (sqvect's
	// HNSWConfig.EfConstruction); coder/hnsw derives construction-time
	// search width from M itself rather than exposing it separately.
	efConstruction = 200
)

// sidecarExt is the suffix of the JSON file stored alongside the native index file,
// written second so that, per spec.md §4.4, a sidecar with no matching
// index on disk is unambiguously a corruption rather than a valid state.
const sidecarExt = ".ids.json"

// sidecar is the on-disk string-id <-> int-key bijection, plus the raw
// vectors themselves (384 x f32 little-endian each, spec.md's embedding
// blob format) — the vector index is the sole durable home for embeddings;
// nothing duplicates them in the relational schema.
type sidecar struct {
	Dim     int               `json:"dim"`
	NextKey int               `json:"next_key"`
	IDToKey map[string]int    `json:"id_to_key"`
	Vectors map[string][]byte `json:"vectors"`
}

// Index is a persistent approximate-nearest-neighbor index over 384-dim
// cosine space, safe for concurrent use.
type Index struct {
	mu      sync.RWMutex
	dim     int
	graph   *hnsw.Graph[int]
	idToKey map[string]int
	keyToID map[int]string
	vectors map[string][]byte
	nextKey int
}

// New creates an empty index for vectors of the given dimensionality.
func New(dim int) *Index {
	g := hnsw.NewGraph[int]()
	g.M = m
	g.EfSearch = efSearch
	g.Distance = hnsw.CosineDistance
	return &Index{
		dim:     dim,
		graph:   g,
		idToKey: make(map[string]int),
		keyToID: make(map[int]string),
		vectors: make(map[string][]byte),
	}
}

// encodeVector packs a vector as 384 x f32 little-endian, the wire/storage
// format spec.md names for embeddings.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

// Add inserts or replaces the vector stored under id.
func (idx *Index) Add(id string, v []float32) error {
	if len(v) != idx.dim {
		return fmt.Errorf("vectorindex: vector has dim %d, want %d", len(v), idx.dim)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.vectors[id] = encodeVector(v)

	if key, ok := idx.idToKey[id]; ok {
		idx.graph.Delete(key)
		idx.graph.Add(hnsw.MakeNode(key, v))
		return nil
	}

	key := idx.nextKey
	idx.nextKey++
	idx.idToKey[id] = key
	idx.keyToID[key] = id
	idx.graph.Add(hnsw.MakeNode(key, v))
	return nil
}

// Remove deletes id from the index. Reports whether it was present.
func (idx *Index) Remove(id string) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	key, ok := idx.idToKey[id]
	if !ok {
		return false
	}
	delete(idx.idToKey, id)
	delete(idx.keyToID, key)
	delete(idx.vectors, id)
	return idx.graph.Delete(key)
}

// Get returns the raw vector stored under id, for callers (the blame
// resolver's LOW-tier cosine match) that need the embedding itself rather
// than a nearest-neighbor search.
func (idx *Index) Get(id string) ([]float32, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	b, ok := idx.vectors[id]
	if !ok {
		return nil, false
	}
	return decodeVector(b), true
}

// Result is a single search hit.
type Result struct {
	ID         string
	Similarity float64 // 1 - cosine_distance; higher is better
}

// Search returns the k nearest neighbors of query, sorted by descending
// similarity.
func (idx *Index) Search(query []float32, k int) ([]Result, error) {
	if len(query) != idx.dim {
		return nil, fmt.Errorf("vectorindex: query has dim %d, want %d", len(query), idx.dim)
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	nodes := idx.graph.Search(query, k)
	out := make([]Result, 0, len(nodes))
	for _, n := range nodes {
		id, ok := idx.keyToID[n.Key]
		if !ok {
			continue
		}
		out = append(out, Result{ID: id, Similarity: 1 - hnsw.CosineDistance(query, n.Value)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	return out, nil
}

// Len returns the number of vectors currently indexed.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.idToKey)
}

// Contains reports whether id is present in the index.
func (idx *Index) Contains(id string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	_, ok := idx.idToKey[id]
	return ok
}

// Exists reports whether both the index file and its sidecar are present at
// path. Only the index file existing (or only the sidecar) counts as false —
// callers that need to distinguish a missing pair from a corrupt one should
// use Load and inspect the error.
func Exists(path string) bool {
	if _, err := os.Stat(path); err != nil {
		return false
	}
	if _, err := os.Stat(path + sidecarExt); err != nil {
		return false
	}
	return true
}

// Save atomically persists the index: the native graph file is written
// first, then the id sidecar, matching spec.md §4.4's ordering so a reader
// that observes a sidecar with no index knows the index write itself never
// completed.
func (idx *Index) Save(path string) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var buf bytes.Buffer
	if err := idx.graph.Export(&buf); err != nil {
		return fmt.Errorf("vectorindex: export graph: %w", err)
	}
	if err := writeAtomic(path, buf.Bytes()); err != nil {
		return fmt.Errorf("vectorindex: write index: %w", err)
	}

	sc := sidecar{Dim: idx.dim, NextKey: idx.nextKey, IDToKey: idx.idToKey, Vectors: idx.vectors}
	scBytes, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("vectorindex: marshal sidecar: %w", err)
	}
	if err := writeAtomic(path+sidecarExt, scBytes); err != nil {
		return fmt.Errorf("vectorindex: write sidecar: %w", err)
	}
	return nil
}

// Load reads an index previously written by Save. A sidecar with no index
// file (or vice versa) is reported as a corruption, not a missing file.
func Load(path string) (*Index, error) {
	indexBytes, indexErr := os.ReadFile(path)
	scBytes, scErr := os.ReadFile(path + sidecarExt)
	switch {
	case indexErr != nil && scErr != nil:
		return nil, fmt.Errorf("vectorindex: %w", indexErr)
	case indexErr != nil:
		return nil, fmt.Errorf("vectorindex: corrupt index: sidecar present but index file missing: %w", indexErr)
	case scErr != nil:
		return nil, fmt.Errorf("vectorindex: corrupt index: index file present but sidecar missing: %w", scErr)
	}

	var sc sidecar
	if err := json.Unmarshal(scBytes, &sc); err != nil {
		return nil, fmt.Errorf("vectorindex: corrupt sidecar: %w", err)
	}

	g, err := hnsw.Import[int](bytes.NewReader(indexBytes))
	if err != nil {
		return nil, fmt.Errorf("vectorindex: corrupt index file: %w", err)
	}
	g.EfSearch = efSearch

	vectors := sc.Vectors
	if vectors == nil {
		vectors = make(map[string][]byte)
	}
	idx := &Index{
		dim:     sc.Dim,
		graph:   g,
		idToKey: sc.IDToKey,
		keyToID: make(map[int]string, len(sc.IDToKey)),
		vectors: vectors,
		nextKey: sc.NextKey,
	}
	for id, key := range sc.IDToKey {
		idx.keyToID[key] = id
	}
	return idx, nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
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
