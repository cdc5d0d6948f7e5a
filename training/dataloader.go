package training

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/tsawler/go-htr/tensor"
)

// Example is one preprocessed text line.
type Example struct {
	// Image is row-major data of Shape [width, height, channels].
	Image []float32
	Shape []int
	// Label holds class indices without padding.
	Label []int32
	// SeqLen is the valid image width. Zero means the full width.
	SeqLen int32
}

// Dataset interface defines methods that all datasets must implement
type Dataset interface {
	Len() int
	Get(idx int) (*Example, error)
}

// LoaderConfig configures a DataLoader.
type LoaderConfig struct {
	BatchSize int
	Shuffle   bool
	// DropLast skips a trailing partial batch so every epoch has exactly
	// floor(len/batch) batches.
	DropLast    bool
	IgnoreToken int32
	Seed        int64
}

// DataLoader provides batching and shuffling over a Dataset.
type DataLoader struct {
	dataset  Dataset
	cfg      LoaderConfig
	indices  []int
	position int
	rng      *rand.Rand
	mutex    sync.Mutex
}

// NewDataLoader creates a new DataLoader
func NewDataLoader(dataset Dataset, cfg LoaderConfig) (*DataLoader, error) {
	if dataset == nil {
		return nil, fmt.Errorf("nil dataset")
	}
	if cfg.BatchSize < 1 {
		return nil, fmt.Errorf("batch size must be at least 1, got %d", cfg.BatchSize)
	}

	indices := make([]int, dataset.Len())
	for i := range indices {
		indices[i] = i
	}
	dl := &DataLoader{
		dataset: dataset,
		cfg:     cfg,
		indices: indices,
		rng:     rand.New(rand.NewSource(cfg.Seed)),
	}
	dl.Reset()
	return dl, nil
}

// Batch is one padded batch of examples.
type Batch struct {
	// Images is row-major data of Shape [batch, width, height, channels].
	Images []float32
	Shape  []int
	// Labels are padded with the ignore token to the longest label.
	Labels  [][]int32
	SeqLens []int32
}

// Len returns the number of batches in an epoch
func (dl *DataLoader) Len() int {
	n := len(dl.indices)
	if dl.cfg.DropLast {
		return n / dl.cfg.BatchSize
	}
	return (n + dl.cfg.BatchSize - 1) / dl.cfg.BatchSize
}

// Reset resets the data loader for a new epoch
func (dl *DataLoader) Reset() {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()

	dl.position = 0

	if dl.cfg.Shuffle {
		dl.rng.Shuffle(len(dl.indices), func(i, j int) {
			dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
		})
	}
}

// Next returns the next batch or nil if epoch is complete
func (dl *DataLoader) Next() (*Batch, error) {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()

	remaining := len(dl.indices) - dl.position
	if remaining <= 0 || (dl.cfg.DropLast && remaining < dl.cfg.BatchSize) {
		return nil, nil // End of epoch
	}

	batchEnd := dl.position + dl.cfg.BatchSize
	if batchEnd > len(dl.indices) {
		batchEnd = len(dl.indices)
	}
	batchIndices := dl.indices[dl.position:batchEnd]
	dl.position = batchEnd

	batch, err := dl.loadBatch(batchIndices)
	if err != nil {
		return nil, fmt.Errorf("failed to load batch: %v", err)
	}
	return batch, nil
}

// loadBatch loads a batch of samples and stacks them
func (dl *DataLoader) loadBatch(indices []int) (*Batch, error) {
	examples := make([]*Example, len(indices))
	maxLabel := 0
	for i, idx := range indices {
		ex, err := dl.dataset.Get(idx)
		if err != nil {
			return nil, fmt.Errorf("failed to load sample %d: %v", idx, err)
		}
		if len(ex.Shape) != 3 {
			return nil, fmt.Errorf("sample %d: image shape must be [width, height, channels], got %v", idx, ex.Shape)
		}
		if len(ex.Image) != tensor.NumElements(ex.Shape) {
			return nil, fmt.Errorf("sample %d: %d values do not fill shape %v", idx, len(ex.Image), ex.Shape)
		}
		if i > 0 && !sameShape(ex.Shape, examples[0].Shape) {
			return nil, fmt.Errorf("sample %d: shape %v differs from %v", idx, ex.Shape, examples[0].Shape)
		}
		if ex.SeqLen < 0 || int(ex.SeqLen) > ex.Shape[0] {
			return nil, fmt.Errorf("sample %d: sequence length %d outside [0, %d]", idx, ex.SeqLen, ex.Shape[0])
		}
		if len(ex.Label) > maxLabel {
			maxLabel = len(ex.Label)
		}
		examples[i] = ex
	}

	sampleSize := tensor.NumElements(examples[0].Shape)
	batch := &Batch{
		Images:  make([]float32, 0, sampleSize*len(examples)),
		Shape:   append([]int{len(examples)}, examples[0].Shape...),
		Labels:  make([][]int32, len(examples)),
		SeqLens: make([]int32, len(examples)),
	}
	for i, ex := range examples {
		batch.Images = append(batch.Images, ex.Image...)

		row := make([]int32, maxLabel)
		copy(row, ex.Label)
		for j := len(ex.Label); j < maxLabel; j++ {
			row[j] = dl.cfg.IgnoreToken
		}
		batch.Labels[i] = row

		batch.SeqLens[i] = ex.SeqLen
		if ex.SeqLen == 0 {
			batch.SeqLens[i] = int32(ex.Shape[0])
		}
	}
	return batch, nil
}

// Features uploads the batch images to the backend.
func (b *Batch) Features(backend tensor.Backend) (Features, error) {
	images, err := backend.Constant(b.Images, b.Shape)
	if err != nil {
		return Features{}, fmt.Errorf("failed to upload batch: %v", err)
	}
	return Features{Images: images, SeqLens: append([]int32(nil), b.SeqLens...)}, nil
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
