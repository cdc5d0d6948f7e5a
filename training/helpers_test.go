package training

import (
	"bytes"
	"fmt"
	"log"
	"testing"

	"github.com/tsawler/go-htr/layers"
)

const testClasses = 6

func testParams() RunParams {
	p := DefaultRunParams()
	p.NumClasses = testClasses
	p.LogStepCountSteps = 1
	return p
}

// testArchitecture maps [b, 16, 8, 1] images to [b, 8, 16] sequences.
func testArchitecture(t *testing.T) layers.Architecture {
	t.Helper()
	arch, err := layers.NewModelBuilder().
		AddConv2D(4, 3, "conv").
		AddMaxPool2D(2, 2, layers.RoundFloor, "pool").
		AddDropout(0.25, "drop").
		AddCollapseToSequence("collapse").
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return arch
}

type memDataset struct {
	examples []*Example
}

func (d *memDataset) Len() int { return len(d.examples) }

func (d *memDataset) Get(idx int) (*Example, error) {
	if idx < 0 || idx >= len(d.examples) {
		return nil, fmt.Errorf("index %d out of range", idx)
	}
	return d.examples[idx], nil
}

func newMemDataset(n int) *memDataset {
	d := &memDataset{}
	for i := 0; i < n; i++ {
		d.examples = append(d.examples, &Example{
			Image:  make([]float32, 16*8*1),
			Shape:  []int{16, 8, 1},
			Label:  []int32{int32(i % (testClasses - 1)), 1},
			SeqLen: int32(10 + i),
		})
	}
	return d
}

func bufferLogger() (*log.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return log.New(&buf, "", 0), &buf
}
