package rag

import (
	"context"
	"errors"
	"sync"

	"github.com/refset/insurance-support-agent/internal/workflow"
)

type fakeEmbedder struct {
	dim  int
	err  error
	fail map[string]bool
}

func (f *fakeEmbedder) Dimensions() int { return f.dim }

func (f *fakeEmbedder) Embed(_ context.Context, text, _ string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.fail[text] {
		return nil, errors.New("embedding quota exceeded")
	}
	v := make([]float32, f.dim)
	for i := range v {
		v[i] = 0.5
	}
	return v, nil
}

type indexed struct {
	index  string
	doc    Document
	vector []float32
}

type fakeStore struct {
	mu      sync.Mutex
	results map[string][]workflow.ContextChunk
	errs    map[string]error
	reject  map[string]bool
	writes  []indexed
	k       []int
}

func (f *fakeStore) Search(_ context.Context, index string, _ []float32, k int) ([]workflow.ContextChunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.k = append(f.k, k)
	if err := f.errs[index]; err != nil {
		return nil, err
	}
	return f.results[index], nil
}

func (f *fakeStore) Index(_ context.Context, index string, doc Document, vector []float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reject[doc.ID] {
		return errors.New("mapping conflict")
	}
	f.writes = append(f.writes, indexed{index: index, doc: doc, vector: vector})
	return nil
}
