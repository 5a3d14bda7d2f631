package snowflake

import (
	"sync"
	"testing"
)

func TestNewNodeBounds(t *testing.T) {
	for _, id := range []int64{0, 1, MaxNode} {
		if _, err := NewNode(id); err != nil {
			t.Errorf("NewNode(%d) = %v, want nil", id, err)
		}
	}
	for _, id := range []int64{-1, MaxNode + 1} {
		if _, err := NewNode(id); err == nil {
			t.Errorf("NewNode(%d) succeeded, want error", id)
		}
	}
}

func TestGeneratePositive(t *testing.T) {
	// Draft messages rely on negative ids never colliding with real ones.
	node, err := NewNode(MaxNode)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 100; i++ {
		if id := node.Generate(); id <= 0 {
			t.Fatalf("id = %d, want positive", id)
		}
	}
}

func TestGenerateUniqueAndOrdered(t *testing.T) {
	node, err := NewNode(1)
	if err != nil {
		t.Fatal(err)
	}

	var prev int64
	for i := 0; i < 10000; i++ {
		id := node.Generate()
		if id <= prev {
			t.Fatalf("id %d not greater than previous %d (iteration %d)", id, prev, i)
		}
		prev = id
	}
}

func TestGenerateConcurrent(t *testing.T) {
	node, err := NewNode(1)
	if err != nil {
		t.Fatal(err)
	}

	const workers, perWorker = 8, 2000
	ids := make(chan int64, workers*perWorker)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				ids <- node.Generate()
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int64]struct{}, workers*perWorker)
	for id := range ids {
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %d", id)
		}
		seen[id] = struct{}{}
	}
}
