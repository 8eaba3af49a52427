package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/use-agent/apiary/models"
)

func noopPool() *Pool {
	return NewPool(PoolConfig{Workers: 1, MaxRetries: 1},
		func(ctx context.Context, job *models.Job) error { return nil },
		func(job *models.Job, err error) {},
		nil,
	)
}

func TestRegistry_ConcurrentCreateSameKey(t *testing.T) {
	var created atomic.Int32
	r := NewRegistry(func(cfg ExecConfig) (*Pool, error) {
		created.Add(1)
		return noopPool(), nil
	})
	defer r.Close()

	cfg := ExecConfig{ProxyGroup: ProxyGroupResidential}

	var wg sync.WaitGroup
	pools := make([]*Pool, 32)
	for i := range pools {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := r.GetOrCreate(cfg)
			if err != nil {
				t.Errorf("GetOrCreate: %v", err)
				return
			}
			pools[i] = p
		}(i)
	}
	wg.Wait()

	if created.Load() != 1 {
		t.Errorf("factory ran %d times, want exactly 1", created.Load())
	}
	for i, p := range pools {
		if p != pools[0] {
			t.Fatalf("goroutine %d got a different pool instance", i)
		}
	}
}

func TestRegistry_DistinctKeysDistinctPools(t *testing.T) {
	r := NewRegistry(func(cfg ExecConfig) (*Pool, error) {
		return noopPool(), nil
	})
	defer r.Close()

	a, err := r.GetOrCreate(ExecConfig{})
	if err != nil {
		t.Fatal(err)
	}
	b, err := r.GetOrCreate(ExecConfig{ProxyGroup: ProxyGroupResidential})
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("distinct configurations share one pool")
	}
	if r.Size() != 2 {
		t.Errorf("size = %d, want 2", r.Size())
	}
}

func TestRegistry_FailedCreationRetries(t *testing.T) {
	var calls atomic.Int32
	r := NewRegistry(func(cfg ExecConfig) (*Pool, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("browser launch failed")
		}
		return noopPool(), nil
	})
	defer r.Close()

	if _, err := r.GetOrCreate(ExecConfig{}); err == nil {
		t.Fatal("first creation should fail")
	}
	p, err := r.GetOrCreate(ExecConfig{})
	if err != nil {
		t.Fatalf("second creation should retry and succeed, got: %v", err)
	}
	if p == nil {
		t.Fatal("second creation returned no pool")
	}
	if calls.Load() != 2 {
		t.Errorf("factory calls = %d, want 2", calls.Load())
	}
}

func TestRegistry_SubmitReachesPool(t *testing.T) {
	ran := make(chan string, 1)
	r := NewRegistry(func(cfg ExecConfig) (*Pool, error) {
		return NewPool(PoolConfig{Workers: 1, MaxRetries: 1},
			func(ctx context.Context, job *models.Job) error {
				ran <- job.Token
				return nil
			},
			func(job *models.Job, err error) {},
			nil,
		), nil
	})
	defer r.Close()

	job := testJob()
	if err := r.Submit(ExecConfig{}, job); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got := <-ran; got != job.Token {
		t.Errorf("ran token = %s, want %s", got, job.Token)
	}

	measures := job.Measures.Relative()
	found := false
	for _, m := range measures {
		if m.Event == models.MeasureBeforeQueueAdd {
			found = true
		}
	}
	if !found {
		t.Error("submit did not record the queue-add measure")
	}
}
