package respond

import (
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/use-agent/apiary/models"
)

type recordingSink struct {
	mu         sync.Mutex
	deliveries []*Delivery
}

func (s *recordingSink) Deliver(d *Delivery) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries = append(s.deliveries, d)
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.deliveries)
}

func TestResolve_DeliversOnce(t *testing.T) {
	c := NewCorrelator()
	sink := &recordingSink{}
	c.Register("tok", sink)

	if !c.Resolve("tok", &Delivery{StatusCode: 200}) {
		t.Fatal("first resolve should succeed")
	}
	if c.Resolve("tok", &Delivery{StatusCode: 500}) {
		t.Error("second resolve should be dropped")
	}
	if sink.count() != 1 {
		t.Fatalf("deliveries = %d, want exactly 1", sink.count())
	}
	if sink.deliveries[0].StatusCode != 200 {
		t.Errorf("delivered status = %d, want the first resolver's 200", sink.deliveries[0].StatusCode)
	}
}

func TestResolve_UnknownToken(t *testing.T) {
	c := NewCorrelator()
	if c.Resolve("never-registered", &Delivery{}) {
		t.Error("resolving an unknown token should report false")
	}
}

func TestResolve_ConcurrentExactlyOnce(t *testing.T) {
	c := NewCorrelator()
	sink := &recordingSink{}
	c.Register("tok", sink)

	var wg sync.WaitGroup
	wins := make(chan bool, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(status int) {
			defer wg.Done()
			wins <- c.Resolve("tok", &Delivery{StatusCode: status})
		}(200 + i)
	}
	wg.Wait()
	close(wins)

	won := 0
	for w := range wins {
		if w {
			won++
		}
	}
	if won != 1 {
		t.Errorf("winners = %d, want exactly 1", won)
	}
	if sink.count() != 1 {
		t.Errorf("deliveries = %d, want exactly 1", sink.count())
	}
}

func TestResolveError_Shape(t *testing.T) {
	c := NewCorrelator()
	sink := &recordingSink{}
	c.Register("tok", sink)

	c.ResolveError("tok", http.StatusBadGateway, &models.ErrorDetail{
		Code:    models.ErrCodeNavigation,
		Message: "navigation failed",
	})

	d := sink.deliveries[0]
	if d.StatusCode != http.StatusBadGateway || d.ContentType != "application/json" {
		t.Errorf("delivery = %+v", d)
	}

	var payload struct {
		Error *models.ErrorDetail `json:"error"`
	}
	if err := json.Unmarshal(d.Body, &payload); err != nil {
		t.Fatalf("body is not valid JSON: %v", err)
	}
	if payload.Error == nil || payload.Error.Code != models.ErrCodeNavigation {
		t.Errorf("payload = %+v", payload)
	}
}

func TestTimeoutAfter_FiresWhenUnresolved(t *testing.T) {
	c := NewCorrelator()
	sink := &recordingSink{}
	c.Register("tok", sink)

	c.TimeoutAfter("tok", 10*time.Millisecond)

	deadline := time.Now().Add(time.Second)
	for sink.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if sink.count() != 1 {
		t.Fatal("timeout never fired")
	}
	if sink.deliveries[0].StatusCode != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want 504", sink.deliveries[0].StatusCode)
	}
}

func TestTimeoutAfter_LosesToEarlierResolve(t *testing.T) {
	c := NewCorrelator()
	sink := &recordingSink{}
	c.Register("tok", sink)

	timer := c.TimeoutAfter("tok", 20*time.Millisecond)
	defer timer.Stop()

	c.Resolve("tok", &Delivery{StatusCode: 200})
	time.Sleep(50 * time.Millisecond)

	if sink.count() != 1 {
		t.Fatalf("deliveries = %d, want 1", sink.count())
	}
	if sink.deliveries[0].StatusCode != 200 {
		t.Errorf("status = %d, the timeout should have lost the race", sink.deliveries[0].StatusCode)
	}
}

func TestTimeoutAll_FlushesEveryPending(t *testing.T) {
	c := NewCorrelator()
	sinks := []*recordingSink{{}, {}, {}}
	for i, s := range sinks {
		c.Register(string(rune('a'+i)), s)
	}

	c.TimeoutAll(time.Millisecond)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		done := 0
		for _, s := range sinks {
			done += s.count()
		}
		if done == len(sinks) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("not every pending request was flushed")
}
