package models

import (
	"sync"
	"testing"
)

func TestTimeMeasures_RelativeOffsetsAndOrder(t *testing.T) {
	var m TimeMeasures
	m.AddMeasure(TimeMeasure{Event: "second", Time: 100})
	m.AddMeasure(TimeMeasure{Event: "first", Time: 50})
	m.AddMeasure(TimeMeasure{Event: "third", Time: 150})

	got := m.Relative()
	want := []TimeMeasure{
		{Event: "first", Time: 0},
		{Event: "second", Time: 50},
		{Event: "third", Time: 100},
	}

	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("measure %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestTimeMeasures_RelativeEmpty(t *testing.T) {
	var m TimeMeasures
	if got := m.Relative(); got != nil {
		t.Errorf("empty measures = %v, want nil", got)
	}
}

func TestTimeMeasures_AddIsSafeConcurrently(t *testing.T) {
	var m TimeMeasures
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				m.Add(MeasurePoolTask)
			}
		}()
	}
	wg.Wait()

	if got := len(m.Relative()); got != 400 {
		t.Errorf("recorded %d measures, want 400", got)
	}
}
