package events

import (
	"sync"
	"testing"
)

func TestEventJSON(t *testing.T) {
	e := New(StageCompleted, "run-1").WithData("stage", "services")
	data, err := e.JSON()
	if err != nil {
		t.Fatalf("JSON: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("empty JSON")
	}
}

func TestCollectorEmitterConcurrentEmit(t *testing.T) {
	collector := &CollectorEmitter{}

	// concurrent service rollouts emit from separate goroutines
	const emitters = 16
	const perEmitter = 50
	var wg sync.WaitGroup
	for i := 0; i < emitters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perEmitter; j++ {
				collector.Emit(New(RolloutCompleted, "run-1"))
			}
		}()
	}
	wg.Wait()

	if got := len(collector.All()); got != emitters*perEmitter {
		t.Errorf("collected %d events, want %d", got, emitters*perEmitter)
	}
	if got := len(collector.Find(RolloutCompleted)); got != emitters*perEmitter {
		t.Errorf("Find returned %d events, want %d", got, emitters*perEmitter)
	}
}
