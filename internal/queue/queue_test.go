package queue

import (
	"errors"
	"testing"

	"github.com/hadiid1718/VI-downloader/internal/errs"
)

func TestResolvePriority(t *testing.T) {
	cases := []struct {
		in      string
		queue   string
		numeric int
	}{
		{"high", QueueCritical, 1},
		{"normal", QueueDefault, 5},
		{"", QueueDefault, 5},
		{"low", QueueLow, 10},
	}
	for _, c := range cases {
		q, n, err := resolvePriority(c.in)
		if err != nil {
			t.Errorf("resolvePriority(%q): %v", c.in, err)
			continue
		}
		if q != c.queue || n != c.numeric {
			t.Errorf("resolvePriority(%q) = (%q, %d), want (%q, %d)", c.in, q, n, c.queue, c.numeric)
		}
	}

	if _, _, err := resolvePriority("urgent"); !errors.Is(err, errs.ErrValidation) {
		t.Errorf("resolvePriority(urgent) = %v, want ErrValidation", err)
	}
}

func TestQueueWeightsCoverAllQueues(t *testing.T) {
	for _, q := range []string{QueueCritical, QueueDefault, QueueLow} {
		if QueueWeights[q] <= 0 {
			t.Errorf("queue %q has no weight", q)
		}
	}
	if QueueWeights[QueueCritical] <= QueueWeights[QueueDefault] ||
		QueueWeights[QueueDefault] <= QueueWeights[QueueLow] {
		t.Error("weights must strictly favor higher priority queues")
	}
}
