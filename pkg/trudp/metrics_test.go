package trudp

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestMemorySinkBounded(t *testing.T) {
	s := NewMemorySink(3)
	for i := 0; i < 5; i++ {
		s.Record(Record{Seq: uint32(i)})
	}
	got := s.Drain()
	if len(got) != 3 {
		t.Fatalf("len(Drain()) = %d, want 3", len(got))
	}
	if got[0].Seq != 2 || got[2].Seq != 4 {
		t.Fatalf("Drain() = %+v, want seqs [2 3 4]", got)
	}
	if rest := s.Drain(); rest != nil {
		t.Fatalf("second Drain() = %v, want nil after first drain", rest)
	}
}

type fakeSnapshotter struct {
	id   string
	rtt  RTTStats
	cong CongestionStats
	dup  uint64
}

func (f fakeSnapshotter) ConnID() string                 { return f.id }
func (f fakeSnapshotter) RTTStats() RTTStats             { return f.rtt }
func (f fakeSnapshotter) CongestionStats() CongestionStats { return f.cong }
func (f fakeSnapshotter) DuplicateSegments() uint64      { return f.dup }

func TestCollectorDescribeCollect(t *testing.T) {
	c := NewCollector()
	c.Add(fakeSnapshotter{
		id:   "conn-1",
		rtt:  RTTStats{SRTT: 50 * time.Millisecond, RTO: 200 * time.Millisecond},
		cong: CongestionStats{Cwnd: 4, Ssthresh: 16, WindowSize: 4, State: SlowStart},
		dup:  2,
	})

	descs := make(chan *prometheus.Desc, 16)
	c.Describe(descs)
	close(descs)
	var descCount int
	for range descs {
		descCount++
	}
	if descCount != 9 {
		t.Fatalf("Describe emitted %d descs, want 9", descCount)
	}

	metrics := make(chan prometheus.Metric, 16)
	c.Collect(metrics)
	close(metrics)
	var metricCount int
	for range metrics {
		metricCount++
	}
	if metricCount != 9 {
		t.Fatalf("Collect emitted %d metrics for one conn, want 9", metricCount)
	}

	c.Remove("conn-1")
	metrics2 := make(chan prometheus.Metric, 16)
	c.Collect(metrics2)
	close(metrics2)
	var afterRemove int
	for range metrics2 {
		afterRemove++
	}
	if afterRemove != 0 {
		t.Fatalf("Collect after Remove emitted %d metrics, want 0", afterRemove)
	}
}
