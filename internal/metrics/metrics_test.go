package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersAreRegisteredAndIncrementable(t *testing.T) {
	DownloadsCompleted.Inc()
	if got := testutil.ToFloat64(DownloadsCompleted); got < 1 {
		t.Fatalf("expected DownloadsCompleted to have been incremented, got %v", got)
	}

	DownloadsFailed.WithLabelValues("timeout").Inc()
	if got := testutil.ToFloat64(DownloadsFailed.WithLabelValues("timeout")); got < 1 {
		t.Fatalf("expected DownloadsFailed{kind=timeout} to have been incremented, got %v", got)
	}
}

func TestRegistryGathersRegisteredMetrics(t *testing.T) {
	ChunksTransferred.WithLabelValues("blockex").Inc()
	families, err := Registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := false
	for _, fam := range families {
		if fam.GetName() == "chiral_chunks_transferred_total" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected chiral_chunks_transferred_total to be present in the registry")
	}
}
