package trace

import (
	"fmt"
	"os"
	"path/filepath"

	"go.trai.ch/zerr"

	"github.com/loomworks/loom/internal/adapters/state"
	"github.com/loomworks/loom/internal/core/domain"
)

// Report is the outcome of comparing two runs offline.
type Report struct {
	Match      bool     `json:"match"`
	SubcallsA  int      `json:"subcalls_a"`
	SubcallsB  int      `json:"subcalls_b"`
	Mismatches []string `json:"mismatches,omitempty"`
}

// Compare verifies that two run directories produced identical ordered
// subcall response hashes and an identical final artifact. The comparison
// works entirely from persisted state and trace logs; neither run is
// re-executed.
func Compare(runDirA, runDirB string) (*Report, error) {
	a, err := loadRun(runDirA)
	if err != nil {
		return nil, err
	}
	b, err := loadRun(runDirB)
	if err != nil {
		return nil, err
	}

	report := &Report{
		SubcallsA: len(a.subcallHashes),
		SubcallsB: len(b.subcallHashes),
	}

	if a.status != b.status {
		report.Mismatches = append(report.Mismatches,
			fmt.Sprintf("status: %s vs %s", a.status, b.status))
	}

	if len(a.subcallHashes) != len(b.subcallHashes) {
		report.Mismatches = append(report.Mismatches,
			fmt.Sprintf("subcall count: %d vs %d", len(a.subcallHashes), len(b.subcallHashes)))
	} else {
		for i := range a.subcallHashes {
			if a.subcallHashes[i] != b.subcallHashes[i] {
				report.Mismatches = append(report.Mismatches,
					fmt.Sprintf("subcall[%d] response hash: %s vs %s", i, a.subcallHashes[i], b.subcallHashes[i]))
				break
			}
		}
	}

	if a.artifactHash != b.artifactHash {
		report.Mismatches = append(report.Mismatches,
			fmt.Sprintf("final artifact hash: %s vs %s", orNone(a.artifactHash), orNone(b.artifactHash)))
	}

	report.Match = len(report.Mismatches) == 0
	return report, nil
}

type runFacts struct {
	status        domain.Status
	subcallHashes []string
	artifactHash  string
}

func loadRun(runDir string) (*runFacts, error) {
	es, err := state.LoadExecutorState(runDir)
	if err != nil {
		return nil, err
	}
	if es == nil {
		return nil, domain.Annotate(domain.ErrNoRunState, "run_dir", runDir)
	}

	facts := &runFacts{status: es.Status}

	// The subcall history is reconstructed from the trace alone; the
	// hashes carried in the executor state are not consulted.
	events, err := Read(filepath.Join(runDir, es.TracePath))
	if err != nil {
		return nil, err
	}
	for _, ev := range events {
		if ev.Kind == domain.TraceSubcall && ev.ResponseHash != "" {
			facts.subcallHashes = append(facts.subcallHashes, ev.ResponseHash)
		}
	}

	if es.FinalArtifactPath != "" {
		raw, err := os.ReadFile(filepath.Join(runDir, es.FinalArtifactPath)) //nolint:gosec
		if err != nil {
			return nil, zerr.With(zerr.Wrap(err, "failed to read final artifact"), "run_dir", runDir)
		}
		facts.artifactHash = domain.HashBytes(raw)
	}
	return facts, nil
}

func orNone(h string) string {
	if h == "" {
		return "(none)"
	}
	return h
}
