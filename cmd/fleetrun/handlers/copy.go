package handlers

import (
	"context"
	"os"

	"github.com/imamik/fleetrun/internal/cluster"
	"github.com/imamik/fleetrun/internal/fault"
	"github.com/imamik/fleetrun/internal/platform/s3"
)

// Copy replicates a file or directory to every node of an established
// cluster. An empty src copies every artifact of the cluster file.
func Copy(ctx context.Context, g Globals, configPath, src, dst string, recursive bool) error {
	s, err := openSession(ctx, g, configPath)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.load(ctx); err != nil {
		return err
	}
	set := s.cluster.Snapshot()
	if set.Len() == 0 {
		return fault.New(fault.Configuration, "cluster %s has no nodes", s.cfg.Name)
	}
	s.trust.RecordKeys(set.Nodes())

	if src != "" {
		return s.distribute(ctx, set, src, dst, recursive)
	}
	for _, a := range s.cfg.Artifacts {
		if err := s.distribute(ctx, set, a.Source, a.Destination, a.Recursive); err != nil {
			return err
		}
	}
	return nil
}

// distribute copies src to dst on every node of set, staging object store
// sources on the orchestrator first.
func (s *session) distribute(ctx context.Context, set cluster.NodeSet, src, dst string, recursive bool) error {
	if dst == "" {
		return fault.New(fault.Configuration, "no destination for %s", src)
	}
	if s3.IsURL(src) {
		stager, err := newStager(s.cfg, s.creds)
		if err != nil {
			return err
		}
		dir, err := os.MkdirTemp("", "fleetrun-stage-")
		if err != nil {
			return err
		}
		defer func() { _ = os.RemoveAll(dir) }()

		staged, err := stager.Stage(ctx, src, dir, recursive)
		if err != nil {
			return err
		}
		s.log.Info("staged artifact", "source", src, "path", staged)
		src = staged
	}

	report, err := s.cluster.Distribute(ctx, set, src, dst, recursive)
	if err != nil {
		return err
	}
	if err := cluster.PrintCopyReport(stdout, report); err != nil {
		return err
	}
	return report.Err()
}
