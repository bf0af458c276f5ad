// Package mediaprober wraps the external media-decoding backend behind the
// MetadataExtraction pipeline step (spec §4.5). The decoding backend itself
// is out of scope (spec §1); this package is the thin adapter around it.
package mediaprober

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"catalogizer/internal/item"
	"catalogizer/internal/parsertask"
)

// ErrProbeTimeout is returned by a Prober when it could not finish within
// its deadline.
var ErrProbeTimeout = errors.New("probe timed out")

// Prober is the external decoding backend collaborator (spec §1 "behind a
// MediaProber interface"). An implementation parses locally, over network,
// and fetches local artwork.
type Prober interface {
	Probe(ctx context.Context, mrl string) (*item.Item, error)
}

// Service adapts a Prober into a parserpool.Service for the
// MetadataExtraction step.
type Service struct {
	prober  Prober
	store   *item.Store
	logger  *zap.Logger
	timeout time.Duration
}

// NewService constructs the MetadataExtraction service.
func NewService(prober Prober, store *item.Store, logger *zap.Logger) *Service {
	return &Service{prober: prober, store: store, logger: logger, timeout: 5 * time.Second}
}

// Name identifies this service in logs and pool naming.
func (s *Service) Name() string { return "prober" }

// TargetStep is MetadataExtraction.
func (s *Service) TargetStep() parsertask.Step { return parsertask.StepMetadataExtraction }

// NbThreads defaults to 1: the backend wraps a stateful native decoder
// (spec §5), so multiple threads would require it to be reentrant, which it
// is not assumed to be.
func (s *Service) NbThreads() int { return 1 }

// OnFlushing is a no-op: the prober keeps no hot cache to drop.
func (s *Service) OnFlushing() {}

// OnRestarted is a no-op for the same reason.
func (s *Service) OnRestarted() {}

// Run probes task's mrl with a bounded timeout and probes it a second time
// through probeWithPlaybackEngine when no tracks/sub-items were found or
// the artwork is an attachment:// url. The result is written into the shared
// item.Store for the analyzer to pick up; the prober itself writes no
// database state.
func (s *Service) Run(ctx context.Context, task *parsertask.Task) (parsertask.Status, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	it, err := s.prober.Probe(ctx, task.Mrl)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrProbeTimeout) {
			return parsertask.StatusFatal, err
		}
		return parsertask.StatusFatal, err
	}

	if len(it.Tracks) == 0 && len(it.SubItems) == 0 || needsDecoderForArtwork(it.Tags.ArtworkURL) {
		it, err = s.probeWithPlaybackEngine(ctx, task.Mrl)
		if err != nil {
			return parsertask.StatusFatal, err
		}
	}

	s.store.Put(task.ID, it)
	s.logger.Debug("probed mrl", zap.String("mrl", task.Mrl), zap.Int("tracks", len(it.Tracks)))
	return parsertask.StatusSuccess, nil
}

func needsDecoderForArtwork(artworkURL string) bool {
	return strings.HasPrefix(artworkURL, "attachment://")
}

// probeWithPlaybackEngine is the fallback path: it calls Prober.Probe a
// second time with the same mrl. The Prober interface has no separate
// playback-engine mode, so no playback engine is started here.
func (s *Service) probeWithPlaybackEngine(ctx context.Context, mrl string) (*item.Item, error) {
	return s.prober.Probe(ctx, mrl)
}
