package holdings

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sgrimes/folio/internal/common"
	"github.com/sgrimes/folio/internal/interfaces"
	"github.com/sgrimes/folio/internal/models"
)

// maxRecalcAttempts bounds retries when the ledger changes mid-recompute.
const maxRecalcAttempts = 3

// Service implements HoldingsService. Recomputation for one user is
// serialized against itself; different users proceed independently.
type Service struct {
	storage interfaces.StorageManager
	logger  *common.Logger
	now     func() time.Time // injectable clock for testing

	mu    sync.Mutex
	users map[string]*sync.Mutex
}

// NewService creates a new holdings service.
func NewService(storage interfaces.StorageManager, logger *common.Logger) *Service {
	return &Service{
		storage: storage,
		logger:  logger,
		now:     time.Now,
		users:   make(map[string]*sync.Mutex),
	}
}

func (s *Service) userLock(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.users[userID]
	if !ok {
		lock = &sync.Mutex{}
		s.users[userID] = lock
	}
	return lock
}

// Recalculate replays the user's full ledger and atomically replaces the
// stored holding set. A result is only valid if it reflects the ledger state
// at the time the replay started: when the ledger revision moves underneath
// the replay, the stale result is discarded and the replay redone.
func (s *Service) Recalculate(ctx context.Context, userID string) (map[string]*models.Holding, error) {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	for attempt := 1; attempt <= maxRecalcAttempts; attempt++ {
		startRev, err := s.storage.Transactions().Revision(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to read ledger revision: %w", err)
		}

		txns, err := s.storage.Transactions().List(ctx, userID, "")
		if err != nil {
			return nil, fmt.Errorf("failed to list transactions: %w", err)
		}

		set, err := Replay(txns)
		if err != nil {
			return nil, err
		}

		endRev, err := s.storage.Transactions().Revision(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to read ledger revision: %w", err)
		}
		if endRev != startRev {
			s.logger.Debug().
				Str("user", userID).
				Int64("start_rev", startRev).
				Int64("end_rev", endRev).
				Int("attempt", attempt).
				Msg("Ledger moved during recompute, retrying")
			continue
		}

		now := s.now()
		replacement := make([]*models.Holding, 0, len(set))
		for _, h := range set {
			h.UserID = userID
			h.LastRecalculatedAt = now
			replacement = append(replacement, h)
		}

		if err := s.storage.Holdings().ReplaceAll(ctx, userID, replacement); err != nil {
			return nil, fmt.Errorf("failed to replace holdings: %w", err)
		}

		s.logger.Info().
			Str("user", userID).
			Int("positions", len(replacement)).
			Msg("Holdings recalculated")

		return set, nil
	}

	return nil, &models.RecomputationConflictError{UserID: userID, Attempts: maxRecalcAttempts}
}

// Holdings returns the stored holding set without recomputing.
func (s *Service) Holdings(ctx context.Context, userID string) ([]*models.Holding, error) {
	return s.storage.Holdings().List(ctx, userID)
}

// Ensure Service implements HoldingsService
var _ interfaces.HoldingsService = (*Service)(nil)
