package scores

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"classroomhub/internal/keylock"
	"classroomhub/internal/logging"
	"classroomhub/internal/metrics"
	"classroomhub/pkg/interfaces"
	"classroomhub/pkg/types"
)

// DefaultBatchSize bounds the rows written by one storage batch.
const DefaultBatchSize = 500

// SubmitResult reports what happened around a score submission.
type SubmitResult struct {
	// Flushed lists sections persisted before the score was recorded.
	Flushed []string
	// FlushErr is set when the pre-record flush failed; the score was still recorded.
	FlushErr error
}

// Service owns the flush protocol between the Ledger and storage.
// ARCHITECTURAL DISCOVERY: Submissions for one session are serialized by a
// session key lock so flush-then-record is atomic with respect to each other.
type Service struct {
	store     interfaces.Store
	ledger    *Ledger
	locks     *keylock.Locker
	logger    *slog.Logger
	metrics   metrics.Collector
	batchSize int
}

// NewService creates a score service.
func NewService(store interfaces.Store, ledger *Ledger, logger *slog.Logger, collector metrics.Collector) *Service {
	return &Service{
		store:     store,
		ledger:    ledger,
		locks:     keylock.New(keylock.DefaultStripes),
		logger:    logging.OrDiscard(logger),
		metrics:   metrics.OrNop(collector),
		batchSize: DefaultBatchSize,
	}
}

// Ledger returns the resident score ledger.
func (s *Service) Ledger() *Ledger {
	return s.ledger
}

// RowID is the deterministic storage id of one user's section score.
func RowID(sessionID, sectionID, userID string) string {
	return sessionID + ":" + sectionID + ":" + userID
}

// Submit records a live score. If the session holds resident scores but none
// for sectionID, the section has changed, so every resident section is
// persisted first. A failed flush is logged and reported in the result but
// never prevents the score from being recorded.
func (s *Service) Submit(ctx context.Context, sessionID, sectionID, userID string, score float64) (SubmitResult, error) {
	unlock, err := s.locks.Lock(ctx, sessionID)
	if err != nil {
		return SubmitResult{}, err
	}
	defer unlock()

	var result SubmitResult
	if s.ledger.HasResident(sessionID) && !s.ledger.HasSection(sessionID, sectionID) {
		result.Flushed, result.FlushErr = s.flushLocked(ctx, sessionID)
	}

	s.ledger.Record(sessionID, sectionID, userID, score)
	return result, nil
}

// FlushSection persists one section's resident scores. Used on an explicit
// section-end signal.
func (s *Service) FlushSection(ctx context.Context, sessionID, sectionID string) error {
	unlock, err := s.locks.Lock(ctx, sessionID)
	if err != nil {
		return err
	}
	defer unlock()

	_, err = s.flushLocked(ctx, sessionID, sectionID)
	return err
}

// FlushSession persists every resident score of the session.
func (s *Service) FlushSession(ctx context.Context, sessionID string) error {
	unlock, err := s.locks.Lock(ctx, sessionID)
	if err != nil {
		return err
	}
	defer unlock()

	_, err = s.flushLocked(ctx, sessionID)
	return err
}

// flushLocked takes the sections out of the ledger and persists them,
// restoring them on failure. Caller holds the session lock.
func (s *Service) flushLocked(ctx context.Context, sessionID string, sectionIDs ...string) ([]string, error) {
	taken := s.ledger.Take(sessionID, sectionIDs...)
	if len(taken) == 0 {
		return nil, nil
	}

	flushed := make([]string, 0, len(taken))
	for sectionID := range taken {
		flushed = append(flushed, sectionID)
	}
	sort.Strings(flushed)

	rows, err := s.persist(ctx, sessionID, taken)
	if err != nil {
		s.ledger.Restore(sessionID, taken)
		s.metrics.ScoreFlush(false, 0)
		s.logger.Error("score flush failed, scores kept resident",
			"session_id", sessionID,
			"sections", flushed,
			"error", err)
		return nil, fmt.Errorf("flush session %s: %w", sessionID, err)
	}

	s.metrics.ScoreFlush(true, rows)
	s.logger.Debug("scores flushed", "session_id", sessionID, "sections", flushed, "rows", rows)
	return flushed, nil
}

func (s *Service) persist(ctx context.Context, sessionID string, scores types.SessionScores) (int, error) {
	var ops []types.WriteOp
	for sectionID, users := range scores {
		for userID, score := range users {
			id := RowID(sessionID, sectionID, userID)
			rec, err := types.ToRecord(types.UserScore{
				ID:        id,
				SessionID: sessionID,
				SectionID: sectionID,
				UserID:    userID,
				Score:     score,
			})
			if err != nil {
				return 0, err
			}
			ops = append(ops, types.WriteOp{
				Kind:       types.WriteSet,
				Collection: types.CollectionUserScores,
				ID:         id,
				Record:     rec,
			})
		}
	}

	for start := 0; start < len(ops); start += s.batchSize {
		end := min(start+s.batchSize, len(ops))
		if err := s.store.BatchWrite(ctx, ops[start:end]); err != nil {
			return start, err
		}
	}
	return len(ops), nil
}

// ScoresForSession returns persisted scores merged with resident ones.
// Resident scores are newer and win.
func (s *Service) ScoresForSession(ctx context.Context, sessionID string) (types.SessionScores, error) {
	rows, err := s.persisted(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	out := make(types.SessionScores)
	for _, row := range rows {
		if out[row.SectionID] == nil {
			out[row.SectionID] = make(map[string]float64)
		}
		out[row.SectionID][row.UserID] = row.Score
	}
	for sectionID, users := range s.ledger.SessionScores(sessionID) {
		if out[sectionID] == nil {
			out[sectionID] = make(map[string]float64)
		}
		for userID, score := range users {
			out[sectionID][userID] = score
		}
	}
	return out, nil
}

func (s *Service) persisted(ctx context.Context, sessionID string) ([]types.UserScore, error) {
	records, err := s.store.Query(ctx, types.CollectionUserScores, types.Eq("sessionId", sessionID))
	if err != nil {
		return nil, fmt.Errorf("load scores for session %s: %w", sessionID, err)
	}
	rows := make([]types.UserScore, 0, len(records))
	for _, rec := range records {
		var row types.UserScore
		if err := types.FromRecord(rec, &row); err != nil {
			return nil, fmt.Errorf("%w: decode score: %w", types.ErrInternal, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Archive moves the persisted scores of sessionIDs into the archive
// collection, batchSize rows per storage batch, and returns the rows moved.
func (s *Service) Archive(ctx context.Context, sessionIDs []string, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	moved := 0
	for _, sessionID := range sessionIDs {
		rows, err := s.persisted(ctx, sessionID)
		if err != nil {
			return moved, err
		}
		for start := 0; start < len(rows); start += batchSize {
			end := min(start+batchSize, len(rows))
			ops := make([]types.WriteOp, 0, 2*(end-start))
			for _, row := range rows[start:end] {
				rec, err := types.ToRecord(row)
				if err != nil {
					return moved, err
				}
				ops = append(ops,
					types.WriteOp{Kind: types.WriteSet, Collection: types.CollectionScoreArchive, ID: row.ID, Record: rec},
					types.WriteOp{Kind: types.WriteDelete, Collection: types.CollectionUserScores, ID: row.ID},
				)
			}
			if err := s.store.BatchWrite(ctx, ops); err != nil {
				return moved, fmt.Errorf("archive scores for session %s: %w", sessionID, err)
			}
			moved += end - start
		}
	}

	if moved > 0 {
		s.logger.Info("scores archived", "sessions", len(sessionIDs), "rows", moved)
	}
	return moved, nil
}
