package jobs

import (
	"context"
	"log/slog"
)

// Checkpointer truncates the SQLite write-ahead log.
type Checkpointer interface {
	CheckpointWAL(mode string) error
}

// WALCheckpointJob keeps the WAL file from growing without bound under a
// steady stream of scan inserts.
type WALCheckpointJob struct {
	db     Checkpointer
	logger *slog.Logger
}

func NewWALCheckpointJob(db Checkpointer, logger *slog.Logger) *WALCheckpointJob {
	return &WALCheckpointJob{db: db, logger: logger}
}

func (j *WALCheckpointJob) Name() string { return "wal_checkpoint" }

func (j *WALCheckpointJob) Run(ctx context.Context) error {
	if err := j.db.CheckpointWAL("TRUNCATE"); err != nil {
		return err
	}
	j.logger.Debug("WAL checkpoint completed")
	return nil
}
