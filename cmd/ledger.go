package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/andresmejia3/vidproc/internal/pipeline"
	"github.com/andresmejia3/vidproc/internal/store"
	"github.com/andresmejia3/vidproc/internal/types"
	"github.com/andresmejia3/vidproc/internal/utils"
	"github.com/google/uuid"
)

const timeRounding = 10 * time.Millisecond

// runLedger records one run in the database. The zero value records nothing.
type runLedger struct {
	db *store.Store
	id uuid.UUID
}

func startLedger(ctx context.Context, info types.VideoInfo, input, output, mode string) (*runLedger, error) {
	if DB == nil {
		return &runLedger{}, nil
	}

	videoID, err := utils.GenerateVideoID(input)
	if err != nil {
		return nil, fmt.Errorf("failed to generate video ID: %w", err)
	}
	if err := DB.EnsureVideoMetadata(ctx, videoID, info); err != nil {
		return nil, fmt.Errorf("failed to register video metadata: %w", err)
	}
	id, err := DB.StartRun(ctx, videoID, input, output, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to record run: %w", err)
	}

	fmt.Fprintf(os.Stderr, "📼 Run %s for Video ID: %s\n", id.String()[:8], videoID[:12])
	return &runLedger{db: DB, id: id}, nil
}

func (l *runLedger) finish(res pipeline.Result, runErr error) {
	if l == nil || l.db == nil {
		return
	}
	// Background: the run context is usually cancelled by now (Ctrl+C or quit).
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	logLedgerError("finish", l.db.FinishRun(ctx, l.id, res.State.String(), res.Frames, runErr))
}
