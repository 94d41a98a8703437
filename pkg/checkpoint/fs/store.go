package fs

import (
	"context"
	"errors"
	"fmt"
	iofs "io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/absmach/fedids/pkg/checkpoint"
)

const (
	filePrefix = "round-"
	fileSuffix = ".ckpt"
	filePerm   = 0o644
	dirPerm    = 0o755
)

var _ checkpoint.Store = (*store)(nil)

type store struct {
	dir string
	now func() time.Time
}

// NewStore opens a directory backed checkpoint store, creating dir if needed.
func NewStore(dir string) (checkpoint.Store, error) {
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	return &store{dir: dir, now: time.Now}, nil
}

func (s *store) Save(ctx context.Context, c checkpoint.Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if c.WrittenAt.IsZero() {
		c.WrittenAt = s.now().UTC()
	}

	data, err := checkpoint.Encode(c)
	if err != nil {
		return err
	}

	if err := writeFileOnce(s.path(c.Round), data, filePerm); err != nil {
		if errors.Is(err, iofs.ErrExist) {
			return fmt.Errorf("%w: %d", checkpoint.ErrExists, c.Round)
		}

		return fmt.Errorf("failed to write checkpoint for round %d: %w", c.Round, err)
	}

	return nil
}

func (s *store) Load(ctx context.Context, round uint64) (checkpoint.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return checkpoint.Checkpoint{}, err
	}
	if round == 0 {
		return checkpoint.Checkpoint{}, checkpoint.ErrInvalidRound
	}

	data, err := os.ReadFile(s.path(round))
	if err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return checkpoint.Checkpoint{}, fmt.Errorf("%w: round %d", checkpoint.ErrNotFound, round)
		}

		return checkpoint.Checkpoint{}, fmt.Errorf("failed to read checkpoint for round %d: %w", round, err)
	}

	c, err := checkpoint.Decode(data)
	if err != nil {
		return checkpoint.Checkpoint{}, fmt.Errorf("round %d: %w", round, err)
	}
	if c.Round != round {
		return checkpoint.Checkpoint{}, fmt.Errorf("%w: file for round %d holds round %d", checkpoint.ErrCorrupted, round, c.Round)
	}

	return c, nil
}

func (s *store) Latest(ctx context.Context) (checkpoint.Checkpoint, error) {
	infos, err := s.List(ctx)
	if err != nil {
		return checkpoint.Checkpoint{}, err
	}
	if len(infos) == 0 {
		return checkpoint.Checkpoint{}, checkpoint.ErrNotFound
	}

	return s.Load(ctx, infos[len(infos)-1].Round)
}

func (s *store) List(ctx context.Context) ([]checkpoint.Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint directory: %w", err)
	}

	infos := make([]checkpoint.Info, 0, len(entries))
	for _, e := range entries {
		round, ok := parseName(e.Name())
		if !ok || e.IsDir() {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			return nil, err
		}
		infos = append(infos, checkpoint.Info{
			Round:     round,
			WrittenAt: fi.ModTime().UTC(),
			Size:      fi.Size(),
		})
	}

	slices.SortFunc(infos, func(a, b checkpoint.Info) int {
		switch {
		case a.Round < b.Round:
			return -1
		case a.Round > b.Round:
			return 1
		default:
			return 0
		}
	})

	return infos, nil
}

func (s *store) Close() error {
	return nil
}

func (s *store) path(round uint64) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s%06d%s", filePrefix, round, fileSuffix))
}

func parseName(name string) (uint64, bool) {
	if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
		return 0, false
	}

	round, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix), 10, 64)
	if err != nil || round == 0 {
		return 0, false
	}

	return round, true
}
