package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/absmach/fedids/pkg/checkpoint"
	"github.com/dgraph-io/badger/v4"
)

const keyPrefix = "checkpoint/"

var (
	ErrDBConnection = errors.New("badger database connection error")
	ErrDBQuery      = errors.New("database query error")
	ErrCreate       = errors.New("create error")
)

var _ checkpoint.Store = (*store)(nil)

type store struct {
	db  *badger.DB
	now func() time.Time
}

// NewStore opens a badger backed checkpoint store at path.
func NewStore(path string) (checkpoint.Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDBConnection, err)
	}

	return &store{db: db, now: time.Now}, nil
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

	err = s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key(c.Round))
		switch {
		case err == nil:
			return fmt.Errorf("%w: %d", checkpoint.ErrExists, c.Round)
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}

		return txn.Set(key(c.Round), data)
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, checkpoint.ErrExists):
		return err
	case errors.Is(err, badger.ErrConflict):
		return fmt.Errorf("%w: %d", checkpoint.ErrExists, c.Round)
	default:
		return fmt.Errorf("%w: %w", ErrCreate, err)
	}
}

func (s *store) Load(ctx context.Context, round uint64) (checkpoint.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return checkpoint.Checkpoint{}, err
	}
	if round == 0 {
		return checkpoint.Checkpoint{}, checkpoint.ErrInvalidRound
	}

	var val []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(round))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)

		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return checkpoint.Checkpoint{}, fmt.Errorf("%w: round %d", checkpoint.ErrNotFound, round)
		}

		return checkpoint.Checkpoint{}, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	return checkpoint.Decode(val)
}

func (s *store) Latest(ctx context.Context) (checkpoint.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return checkpoint.Checkpoint{}, err
	}

	var val []byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration seeks to the largest key not above the seek key.
		it.Seek(append([]byte(keyPrefix), 0xff))
		if !it.ValidForPrefix([]byte(keyPrefix)) {
			return badger.ErrKeyNotFound
		}

		var err error
		val, err = it.Item().ValueCopy(nil)

		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return checkpoint.Checkpoint{}, checkpoint.ErrNotFound
		}

		return checkpoint.Checkpoint{}, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	return checkpoint.Decode(val)
}

func (s *store) List(ctx context.Context) ([]checkpoint.Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var infos []checkpoint.Info
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			c, err := checkpoint.Decode(val)
			if err != nil {
				return err
			}
			infos = append(infos, checkpoint.Info{
				Round:     c.Round,
				WrittenAt: c.WrittenAt,
				Size:      int64(len(val)),
			})
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	return infos, nil
}

func (s *store) Close() error {
	return s.db.Close()
}

func key(round uint64) []byte {
	return fmt.Appendf(nil, "%s%020d", keyPrefix, round)
}
