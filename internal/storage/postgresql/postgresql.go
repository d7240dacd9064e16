package postgresql

import (
	"database/sql"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

type Store struct {
	db *sql.DB
	lg *zap.Logger
	wt time.Duration
	rt time.Duration
}

func NewStore(connStr string, lg *zap.Logger, wt time.Duration, rt time.Duration) (*Store, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	return &Store{
		db: db,
		lg: lg,
		wt: wt,
		rt: rt,
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
