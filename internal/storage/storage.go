// Package storage persists the flight log: sessions, telemetry frames and
// band sweeps, in a single sqlite database.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/radiosonde-watch/autorx/internal/decode"
	"github.com/radiosonde-watch/autorx/internal/scheduler"
	"github.com/radiosonde-watch/autorx/internal/spectrum"
)

// SessionRecord is one row of the flight log.
type SessionRecord struct {
	ID          string
	Frequency   int64
	StartedAt   time.Time
	EndedAt     *time.Time
	Serial      string
	Type        string
	Frames      int
	MaxAltitude float64
	LastAlt     float64
	Descending  bool
}

// SweepInfo describes one stored band sweep.
type SweepInfo struct {
	ID        int64
	Timestamp time.Time
	FreqLow   float64
	FreqHigh  float64
	BinWidth  float64
}

// Store handles database operations. Writes go through a WAL connection,
// reads through a separate read-only connection; both are opened lazily.
type Store struct {
	dbPath string

	writeDB     *sql.DB
	writeDBOnce sync.Once
	writeDBErr  error

	readDB     *sql.DB
	readDBOnce sync.Once
	readDBErr  error

	closeOnce sync.Once
	closeErr  error
}

// New creates a Store backed by the sqlite database at dbPath. The schema is
// initialized on first write.
func New(dbPath string) *Store {
	return &Store{dbPath: dbPath}
}

func runSQLCommand(db *sql.DB, sql string) error {
	_, err := db.Exec(sql)
	return err
}

func (s *Store) getWriteDB() (*sql.DB, error) {
	s.writeDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "_journal_mode=WAL&_synchronous=NORMAL"))
		if err != nil {
			s.writeDBErr = fmt.Errorf("opening write connection: %w", err)
			return
		}

		if err = runSQLCommand(db, schemaSQL); err != nil {
			_ = db.Close()
			s.writeDBErr = fmt.Errorf("initializing schema: %w", err)
			return
		}

		s.writeDB = db
	})

	return s.writeDB, s.writeDBErr
}

func (s *Store) getReadDB() (*sql.DB, error) {
	s.readDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "mode=ro"))
		if err != nil {
			s.readDBErr = fmt.Errorf("opening read connection: %w", err)
			return
		}
		s.readDB = db
	})

	return s.readDB, s.readDBErr
}

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}

func rollbackWithError(rb interface{ Rollback() error }, err *error) {
	if cErr := rb.Rollback(); cErr != nil && *err == nil {
		*err = cErr
	}
}

// CreateSession records the admission of a new tracked frequency.
func (s *Store) CreateSession(id string, frequencyHz int64, startedAt time.Time) (err error) {
	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	if _, err = db.Exec(insertSessionSQL, id, frequencyHz, startedAt.UTC()); err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

// EndSession closes out a session with its accumulated flight statistics.
func (s *Store) EndSession(id string, stats scheduler.FlightStats, endedAt time.Time) (err error) {
	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	_, err = db.Exec(endSessionSQL,
		endedAt.UTC(),
		stats.Serial,
		stats.Type,
		stats.Frames,
		stats.MaxAltitude,
		stats.LastAlt,
		stats.Descending(),
		id)
	if err != nil {
		return fmt.Errorf("updating session: %w", err)
	}
	return nil
}

// InsertFrame appends one telemetry frame to a session's track.
func (s *Store) InsertFrame(sessionID string, frame *decode.TelemetryFrame) (err error) {
	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	_, err = db.Exec(insertFrameSQL,
		sessionID,
		frame.Serial,
		frame.FrameNumber,
		frame.Time.UTC(),
		frame.Latitude,
		frame.Longitude,
		frame.Altitude,
		frame.VelH,
		frame.VelV,
		frame.Heading,
		frame.Temperature,
		frame.Humidity,
		frame.CRCOK,
		frame.Raw)
	if err != nil {
		return fmt.Errorf("inserting frame: %w", err)
	}
	return nil
}

// StoreScan persists one band sweep with all of its bins in a single
// transaction.
func (s *Store) StoreScan(spec *spectrum.Spectrum) (err error) {
	if len(spec.Bins) == 0 {
		return nil
	}

	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollbackWithError(tx, &err)

	result, err := tx.Exec(insertSweepSQL,
		spec.Timestamp.UTC(),
		spec.FreqLow,
		spec.FreqHigh,
		spec.BinWidth)
	if err != nil {
		return fmt.Errorf("inserting sweep: %w", err)
	}

	sweepID, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting sweep ID: %w", err)
	}

	values := make([]interface{}, 0, len(spec.Bins)*3)

	var sb strings.Builder
	sb.WriteString(insertSweepBinSQL)

	for i, bin := range spec.Bins {
		values = append(values, sweepID, bin.Frequency, bin.Power)

		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?, ?, ?)")
	}

	if _, err = tx.Exec(sb.String(), values...); err != nil {
		return fmt.Errorf("batch inserting bins: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}

// Sessions returns the flight log, most recent first.
func (s *Store) Sessions(ctx context.Context) (sessions []SessionRecord, err error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}

	rows, err := db.QueryContext(ctx, selectSessionsSQL)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var rec SessionRecord
		var endedAt sql.NullTime
		var serial, sondeType sql.NullString
		var maxAlt, lastAlt sql.NullFloat64
		var descending sql.NullBool

		if err = rows.Scan(&rec.ID, &rec.Frequency, &rec.StartedAt, &endedAt,
			&serial, &sondeType, &rec.Frames, &maxAlt, &lastAlt, &descending); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}

		if endedAt.Valid {
			rec.EndedAt = &endedAt.Time
		}
		rec.Serial = serial.String
		rec.Type = sondeType.String
		rec.MaxAltitude = maxAlt.Float64
		rec.LastAlt = lastAlt.Float64
		rec.Descending = descending.Bool

		sessions = append(sessions, rec)
	}
	return sessions, rows.Err()
}

// Sweeps returns the most recent stored sweeps, newest first.
func (s *Store) Sweeps(ctx context.Context, limit int) (sweeps []SweepInfo, err error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}

	rows, err := db.QueryContext(ctx, selectSweepsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("querying sweeps: %w", err)
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var info SweepInfo
		if err = rows.Scan(&info.ID, &info.Timestamp, &info.FreqLow, &info.FreqHigh, &info.BinWidth); err != nil {
			return nil, fmt.Errorf("scanning sweep: %w", err)
		}
		sweeps = append(sweeps, info)
	}
	return sweeps, rows.Err()
}

// SweepBins returns the bins of one stored sweep ordered by frequency.
func (s *Store) SweepBins(ctx context.Context, sweepID int64) (bins []spectrum.Bin, err error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}

	rows, err := db.QueryContext(ctx, selectSweepBinsSQL, sweepID)
	if err != nil {
		return nil, fmt.Errorf("querying bins: %w", err)
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var bin spectrum.Bin
		if err = rows.Scan(&bin.Frequency, &bin.Power); err != nil {
			return nil, fmt.Errorf("scanning bin: %w", err)
		}
		bins = append(bins, bin)
	}
	return bins, rows.Err()
}

// Close builds the read indexes and closes both connections.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		var writeErr, readErr error

		if s.writeDB != nil {
			_ = runSQLCommand(s.writeDB, initIndexesSQL)

			writeErr = s.writeDB.Close()
			s.writeDB = nil
		}

		if s.readDB != nil {
			readErr = s.readDB.Close()
			s.readDB = nil
		}

		if writeErr != nil || readErr != nil {
			s.closeErr = errors.Join(writeErr, readErr)
		}
	})

	return s.closeErr
}
