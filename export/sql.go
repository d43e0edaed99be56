package export

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/golang/glog"
	_ "github.com/mattn/go-sqlite3"

	"github.com/hb9tf/scanner/sdr"
)

const (
	sqlSampleCountInfo = 1000

	sqlCreateTableTmpl = `CREATE TABLE IF NOT EXISTS spectre (
		"ID"           INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
		"Identifier"   TEXT NOT NULL,
		"Source"       TEXT NOT NULL,
		"FreqCenter"   INTEGER,
		"FreqLow"      INTEGER,
		"FreqHigh"     INTEGER,
		"DBHigh"       REAL,
		"DBLow"        REAL,
		"DBAvg"        REAL,
		"SampleCount"  INTEGER,
		"Start"        INTEGER,
		"End"          INTEGER
	);`
	sqlInsertSampleTmpl = `INSERT INTO spectre (
		Identifier,
		Source,
		FreqCenter,
		FreqLow,
		FreqHigh,
		DBHigh,
		DBLow,
		DBAvg,
		SampleCount,
		Start,
		End
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`
)

// OpenSQLite opens (and creates if needed) the SQLite database at path.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("unable to open sqlite DB %q: %w", path, err)
	}
	return db, nil
}

// SQL stores results in a SQLite database.
type SQL struct {
	Rows
	DB *sql.DB
}

func (s *SQL) Write(ctx context.Context, results <-chan sdr.Result) error {
	if err := s.Init(ctx); err != nil {
		return err
	}

	counts := map[string]int{
		"error":   0,
		"success": 0,
		"total":   0,
	}
	for res := range results {
		for _, sample := range s.Samples(&res) {
			counts["total"] += 1
			if err := s.Insert(ctx, sample); err != nil {
				counts["error"] += 1
				glog.Warningf("error storing in sqlite DB: %s", err)
				continue
			}
			counts["success"] += 1
			if counts["total"]%sqlSampleCountInfo == 0 {
				glog.Infof("Sample export counts: %+v", counts)
			}
		}
	}
	return nil
}

// Init creates the samples table if it does not exist yet.
func (s *SQL) Init(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, sqlCreateTableTmpl); err != nil {
		return fmt.Errorf("unable to create table: %w", err)
	}
	return nil
}

// Insert stores a single sample. The collection server uses it directly.
func (s *SQL) Insert(ctx context.Context, sample sdr.Sample) error {
	return insertSample(ctx, s.DB, sqlInsertSampleTmpl, sample)
}

func insertSample(ctx context.Context, db *sql.DB, tmpl string, s sdr.Sample) error {
	if _, err := db.ExecContext(ctx, tmpl, s.Identifier, s.Source, s.FreqCenter, s.FreqLow, s.FreqHigh, s.DBHigh, s.DBLow, s.DBAvg, s.SampleCount, s.Start.UnixMilli(), s.End.UnixMilli()); err != nil {
		return err
	}
	return nil
}
