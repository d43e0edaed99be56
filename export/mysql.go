package export

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/golang/glog"

	"github.com/hb9tf/scanner/sdr"
)

const (
	mysqlSampleCountInfo = 1000

	mysqlCreateTableTmpl = "CREATE TABLE IF NOT EXISTS spectre (" +
		"`ID` BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY," +
		"`Identifier` VARCHAR(255) NOT NULL," +
		"`Source` VARCHAR(64) NOT NULL," +
		"`FreqCenter` BIGINT," +
		"`FreqLow` BIGINT," +
		"`FreqHigh` BIGINT," +
		"`DBHigh` DOUBLE," +
		"`DBLow` DOUBLE," +
		"`DBAvg` DOUBLE," +
		"`SampleCount` BIGINT," +
		"`Start` BIGINT," +
		"`End` BIGINT" +
		");"
	mysqlInsertSampleTmpl = "INSERT INTO spectre (" +
		"`Identifier`, `Source`, `FreqCenter`, `FreqLow`, `FreqHigh`, `DBHigh`, `DBLow`, `DBAvg`, `SampleCount`, `Start`, `End`" +
		") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);"
)

// MySQLDSN builds the driver DSN. The password is read from passwordFile
// when set.
func MySQLDSN(server, user, passwordFile, dbName string) (string, error) {
	cfg := mysql.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = server
	cfg.User = user
	cfg.DBName = dbName
	if passwordFile != "" {
		pw, err := os.ReadFile(passwordFile)
		if err != nil {
			return "", fmt.Errorf("unable to read MySQL password file: %w", err)
		}
		cfg.Passwd = strings.TrimSpace(string(pw))
	}
	return cfg.FormatDSN(), nil
}

// OpenMySQL opens the MySQL database described by the DSN parts.
func OpenMySQL(server, user, passwordFile, dbName string) (*sql.DB, error) {
	dsn, err := MySQLDSN(server, user, passwordFile, dbName)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to open MySQL DB: %w", err)
	}
	return db, nil
}

// MySQL stores results in a MySQL database.
type MySQL struct {
	Rows
	DB *sql.DB
}

func (m *MySQL) Write(ctx context.Context, results <-chan sdr.Result) error {
	if err := m.Init(ctx); err != nil {
		return err
	}

	counts := map[string]int{
		"error":   0,
		"success": 0,
		"total":   0,
	}
	for res := range results {
		for _, sample := range m.Samples(&res) {
			counts["total"] += 1
			if err := m.Insert(ctx, sample); err != nil {
				counts["error"] += 1
				glog.Warningf("error storing in MySQL DB: %s", err)
				continue
			}
			counts["success"] += 1
			if counts["total"]%mysqlSampleCountInfo == 0 {
				glog.Infof("Sample export counts: %+v", counts)
			}
		}
	}
	return nil
}

func (m *MySQL) Init(ctx context.Context) error {
	if _, err := m.DB.ExecContext(ctx, mysqlCreateTableTmpl); err != nil {
		return fmt.Errorf("unable to create table: %w", err)
	}
	return nil
}

func (m *MySQL) Insert(ctx context.Context, sample sdr.Sample) error {
	return insertSample(ctx, m.DB, mysqlInsertSampleTmpl, sample)
}
