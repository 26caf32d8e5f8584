package mysql

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
)

type MySQL struct {
	DSN  string
	DB   *sql.DB
	Name string
}

var mysqlInstances sync.Map

// GenerateDSN builds a DSN that parses DATETIME columns into time.Time in UTC.
func GenerateDSN(user, pwd, address, database string) string {
	cfg := mysql.NewConfig()
	cfg.User = user
	cfg.Passwd = pwd
	cfg.Net = "tcp"
	cfg.Addr = address
	cfg.DBName = database
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.Timeout = 10 * time.Second
	return cfg.FormatDSN()
}

func GetMySQL(name string) (*MySQL, error) {
	value, ok := mysqlInstances.Load(name)
	if !ok {
		return nil, fmt.Errorf("MySQL not found, name:%s", name)
	}

	instance, ok := value.(*MySQL)
	if !ok {
		return nil, fmt.Errorf("MySQL not found, name:%s", name)
	}
	return instance, nil
}

func (m *MySQL) Init() error {
	db, err := sql.Open("mysql", m.DSN)
	if err != nil {
		return err
	}
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(20)
	db.SetMaxOpenConns(50)

	m.DB = db
	return m.DB.Ping()
}

func RegisterMySQL(name, dsn string) error {
	if _, ok := mysqlInstances.Load(name); ok {
		return nil
	}
	m := &MySQL{
		DSN:  dsn,
		Name: name,
	}
	if err := m.Init(); err != nil {
		return fmt.Errorf("event=RegisterMySQL\tname=%s\terr=%w", name, err)
	}
	mysqlInstances.Store(name, m)
	return nil
}

func RemoveMySQL(name string) {
	value, ok := mysqlInstances.LoadAndDelete(name)
	if !ok {
		return
	}
	if m, ok := value.(*MySQL); ok && m.DB != nil {
		m.DB.Close()
	}
}
