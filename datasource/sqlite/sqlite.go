package sqlite

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

type Sqlite struct {
	DSN  string
	DB   *sql.DB
	Name string
}

var sqliteInstances sync.Map

func GetSqlite(name string) (*Sqlite, error) {
	value, ok := sqliteInstances.Load(name)
	if !ok {
		return nil, fmt.Errorf("Sqlite not found, name:%s", name)
	}

	instance, ok := value.(*Sqlite)
	if !ok {
		return nil, fmt.Errorf("Sqlite not found, name:%s", name)
	}
	return instance, nil
}

func (m *Sqlite) Init() error {
	db, err := sql.Open("sqlite3", m.DSN)
	if err != nil {
		return err
	}
	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	m.DB = db
	return m.DB.Ping()
}

func RegisterSqlite(name, dsn string) error {
	if _, ok := sqliteInstances.Load(name); ok {
		return nil
	}
	m := &Sqlite{
		DSN:  dsn,
		Name: name,
	}
	if err := m.Init(); err != nil {
		return fmt.Errorf("event=RegisterSqlite\tname=%s\terr=%w", name, err)
	}
	sqliteInstances.Store(name, m)
	return nil
}

func RemoveSqlite(name string) {
	value, ok := sqliteInstances.LoadAndDelete(name)
	if !ok {
		return
	}
	if m, ok := value.(*Sqlite); ok && m.DB != nil {
		m.DB.Close()
	}
}
