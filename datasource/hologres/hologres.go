package hologres

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
)

func init() {
	sql.Register("hologres", &HologresDriver{})
}

// HologresDriver wraps the postgres driver and bounds every statement on
// the connection.
type HologresDriver struct {
	driver pq.Driver
}

var statementTimeout = "set statement_timeout = 30000"

func (d HologresDriver) Open(name string) (driver.Conn, error) {
	conn, err := d.driver.Open(name)
	if err != nil {
		return nil, err
	}

	if stmt, err := conn.Prepare(statementTimeout); err == nil {
		stmt.Exec(nil)
		stmt.Close()
	}
	return conn, err
}

type Hologres struct {
	DSN          string
	DB           *sql.DB
	Name         string
	RegisterTime time.Time
}

var hologresInstances sync.Map

func GetHologres(name string) (*Hologres, error) {
	value, ok := hologresInstances.Load(name)
	if !ok {
		return nil, fmt.Errorf("Hologres not found, name:%s", name)
	}

	hologresInstance, ok := value.(*Hologres)
	if !ok {
		return nil, fmt.Errorf("Hologres not found, name:%s", name)
	}

	return hologresInstance, nil
}

func (m *Hologres) Init() error {
	db, err := sql.Open("hologres", m.DSN)
	if err != nil {
		return err
	}

	db.SetConnMaxLifetime(60 * time.Minute)
	db.SetMaxIdleConns(50)
	db.SetMaxOpenConns(100)

	m.DB = db
	return m.DB.Ping()
}

// RegisterHologres opens the database once per name. Registering an existing
// name is a no-op.
func RegisterHologres(name, dsn string) error {
	if _, ok := hologresInstances.Load(name); ok {
		return nil
	}
	m := &Hologres{
		DSN:          dsn,
		Name:         name,
		RegisterTime: time.Now(),
	}
	if err := m.Init(); err != nil {
		return fmt.Errorf("event=RegisterHologres\tname=%s\terr=%w", name, err)
	}
	hologresInstances.Store(name, m)
	return nil
}

func RemoveHologres(name string) {
	value, ok := hologresInstances.Load(name)
	if !ok {
		return
	}
	hologres, ok := value.(*Hologres)
	if !ok {
		return
	}

	if hologres.DB != nil {
		hologres.DB.Close()
	}

	hologresInstances.Delete(name)
}
