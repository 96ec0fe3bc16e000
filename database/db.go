package database

import (
	"database/sql"
	"log"
	"sync"

	_ "github.com/lib/pq"

	"github.com/tabwise-finance/tabwise/config"
	"github.com/tabwise-finance/tabwise/internal/cache"
)

// Declare a package-level variable to hold the singleton instance.
// Ensure the instance is not accessible outside the package.
var instance *Datasource
var once sync.Once

type Datasource struct {
	Conn  *sql.DB
	Cache cache.Cache
}

func NewDataSource(configuration *config.Configuration) (IDataSource, error) {
	con, err := GetDBConnection(configuration)
	if err != nil {
		return nil, err
	}
	return con, nil
}

// GetDBConnection provides a global access point to the instance and initializes it if it's not already.
func GetDBConnection(configuration *config.Configuration) (*Datasource, error) {
	var err error
	once.Do(func() {
		con, errConn := ConnectDB(configuration.DataSource.Dns)
		if errConn != nil {
			err = errConn
			return
		}
		cacheInstance, cacheErr := cache.NewCache()
		if cacheErr != nil {
			log.Printf("cache unavailable, reads fall back to the database: %v", cacheErr)
			cacheInstance = nil
		}
		instance = &Datasource{Conn: con, Cache: cacheInstance}
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, err
	}
	err = db.Ping()
	if err != nil {
		log.Printf("database Connection error ❌: %v", err)
		return nil, err
	}
	if err := CreateTables(db); err != nil {
		return nil, err
	}
	return db, nil
}

// CreateTables creates the tabwise schema and every table the engine needs.
// Idempotent; called on every startup.
func CreateTables(db *sql.DB) error {
	for _, create := range []func(*sql.DB) error{
		createSchema,
		createGroupTables,
		createBillTables,
		createStructureTable,
		createEscrowTables,
		createCrossChainTables,
		createRegistryTables,
	} {
		if err := create(db); err != nil {
			return err
		}
	}
	return nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE SCHEMA IF NOT EXISTS tabwise`)
	return err
}

func createGroupTables(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS tabwise.groups (
		id SERIAL PRIMARY KEY,
		group_id TEXT NOT NULL UNIQUE,
		name TEXT,
		description TEXT,
		creator TEXT NOT NULL,
		bills_created BIGINT NOT NULL DEFAULT 0,
		bills_settled BIGINT NOT NULL DEFAULT 0,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		meta_data JSONB,
		created_at TIMESTAMP NOT NULL DEFAULT NOW()
	);
	CREATE TABLE IF NOT EXISTS tabwise.group_members (
		id SERIAL PRIMARY KEY,
		group_id TEXT NOT NULL REFERENCES tabwise.groups(group_id),
		address TEXT NOT NULL,
		can_create_bills BOOLEAN NOT NULL DEFAULT FALSE,
		added_at TIMESTAMP NOT NULL DEFAULT NOW(),
		UNIQUE (group_id, address)
	)
`)
	return err
}

func createBillTables(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS tabwise.bills (
		id SERIAL PRIMARY KEY,
		bill_id TEXT NOT NULL UNIQUE,
		group_id TEXT NOT NULL REFERENCES tabwise.groups(group_id),
		creator TEXT NOT NULL,
		description TEXT,
		total BIGINT NOT NULL,
		token TEXT NOT NULL,
		split_type TEXT NOT NULL,
		cross_chain BOOLEAN NOT NULL DEFAULT FALSE,
		chains JSONB,
		settled BOOLEAN NOT NULL DEFAULT FALSE,
		settled_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		due_date TIMESTAMP NOT NULL
	);
	CREATE TABLE IF NOT EXISTS tabwise.bill_splits (
		id SERIAL PRIMARY KEY,
		bill_id TEXT NOT NULL REFERENCES tabwise.bills(bill_id),
		member TEXT NOT NULL,
		amount BIGINT NOT NULL,
		UNIQUE (bill_id, member)
	)
`)
	return err
}

func createStructureTable(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS tabwise.verified_structures (
		id SERIAL PRIMARY KEY,
		commitment TEXT NOT NULL UNIQUE,
		structure JSONB,
		trusted BOOLEAN NOT NULL DEFAULT FALSE,
		verified_at TIMESTAMP NOT NULL DEFAULT NOW(),
		revoked_at TIMESTAMP
	)
`)
	return err
}

func createEscrowTables(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS tabwise.escrows (
		id SERIAL PRIMARY KEY,
		escrow_id TEXT NOT NULL UNIQUE,
		bill_id TEXT NOT NULL UNIQUE,
		required_total BIGINT NOT NULL,
		token TEXT NOT NULL,
		payee TEXT NOT NULL,
		collected BIGINT NOT NULL DEFAULT 0,
		fully_paid BOOLEAN NOT NULL DEFAULT FALSE,
		settled BOOLEAN NOT NULL DEFAULT FALSE,
		refunded BOOLEAN NOT NULL DEFAULT FALSE,
		disputed BOOLEAN NOT NULL DEFAULT FALSE,
		payment_deadline TIMESTAMP NOT NULL,
		dispute_deadline TIMESTAMP,
		settled_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL DEFAULT NOW()
	);
	CREATE TABLE IF NOT EXISTS tabwise.escrow_payments (
		id SERIAL PRIMARY KEY,
		payment_id TEXT NOT NULL UNIQUE,
		bill_id TEXT NOT NULL REFERENCES tabwise.escrows(bill_id),
		payer TEXT NOT NULL,
		amount BIGINT NOT NULL,
		token TEXT NOT NULL,
		settled BOOLEAN NOT NULL DEFAULT FALSE,
		refunded BOOLEAN NOT NULL DEFAULT FALSE,
		paid_at TIMESTAMP NOT NULL DEFAULT NOW(),
		UNIQUE (bill_id, payer)
	);
	CREATE TABLE IF NOT EXISTS tabwise.disputes (
		id SERIAL PRIMARY KEY,
		dispute_id TEXT NOT NULL UNIQUE,
		bill_id TEXT NOT NULL REFERENCES tabwise.escrows(bill_id),
		challenger TEXT NOT NULL,
		reason TEXT,
		resolved BOOLEAN NOT NULL DEFAULT FALSE,
		approved BOOLEAN NOT NULL DEFAULT FALSE,
		raised_at TIMESTAMP NOT NULL DEFAULT NOW(),
		resolved_at TIMESTAMP
	)
`)
	return err
}

func createCrossChainTables(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS tabwise.crosschain_bills (
		id SERIAL PRIMARY KEY,
		bill_id TEXT NOT NULL UNIQUE,
		total BIGINT NOT NULL,
		token TEXT NOT NULL,
		origin_chain TEXT NOT NULL,
		chains JSONB NOT NULL,
		amounts JSONB NOT NULL,
		settled_flags JSONB NOT NULL,
		fully_settled BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP NOT NULL DEFAULT NOW()
	);
	CREATE TABLE IF NOT EXISTS tabwise.pending_payments (
		id SERIAL PRIMARY KEY,
		pending_id TEXT NOT NULL UNIQUE,
		bill_id TEXT NOT NULL,
		payer TEXT NOT NULL,
		amount BIGINT NOT NULL,
		token TEXT NOT NULL,
		source_chain TEXT NOT NULL,
		processed BOOLEAN NOT NULL DEFAULT FALSE,
		received_at TIMESTAMP NOT NULL DEFAULT NOW()
	)
`)
	return err
}

func createRegistryTables(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS tabwise.supported_tokens (
		id SERIAL PRIMARY KEY,
		symbol TEXT NOT NULL UNIQUE,
		added_at TIMESTAMP NOT NULL DEFAULT NOW()
	);
	CREATE TABLE IF NOT EXISTS tabwise.supported_chains (
		id SERIAL PRIMARY KEY,
		chain TEXT NOT NULL UNIQUE,
		counterpart TEXT,
		added_at TIMESTAMP NOT NULL DEFAULT NOW()
	)
`)
	return err
}
