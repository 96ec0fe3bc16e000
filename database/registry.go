package database

import (
	"database/sql"

	"github.com/tabwise-finance/tabwise/internal/apierror"
)

func (d Datasource) AddSupportedToken(symbol string) error {
	_, err := d.Conn.Exec(`
		INSERT INTO tabwise.supported_tokens (symbol)
		VALUES ($1)
		ON CONFLICT (symbol) DO NOTHING
	`, symbol)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to add supported token", err)
	}
	return nil
}

func (d Datasource) RemoveSupportedToken(symbol string) error {
	result, err := d.Conn.Exec(`
		DELETE FROM tabwise.supported_tokens WHERE symbol = $1
	`, symbol)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to remove supported token", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to check removal result", err)
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, "Token not in allowlist", nil)
	}
	return nil
}

func (d Datasource) IsTokenSupported(symbol string) (bool, error) {
	var one int
	err := d.Conn.QueryRow(`
		SELECT 1 FROM tabwise.supported_tokens WHERE symbol = $1
	`, symbol).Scan(&one)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to check token allowlist", err)
	}
	return true, nil
}

func (d Datasource) AddSupportedChain(chain string) error {
	_, err := d.Conn.Exec(`
		INSERT INTO tabwise.supported_chains (chain)
		VALUES ($1)
		ON CONFLICT (chain) DO NOTHING
	`, chain)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to add supported chain", err)
	}
	return nil
}

func (d Datasource) IsChainSupported(chain string) (bool, error) {
	var one int
	err := d.Conn.QueryRow(`
		SELECT 1 FROM tabwise.supported_chains WHERE chain = $1
	`, chain).Scan(&one)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to check chain support", err)
	}
	return true, nil
}

// SetTrustedCounterpart records the only address allowed to speak for a
// chain. A supported chain with no counterpart cannot exchange messages.
func (d Datasource) SetTrustedCounterpart(chain, counterpart string) error {
	result, err := d.Conn.Exec(`
		UPDATE tabwise.supported_chains SET counterpart = $2 WHERE chain = $1
	`, chain, counterpart)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to set trusted counterpart", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to check counterpart update", err)
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, "Chain not supported", nil)
	}
	return nil
}

func (d Datasource) GetTrustedCounterpart(chain string) (string, error) {
	var counterpart sql.NullString
	err := d.Conn.QueryRow(`
		SELECT counterpart FROM tabwise.supported_chains WHERE chain = $1
	`, chain).Scan(&counterpart)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", apierror.NewAPIError(apierror.ErrNotFound, "Chain not supported", err)
		}
		return "", apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve trusted counterpart", err)
	}
	if !counterpart.Valid {
		return "", nil
	}
	return counterpart.String, nil
}
