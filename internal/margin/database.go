package margin

import (
	"github.com/papertrade/papertrade/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// AccountsWithLeveragedPositions returns every account holding at least one
// open leveraged position.
func (d *Database) AccountsWithLeveragedPositions() ([]types.Account, error) {
	var accounts []types.Account
	err := d.db.
		Joins("JOIN positions ON positions.account_id = accounts.account_id").
		Where("positions.quantity > 0 AND positions.leverage > 1").
		Distinct("accounts.*").
		Find(&accounts).Error
	return accounts, err
}

// LeveragedPositions returns the open leveraged positions for one account.
func (d *Database) LeveragedPositions(accountID string) ([]types.Position, error) {
	var positions []types.Position
	err := d.db.
		Where("account_id = ? AND quantity > 0 AND leverage > 1", accountID).
		Find(&positions).Error
	return positions, err
}
