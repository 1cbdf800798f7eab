package accounts

import (
	"errors"

	"github.com/papertrade/papertrade/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateAccount(account *types.Account) error {
	return d.db.Create(account).Error
}

func (d *Database) GetAccount(accountID string) (*types.Account, error) {
	var account types.Account
	if err := d.db.Where("account_id = ?", accountID).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func (d *Database) ListPositions(accountID string) ([]types.Position, error) {
	var positions []types.Position
	err := d.db.Where("account_id = ? AND quantity > 0", accountID).Find(&positions).Error
	return positions, err
}

func (d *Database) ListOrders(accountID string, limit int) ([]types.Order, error) {
	var orders []types.Order
	q := d.db.Where("account_id = ?", accountID).Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&orders).Error
	return orders, err
}

func (d *Database) ListTrades(accountID string, limit int) ([]types.Trade, error) {
	var trades []types.Trade
	q := d.db.Where("account_id = ?", accountID).Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&trades).Error
	return trades, err
}
