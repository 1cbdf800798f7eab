package engine

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

func (d *Database) CreateOrder(order *types.Order) error {
	return d.db.Create(order).Error
}

// MarkOrderRejected records the rejection reason on the already-flushed
// order row. Runs outside the accounting transaction so rejected orders
// survive the rollback.
func (d *Database) MarkOrderRejected(order *types.Order, reason string) error {
	order.Status = types.OrderStatusRejected
	order.Reason = reason
	return d.db.Save(order).Error
}

func (d *Database) GetOrder(orderNo string) (*types.Order, error) {
	var order types.Order
	if err := d.db.Where("order_no = ?", orderNo).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// Transaction runs fn atomically: either all of the accounting mutations
// commit together or none do.
func (d *Database) Transaction(fn func(tx *gorm.DB) error) error {
	return d.db.Transaction(fn)
}

func getPositionTx(tx *gorm.DB, accountID, symbol, market string) (*types.Position, error) {
	var pos types.Position
	err := tx.Where("account_id = ? AND symbol = ? AND market = ?", accountID, symbol, market).
		First(&pos).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &pos, nil
}
