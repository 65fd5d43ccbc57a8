package mysql

import "time"

type productModel struct {
	ID    string `gorm:"primaryKey;size:64"`
	Name  string `gorm:"size:255"`
	Price int64
}

func (productModel) TableName() string { return "products" }

type buyerModel struct {
	ID string `gorm:"primaryKey;size:64"`
}

func (buyerModel) TableName() string { return "buyers" }

type stockModel struct {
	ProductID string `gorm:"primaryKey;size:64"`
	Quantity  int
	Version   int64
	UpdatedAt time.Time
}

func (stockModel) TableName() string { return "stocks" }

type pointModel struct {
	UserID    string `gorm:"primaryKey;size:64"`
	Amount    int64
	Version   int64
	UpdatedAt time.Time
}

func (pointModel) TableName() string { return "point_balances" }

type couponModel struct {
	ID        string `gorm:"primaryKey;size:64"`
	OwnerID   string `gorm:"size:64;index"`
	Name      string `gorm:"size:255"`
	Kind      string `gorm:"size:16"`
	Value     int64
	Used      bool
	UsedAt    *time.Time
	Version   int64
	CreatedAt time.Time
}

func (couponModel) TableName() string { return "coupons" }

type orderModel struct {
	ID             string `gorm:"primaryKey;size:64"`
	BuyerID        string `gorm:"size:64;index"`
	Status         string `gorm:"size:16"`
	CouponID       string `gorm:"size:64"`
	CouponDiscount int64
	UsedPoints     int64
	TotalAmount    int64
	FinalAmount    int64
	PaymentMethod  string `gorm:"size:32"`
	FailureReason  string `gorm:"size:512"`
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Items          []orderItemModel `gorm:"foreignKey:OrderID"`
}

func (orderModel) TableName() string { return "orders" }

type orderItemModel struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement"`
	OrderID     string `gorm:"size:64;index"`
	ProductID   string `gorm:"size:64"`
	ProductName string `gorm:"size:255"`
	Quantity    int
	UnitPrice   int64
}

func (orderItemModel) TableName() string { return "order_items" }

type paymentModel struct {
	Seq            string `gorm:"primaryKey;size:64"`
	ID             string `gorm:"size:64;uniqueIndex"`
	OrderID        string `gorm:"size:64;index"`
	Status         string `gorm:"size:32;index:idx_payments_status_updated,priority:1"`
	Method         string `gorm:"size:32"`
	Amount         int64
	Provider       string `gorm:"size:64"`
	TransactionKey string `gorm:"size:128"`
	Reason         string `gorm:"size:512"`
	PaidAt         *time.Time
	FailedAt       *time.Time
	CanceledAt     *time.Time
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time `gorm:"index:idx_payments_status_updated,priority:2"`
}

func (paymentModel) TableName() string { return "payments" }
