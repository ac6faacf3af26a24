package entity

type ProductType string

const (
	ProductTypeConsumable    ProductType = "consumable"
	ProductTypeNonConsumable ProductType = "non_consumable"
	ProductTypeSubscription  ProductType = "subscription"
)

type PeriodUnit string

const (
	PeriodDay   PeriodUnit = "day"
	PeriodWeek  PeriodUnit = "week"
	PeriodMonth PeriodUnit = "month"
	PeriodYear  PeriodUnit = "year"
)

// Product is store metadata for a single purchasable item. Instances are
// immutable once fetched; a product query replaces the stored entry wholesale.
type Product struct {
	ID           string      `json:"id"`
	Title        string      `json:"title"`
	Description  string      `json:"description"`
	Price        string      `json:"price"`
	PriceAmount  float64     `json:"priceAmount"`
	CurrencyCode string      `json:"currencyCode"`
	Type         ProductType `json:"type"`

	// Set only when Type is ProductTypeSubscription.
	SubscriptionPeriod PeriodUnit `json:"subscriptionPeriod,omitempty"`
	PeriodCount        int        `json:"periodCount,omitempty"`
}

// IsSubscription returns true for auto-renewing subscription products.
func (p Product) IsSubscription() bool {
	return p.Type == ProductTypeSubscription
}
