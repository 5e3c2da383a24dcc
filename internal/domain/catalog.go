package domain

// CatalogItem is a preset donation amount configured on the backend.
type CatalogItem struct {
	ID          string
	Name        string
	AmountCents int64
	Currency    string
}
