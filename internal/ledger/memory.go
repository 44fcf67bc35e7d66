package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/eventpay/backend/internal/models"
)

var (
	errLockTimeout       = errors.New("lock wait timeout")
	errNegativeBalance   = errors.New("balance would become negative")
	errNegativeStock     = errors.New("stock would become negative")
	errDuplicateRecord   = errors.New("transaction id already exists")
	errRowNotLocked      = errors.New("row not locked by this unit of work")
	errEmptyTransaction  = errors.New("transaction has no id")
	errDuplicateCustomer = errors.New("customer id or scan token already exists")
	errEmptyCustomer     = errors.New("customer has no id or scan token")
)

// MemoryStore is a Store kept entirely in process memory. Each customer and
// product row has its own exclusive lock, taken on fetch-for-update and held
// until the unit of work ends. Writes are staged and become visible only on
// commit.
type MemoryStore struct {
	mu           sync.Mutex
	customers    map[string]models.Customer
	products     map[string]models.Product
	transactions map[string]*models.Transaction
	order        []string
	locks        map[string]chan struct{}

	lockTimeout time.Duration
	now         func() time.Time
}

// MemorySnapshot is a point-in-time copy of the committed state.
type MemorySnapshot struct {
	Customers    map[string]models.Customer
	Products     map[string]models.Product
	Transactions int
}

func NewMemoryStore(lockTimeout time.Duration) *MemoryStore {
	return &MemoryStore{
		customers:    make(map[string]models.Customer),
		products:     make(map[string]models.Product),
		transactions: make(map[string]*models.Transaction),
		locks:        make(map[string]chan struct{}),
		lockTimeout:  lockTimeout,
		now:          time.Now,
	}
}

// AddCustomer seeds or replaces a customer row.
func (s *MemoryStore) AddCustomer(c models.Customer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers[c.ID] = c
}

// AddProduct seeds or replaces a product row.
func (s *MemoryStore) AddProduct(p models.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

func (s *MemoryStore) Snapshot() MemorySnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := MemorySnapshot{
		Customers:    make(map[string]models.Customer, len(s.customers)),
		Products:     make(map[string]models.Product, len(s.products)),
		Transactions: len(s.transactions),
	}
	for id, c := range s.customers {
		snap.Customers[id] = c
	}
	for id, p := range s.products {
		snap.Products[id] = p
	}
	return snap
}

func (s *MemoryStore) WithinUnitOfWork(ctx context.Context, fn func(ctx context.Context, uow UnitOfWork) error) error {
	if err := ctx.Err(); err != nil {
		return classify(err)
	}

	u := &memUnit{
		store:     s,
		held:      make(map[string]chan struct{}),
		customers: make(map[string]models.Customer),
		products:  make(map[string]models.Product),
		inserted:  make(map[string]struct{}),
	}
	defer u.release()

	if err := fn(ctx, u); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return classify(err)
	}

	return u.commit()
}

func (s *MemoryStore) Customer(ctx context.Context, orgID, customerID string) (*models.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.customers[customerID]
	if !ok || c.OrganizationID != orgID {
		return nil, ErrCustomerNotFound(customerID)
	}
	return &c, nil
}

func (s *MemoryStore) CustomerByScanToken(ctx context.Context, orgID, token string) (*models.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.customers {
		if c.ScanToken == token && c.OrganizationID == orgID {
			return &c, nil
		}
	}
	return nil, ErrCustomerNotFound(token)
}

func (s *MemoryStore) Transaction(ctx context.Context, orgID, transactionID string) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.transactions[transactionID]
	if !ok || t.OrganizationID != orgID {
		return nil, ErrTransactionNotFound(transactionID)
	}
	return copyTransaction(t), nil
}

func (s *MemoryStore) DailyStats(ctx context.Context, orgID string, from, to time.Time) (*models.DailyStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		stats     models.DailyStats
		customers = make(map[string]struct{})
		err       error
	)
	for _, id := range s.order {
		t := s.transactions[id]
		if t.OrganizationID != orgID || t.CreatedAt.Before(from) || !t.CreatedAt.Before(to) {
			continue
		}

		customers[t.CustomerID] = struct{}{}
		switch t.Type {
		case models.TransactionTypePurchase:
			stats.TotalSales++
			if stats.TotalRevenue, err = stats.TotalRevenue.Add(t.TotalAmount); err != nil {
				return nil, ErrStoreUnavailable(err)
			}
		case models.TransactionTypeTopUp:
			stats.TopUpCount++
			if stats.TopUpAmount, err = stats.TopUpAmount.Add(t.TotalAmount); err != nil {
				return nil, ErrStoreUnavailable(err)
			}
		}
	}
	stats.UniqueCustomers = len(customers)

	return &stats, nil
}

func (s *MemoryStore) rowLock(key string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[key]
	if !ok {
		l = make(chan struct{}, 1)
		s.locks[key] = l
	}
	return l
}

type memUnit struct {
	store *MemoryStore
	held  map[string]chan struct{}

	customers    map[string]models.Customer
	products     map[string]models.Product
	transactions []*models.Transaction
	inserted     map[string]struct{}
}

func (u *memUnit) lock(ctx context.Context, key string) error {
	if _, ok := u.held[key]; ok {
		return nil
	}

	l := u.store.rowLock(key)

	var timeout <-chan time.Time
	if u.store.lockTimeout > 0 {
		timer := time.NewTimer(u.store.lockTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case l <- struct{}{}:
		u.held[key] = l
		return nil
	case <-timeout:
		return ErrConflict(fmt.Errorf("%s: %w", key, errLockTimeout))
	case <-ctx.Done():
		return classify(ctx.Err())
	}
}

func (u *memUnit) release() {
	for key, l := range u.held {
		<-l
		delete(u.held, key)
	}
}

func (u *memUnit) CustomerForUpdate(ctx context.Context, orgID, customerID string) (*models.Customer, error) {
	if _, err := u.store.Customer(ctx, orgID, customerID); err != nil {
		return nil, err
	}

	if err := u.lock(ctx, "customer:"+customerID); err != nil {
		return nil, err
	}

	c, err := u.currentCustomer(customerID)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (u *memUnit) ProductForUpdate(ctx context.Context, orgID, productID string) (*models.Product, error) {
	u.store.mu.Lock()
	p, ok := u.store.products[productID]
	u.store.mu.Unlock()
	if !ok || p.OrganizationID != orgID {
		return nil, ErrProductNotFound(productID)
	}

	if err := u.lock(ctx, "product:"+productID); err != nil {
		return nil, err
	}

	p, err := u.currentProduct(productID)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (u *memUnit) ApplyBalanceDelta(ctx context.Context, customerID string, delta models.Money) (models.Money, error) {
	if _, ok := u.held["customer:"+customerID]; !ok {
		return 0, ErrStoreUnavailable(fmt.Errorf("customer %s: %w", customerID, errRowNotLocked))
	}

	c, err := u.currentCustomer(customerID)
	if err != nil {
		return 0, err
	}

	balance, err := c.Balance.Add(delta)
	if err != nil {
		return 0, ErrInvalidAmount(delta, err)
	}
	if balance < 0 {
		return 0, ErrConflict(errNegativeBalance)
	}

	if delta < 0 {
		if c.TotalSpent, err = c.TotalSpent.Add(-delta); err != nil {
			return 0, ErrInvalidAmount(delta, err)
		}
	}

	now := u.store.now()
	c.Balance = balance
	c.LastActivityAt = &now
	u.customers[customerID] = c

	return balance, nil
}

func (u *memUnit) ApplyStockDelta(ctx context.Context, productID string, delta int) (int, error) {
	if _, ok := u.held["product:"+productID]; !ok {
		return 0, ErrStoreUnavailable(fmt.Errorf("product %s: %w", productID, errRowNotLocked))
	}

	p, err := u.currentProduct(productID)
	if err != nil {
		return 0, err
	}

	stock := p.StockQuantity + delta
	if stock < 0 {
		return 0, ErrConflict(errNegativeStock)
	}

	p.StockQuantity = stock
	u.products[productID] = p

	return stock, nil
}

func (u *memUnit) AppendTransaction(ctx context.Context, t *models.Transaction) error {
	if t.ID == "" {
		return ErrStoreUnavailable(errEmptyTransaction)
	}

	u.store.mu.Lock()
	_, exists := u.store.transactions[t.ID]
	u.store.mu.Unlock()
	if exists {
		return ErrStoreUnavailable(fmt.Errorf("%s: %w", t.ID, errDuplicateRecord))
	}
	for _, staged := range u.transactions {
		if staged.ID == t.ID {
			return ErrStoreUnavailable(fmt.Errorf("%s: %w", t.ID, errDuplicateRecord))
		}
	}

	u.transactions = append(u.transactions, copyTransaction(t))
	return nil
}

func (u *memUnit) InsertCustomer(ctx context.Context, c *models.Customer) error {
	if c.ID == "" || c.ScanToken == "" {
		return ErrStoreUnavailable(errEmptyCustomer)
	}

	if err := u.lock(ctx, "customer:"+c.ID); err != nil {
		return err
	}

	u.store.mu.Lock()
	err := u.store.checkNewCustomer(*c)
	u.store.mu.Unlock()
	if err != nil {
		return err
	}
	for id, staged := range u.customers {
		if id == c.ID || staged.ScanToken == c.ScanToken {
			return ErrConflict(fmt.Errorf("%s: %w", c.ID, errDuplicateCustomer))
		}
	}

	u.customers[c.ID] = *c
	u.inserted[c.ID] = struct{}{}
	return nil
}

func (u *memUnit) UpdateCustomer(ctx context.Context, c *models.Customer) error {
	if _, ok := u.held["customer:"+c.ID]; !ok {
		return ErrStoreUnavailable(fmt.Errorf("customer %s: %w", c.ID, errRowNotLocked))
	}

	current, err := u.currentCustomer(c.ID)
	if err != nil {
		return err
	}

	current.FullName = c.FullName
	current.EventID = c.EventID
	current.IsActive = c.IsActive
	u.customers[c.ID] = current

	return nil
}

// checkNewCustomer must be called with s.mu held.
func (s *MemoryStore) checkNewCustomer(c models.Customer) error {
	for id, existing := range s.customers {
		if id == c.ID || existing.ScanToken == c.ScanToken {
			return ErrConflict(fmt.Errorf("%s: %w", c.ID, errDuplicateCustomer))
		}
	}
	return nil
}

func (u *memUnit) currentCustomer(id string) (models.Customer, error) {
	if c, ok := u.customers[id]; ok {
		return c, nil
	}

	u.store.mu.Lock()
	defer u.store.mu.Unlock()
	c, ok := u.store.customers[id]
	if !ok {
		return models.Customer{}, ErrCustomerNotFound(id)
	}
	return c, nil
}

func (u *memUnit) currentProduct(id string) (models.Product, error) {
	if p, ok := u.products[id]; ok {
		return p, nil
	}

	u.store.mu.Lock()
	defer u.store.mu.Unlock()
	p, ok := u.store.products[id]
	if !ok {
		return models.Product{}, ErrProductNotFound(id)
	}
	return p, nil
}

func (u *memUnit) commit() error {
	s := u.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range u.transactions {
		if _, exists := s.transactions[t.ID]; exists {
			return ErrStoreUnavailable(fmt.Errorf("%s: %w", t.ID, errDuplicateRecord))
		}
	}
	for id := range u.inserted {
		if err := s.checkNewCustomer(u.customers[id]); err != nil {
			return err
		}
	}

	for id, c := range u.customers {
		s.customers[id] = c
	}
	for id, p := range u.products {
		s.products[id] = p
	}
	for _, t := range u.transactions {
		s.transactions[t.ID] = t
		s.order = append(s.order, t.ID)
	}
	return nil
}

func copyTransaction(t *models.Transaction) *models.Transaction {
	c := *t
	c.Items = make([]models.TransactionItem, len(t.Items))
	copy(c.Items, t.Items)
	return &c
}
