package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"mercado/backend/internal/domain"
	"mercado/backend/internal/store"
)

// Store keeps everything in process memory. Transactions are serialized by
// the write lock and rolled back through an undo journal.
type Store struct {
	mu                sync.RWMutex
	products          map[string]domain.Product
	barcodes          map[string]string
	movements         []domain.StockMovement
	categories        map[string]domain.Category
	suppliers         map[string]domain.Supplier
	customers         map[string]domain.Customer
	paymentMethods    map[string]domain.PaymentMethod
	cashSessions      map[string]domain.CashSession
	openSessionByUser map[string]string
	cashMovements     []domain.CashMovement
	cashCounts        map[string][]domain.CashCount
	sales             map[string]domain.Sale
	saleNumbers       map[string]string
	saleItems         []domain.SaleItem
	salePayments      []domain.SalePayment
	purchases         map[string]domain.Purchase
	documentKeys      map[string]string
	purchaseItems     []domain.PurchaseItem
	discards          []domain.ProductDiscard
	inventorySessions map[string]domain.InventorySession
	inventoryCounts   map[string]domain.InventoryCount
	adjustments       []domain.InventoryAdjustment
	usersByUsername   map[string]domain.UserAccount
}

var _ store.Repository = (*Store)(nil)

func New() *Store {
	return &Store{
		products:          make(map[string]domain.Product),
		barcodes:          make(map[string]string),
		categories:        make(map[string]domain.Category),
		suppliers:         make(map[string]domain.Supplier),
		customers:         make(map[string]domain.Customer),
		paymentMethods:    make(map[string]domain.PaymentMethod),
		cashSessions:      make(map[string]domain.CashSession),
		openSessionByUser: make(map[string]string),
		cashCounts:        make(map[string][]domain.CashCount),
		sales:             make(map[string]domain.Sale),
		saleNumbers:       make(map[string]string),
		purchases:         make(map[string]domain.Purchase),
		documentKeys:      make(map[string]string),
		inventorySessions: make(map[string]domain.InventorySession),
		inventoryCounts:   make(map[string]domain.InventoryCount),
		usersByUsername:   make(map[string]domain.UserAccount),
	}
}

// Credentials are the passwords of the seeded accounts. Empty fields fall
// back to DevCredentials.
type Credentials struct {
	AdminPassword   string
	CashierPassword string
}

var DevCredentials = Credentials{AdminPassword: "admin123", CashierPassword: "cashier123"}

func seedUsers(now time.Time, creds Credentials) (map[string]domain.UserAccount, error) {
	if creds.AdminPassword == "" {
		creds.AdminPassword = DevCredentials.AdminPassword
	}
	if creds.CashierPassword == "" {
		creds.CashierPassword = DevCredentials.CashierPassword
	}

	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		id       string
		username string
		password string
		role     string
	}{
		{"usr-admin", "admin", creds.AdminPassword, domain.RoleAdmin},
		{"usr-cashier", "cashier", creds.CashierPassword, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.MinCost)
		if err != nil {
			return nil, fmt.Errorf("hash seed password for %s: %w", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			ID:        u.id,
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users, nil
}

// NewSeeded returns a store with reference data, a small catalog and the
// default accounts. Seed stock is recorded as ADJUSTMENT movements so every
// product's history replays to its stock.
func NewSeeded(creds Credentials) (*Store, error) {
	s := New()
	now := time.Now().UTC()

	for _, c := range []domain.Category{
		{ID: "cat-mercearia", Name: "Mercearia"},
		{ID: "cat-bebidas", Name: "Bebidas"},
		{ID: "cat-hortifruti", Name: "Hortifruti"},
	} {
		c.CreatedAt = now
		s.categories[c.ID] = c
	}
	s.suppliers["sup-atacado"] = domain.Supplier{ID: "sup-atacado", Name: "Atacado Central", Phone: "11 4000-1000", CreatedAt: now}
	s.suppliers["sup-hortas"] = domain.Supplier{ID: "sup-hortas", Name: "Hortas do Vale", CreatedAt: now}
	s.customers["cus-balcao"] = domain.Customer{ID: "cus-balcao", Name: "Cliente Balcão", CreatedAt: now}

	for _, pm := range []domain.PaymentMethod{
		{ID: "pm-dinheiro", Name: "Dinheiro", IsCash: true},
		{ID: "pm-credito", Name: "Crédito"},
		{ID: "pm-debito", Name: "Débito"},
		{ID: "pm-pix", Name: "Pix"},
	} {
		pm.Active = true
		pm.CreatedAt = now
		s.paymentMethods[pm.ID] = pm
	}

	atacado := "sup-atacado"
	hortas := "sup-hortas"
	products := []domain.Product{
		{ID: "prd-arroz", Name: "Arroz 5kg", Barcode: strPtr("7891000100103"), CategoryID: "cat-mercearia", SupplierID: &atacado, Unit: "UN", PurchasePrice: dec("18.90"), SalePrice: dec("27.90"), Stock: dec("10"), MinStock: dec("5"), MaxStock: decPtr("30")},
		{ID: "prd-feijao", Name: "Feijão Carioca 1kg", Barcode: strPtr("7891000100202"), CategoryID: "cat-mercearia", SupplierID: &atacado, Unit: "UN", PurchasePrice: dec("6.10"), SalePrice: dec("8.99"), Stock: dec("20"), MinStock: dec("10")},
		{ID: "prd-cafe", Name: "Café Torrado 500g", Barcode: strPtr("7891000100301"), CategoryID: "cat-mercearia", SupplierID: &atacado, Unit: "UN", PurchasePrice: dec("11.50"), SalePrice: dec("16.90"), Stock: dec("8"), MinStock: dec("12"), MaxStock: decPtr("36")},
		{ID: "prd-leite", Name: "Leite Integral 1L", Barcode: strPtr("7891000100400"), CategoryID: "cat-bebidas", SupplierID: &atacado, Unit: "UN", PurchasePrice: dec("3.80"), SalePrice: dec("5.49"), Stock: dec("24"), MinStock: dec("12")},
		{ID: "prd-refri", Name: "Refrigerante 2L", Barcode: strPtr("7891000100509"), CategoryID: "cat-bebidas", SupplierID: &atacado, Unit: "UN", PurchasePrice: dec("5.20"), SalePrice: dec("8.49"), Stock: dec("18"), MinStock: dec("0")},
		{ID: "prd-banana", Name: "Banana Prata", CategoryID: "cat-hortifruti", SupplierID: &hortas, Unit: "KG", PurchasePrice: dec("3.10"), SalePrice: dec("5.99"), Stock: dec("15.5"), MinStock: dec("5")},
		{ID: "prd-tomate", Name: "Tomate", CategoryID: "cat-hortifruti", SupplierID: &hortas, Unit: "KG", PurchasePrice: dec("4.20"), SalePrice: dec("7.49"), Stock: dec("9.25"), MinStock: dec("4")},
	}
	for _, p := range products {
		p.Active = true
		p.CreatedAt = now
		p.UpdatedAt = now
		s.products[p.ID] = p
		if p.Barcode != nil {
			s.barcodes[*p.Barcode] = p.ID
		}
		ref := p.ID
		s.movements = append(s.movements, domain.StockMovement{
			ID:            "mov-seed-" + p.ID,
			ProductID:     p.ID,
			Type:          domain.MovementAdjustment,
			Quantity:      p.Stock,
			PreviousStock: decimal.Zero,
			NewStock:      p.Stock,
			ReferenceID:   &ref,
			ReferenceType: domain.ReferenceProduct,
			Description:   "initial stock",
			CreatedBy:     "usr-admin",
			CreatedAt:     now,
		})
	}

	users, err := seedUsers(now, creds)
	if err != nil {
		return nil, err
	}
	s.usersByUsername = users
	return s, nil
}

func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return store.Unavailable(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{s: s}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		if c := strings.Compare(a.CategoryID, b.CategoryID); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	return products, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, store.NotFound("product", id)
	}
	return &p, nil
}

func (s *Store) GetProductByBarcode(_ context.Context, barcode string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.productByBarcode(barcode)
}

func (s *Store) productByBarcode(barcode string) (*domain.Product, error) {
	id, ok := s.barcodes[barcode]
	if !ok {
		return nil, store.NotFound("product with barcode", barcode)
	}
	p := s.products[id]
	return &p, nil
}

func (s *Store) ListStockMovements(_ context.Context, productID string) ([]domain.StockMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.products[productID]; !ok {
		return nil, store.NotFound("product", productID)
	}
	result := make([]domain.StockMovement, 0, 16)
	for _, m := range s.movements {
		if m.ProductID == productID {
			result = append(result, m)
		}
	}
	return result, nil
}

func (s *Store) CreateCategory(_ context.Context, category domain.Category) (*domain.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.categories {
		if strings.EqualFold(existing.Name, category.Name) {
			return nil, store.Invalid("name", "category already exists")
		}
	}
	s.categories[category.ID] = category
	return &category, nil
}

func (s *Store) ListCategories(_ context.Context) ([]domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedByName(s.categories, func(c domain.Category) string { return c.Name }), nil
}

func (s *Store) CreateSupplier(_ context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.suppliers {
		if strings.EqualFold(existing.Name, supplier.Name) {
			return nil, store.Invalid("name", "supplier already exists")
		}
	}
	s.suppliers[supplier.ID] = supplier
	return &supplier, nil
}

func (s *Store) ListSuppliers(_ context.Context) ([]domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedByName(s.suppliers, func(sup domain.Supplier) string { return sup.Name }), nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers[customer.ID] = customer
	return &customer, nil
}

func (s *Store) ListCustomers(_ context.Context) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedByName(s.customers, func(c domain.Customer) string { return c.Name }), nil
}

func (s *Store) ListPaymentMethods(_ context.Context) ([]domain.PaymentMethod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedByName(s.paymentMethods, func(pm domain.PaymentMethod) string { return pm.Name }), nil
}

func (s *Store) EnsurePaymentMethod(_ context.Context, method domain.PaymentMethod) (*domain.PaymentMethod, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.paymentMethods {
		if strings.EqualFold(existing.Name, method.Name) {
			return &existing, false, nil
		}
	}
	s.paymentMethods[method.ID] = method
	return &method, true, nil
}

func (s *Store) GetOpenCashSession(_ context.Context, userID string) (*domain.CashSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.openCashSession(userID)
}

func (s *Store) openCashSession(userID string) (*domain.CashSession, error) {
	id, ok := s.openSessionByUser[userID]
	if !ok {
		return nil, store.NotFound("open cash session for user", userID)
	}
	session := s.cashSessions[id]
	return &session, nil
}

func (s *Store) GetCashSession(_ context.Context, id string) (*domain.CashSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.cashSessions[id]
	if !ok {
		return nil, store.NotFound("cash session", id)
	}
	return &session, nil
}

func (s *Store) ListCashMovements(_ context.Context, sessionID string) ([]domain.CashMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cashMovementsFor(sessionID), nil
}

func (s *Store) cashMovementsFor(sessionID string) []domain.CashMovement {
	result := make([]domain.CashMovement, 0, 16)
	for _, m := range s.cashMovements {
		if m.SessionID == sessionID {
			result = append(result, m)
		}
	}
	return result
}

func (s *Store) ListCashCounts(_ context.Context, sessionID string) ([]domain.CashCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.cashCounts[sessionID]), nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.sales[id]
	if !ok {
		return nil, store.NotFound("sale", id)
	}
	sale.Items = make([]domain.SaleItem, 0, 4)
	for _, item := range s.saleItems {
		if item.SaleID == id {
			sale.Items = append(sale.Items, item)
		}
	}
	sale.Payments = make([]domain.SalePayment, 0, 2)
	for _, payment := range s.salePayments {
		if payment.SaleID == id {
			sale.Payments = append(sale.Payments, payment)
		}
	}
	return &sale, nil
}

func (s *Store) ListSales(_ context.Context, filter domain.SaleFilter) ([]domain.Sale, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	paidWith := make(map[string]bool)
	if filter.PaymentMethodID != "" {
		for _, p := range s.salePayments {
			if p.PaymentMethodID == filter.PaymentMethodID {
				paidWith[p.SaleID] = true
			}
		}
	}

	matched := make([]domain.Sale, 0, len(s.sales))
	for _, sale := range s.sales {
		if filter.From != nil && sale.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && sale.CreatedAt.After(*filter.To) {
			continue
		}
		if filter.CustomerID != "" && (sale.CustomerID == nil || *sale.CustomerID != filter.CustomerID) {
			continue
		}
		if filter.PaymentMethodID != "" && !paidWith[sale.ID] {
			continue
		}
		if filter.CreatedBy != "" && sale.CreatedBy != filter.CreatedBy {
			continue
		}
		matched = append(matched, sale)
	}
	slices.SortFunc(matched, func(a, b domain.Sale) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	return pageOf(matched, filter.Page, filter.PageSize), len(matched), nil
}

func (s *Store) GetPurchase(_ context.Context, id string) (*domain.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.purchaseWithItems(id)
}

func (s *Store) purchaseWithItems(id string) (*domain.Purchase, error) {
	purchase, ok := s.purchases[id]
	if !ok {
		return nil, store.NotFound("purchase", id)
	}
	purchase.Items = make([]domain.PurchaseItem, 0, 4)
	for _, item := range s.purchaseItems {
		if item.PurchaseID == id {
			purchase.Items = append(purchase.Items, item)
		}
	}
	return &purchase, nil
}

func (s *Store) ListPurchases(_ context.Context, filter domain.PurchaseFilter) ([]domain.Purchase, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]domain.Purchase, 0, len(s.purchases))
	for _, p := range s.purchases {
		if filter.From != nil && p.PurchaseDate.Before(*filter.From) {
			continue
		}
		if filter.To != nil && p.PurchaseDate.After(*filter.To) {
			continue
		}
		if filter.SupplierID != "" && p.SupplierID != filter.SupplierID {
			continue
		}
		if (filter.Status == domain.PurchaseDraft && !p.IsDraft) || (filter.Status == domain.PurchaseReceived && p.IsDraft) {
			continue
		}
		matched = append(matched, p)
	}
	slices.SortFunc(matched, func(a, b domain.Purchase) int {
		if c := b.PurchaseDate.Compare(a.PurchaseDate); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	return pageOf(matched, filter.Page, filter.PageSize), len(matched), nil
}

func (s *Store) ListDiscards(_ context.Context, filter domain.DiscardFilter) ([]domain.ProductDiscard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(strings.TrimSpace(filter.ProductName))
	result := make([]domain.ProductDiscard, 0, len(s.discards))
	for _, d := range s.discards {
		if filter.From != nil && d.DiscardedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && d.DiscardedAt.After(*filter.To) {
			continue
		}
		if filter.Reason != "" && d.Reason != filter.Reason {
			continue
		}
		d.ProductName = s.products[d.ProductID].Name
		if needle != "" && !strings.Contains(strings.ToLower(d.ProductName), needle) {
			continue
		}
		result = append(result, d)
	}
	slices.SortStableFunc(result, func(a, b domain.ProductDiscard) int {
		return b.DiscardedAt.Compare(a.DiscardedAt)
	})
	return result, nil
}

func (s *Store) ListExpiringLots(_ context.Context, until time.Time) ([]domain.ExpiringLot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lots := make([]domain.ExpiringLot, 0, 8)
	for _, item := range s.purchaseItems {
		if item.ExpirationDate == nil || item.ExpirationDate.After(until) {
			continue
		}
		if s.purchases[item.PurchaseID].IsDraft {
			continue
		}
		product := s.products[item.ProductID]
		lot := domain.ExpiringLot{
			PurchaseItemID:    item.ID,
			ProductID:         item.ProductID,
			ProductName:       product.Name,
			Batch:             item.Batch,
			Quantity:          item.Quantity,
			ProductStock:      product.Stock,
			ManufacturingDate: item.ManufacturingDate,
			ExpirationDate:    *item.ExpirationDate,
		}
		if category, ok := s.categories[product.CategoryID]; ok {
			name := category.Name
			lot.CategoryName = &name
		}
		lots = append(lots, lot)
	}
	return lots, nil
}

func (s *Store) GetInventorySession(_ context.Context, id string) (*domain.InventorySession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.inventorySessions[id]
	if !ok {
		return nil, store.NotFound("inventory session", id)
	}
	return &session, nil
}

func (s *Store) ListInventoryCounts(_ context.Context, sessionID string) ([]domain.InventoryCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countsFor(sessionID), nil
}

func (s *Store) countsFor(sessionID string) []domain.InventoryCount {
	counts := make([]domain.InventoryCount, 0, 16)
	for _, c := range s.inventoryCounts {
		if c.SessionID == sessionID {
			counts = append(counts, c)
		}
	}
	slices.SortFunc(counts, func(a, b domain.InventoryCount) int {
		return strings.Compare(a.ProductID, b.ProductID)
	})
	return counts
}

func (s *Store) ListInventoryAdjustments(_ context.Context, sessionID string) ([]domain.InventoryAdjustment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.InventoryAdjustment, 0, 8)
	for _, a := range s.adjustments {
		if a.SessionID == sessionID {
			result = append(result, a)
		}
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" {
		return store.Invalid("username", "is required")
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.Invalid("username", "already exists")
	}
	user.Username = username
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	user, ok := s.usersByUsername[username]
	if !ok {
		return store.NotFound("user", username)
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) UpdateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for username, existing := range s.usersByUsername {
		if existing.ID != user.ID {
			continue
		}
		existing.Role = user.Role
		existing.Active = user.Active
		s.usersByUsername[username] = existing
		return nil
	}
	return store.NotFound("user", user.ID)
}

// pageOf slices one 1-based page out of items. A non-positive size returns
// everything.
func pageOf[T any](items []T, page int, size int) []T {
	if size <= 0 {
		return items
	}
	start := (max(page, 1) - 1) * size
	if start >= len(items) {
		return []T{}
	}
	return items[start:min(start+size, len(items))]
}

func sortedByName[V any](m map[string]V, name func(V) string) []V {
	result := make([]V, 0, len(m))
	for _, v := range m {
		result = append(result, v)
	}
	slices.SortFunc(result, func(a, b V) int {
		return strings.Compare(name(a), name(b))
	})
	return result
}

func dec(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func decPtr(value string) *decimal.Decimal {
	d := dec(value)
	return &d
}

func strPtr(value string) *string {
	return &value
}
