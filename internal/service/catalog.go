package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"mercado/backend/internal/domain"
	"mercado/backend/internal/ledger"
	"mercado/backend/internal/store"
	"mercado/backend/internal/xid"
)

// defaultPaymentMethods is the set installed by SeedPaymentMethods.
var defaultPaymentMethods = []domain.PaymentMethod{
	{Name: "Dinheiro", IsCash: true},
	{Name: "Crédito"},
	{Name: "Débito"},
	{Name: "Pix"},
	{Name: "VA"},
	{Name: "VR"},
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

// CreateProduct registers a product. Any initial stock is posted through the
// ledger as an ADJUSTMENT so the movement history replays to the stock.
func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.Product{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Barcode = strings.TrimSpace(req.Barcode)
	req.CategoryID = strings.TrimSpace(req.CategoryID)
	req.SupplierID = strings.TrimSpace(req.SupplierID)
	req.Unit = strings.ToUpper(strings.TrimSpace(req.Unit))
	if err := s.check(req); err != nil {
		return domain.Product{}, err
	}
	if req.MaxStock != nil && req.MaxStock.LessThan(req.MinStock) {
		return domain.Product{}, store.Invalid("max_stock", "must not be below min_stock")
	}

	now := s.now()
	product := domain.Product{
		ID:            xid.New("prd"),
		Name:          req.Name,
		Barcode:       optionalString(req.Barcode),
		CategoryID:    req.CategoryID,
		SupplierID:    optionalString(req.SupplierID),
		Unit:          req.Unit,
		PurchasePrice: money(req.PurchasePrice),
		SalePrice:     money(req.SalePrice),
		MinStock:      quantity(req.MinStock),
		Active:        true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if req.MaxStock != nil {
		maxStock := quantity(*req.MaxStock)
		product.MaxStock = &maxStock
	}
	initial := quantity(req.InitialStock)

	err = s.inTx(ctx, func(ctx context.Context, tx store.Tx) error {
		ok, err := tx.CategoryExists(ctx, product.CategoryID)
		if err != nil {
			return err
		}
		if !ok {
			return store.NotFound("category", product.CategoryID)
		}
		if product.SupplierID != nil {
			ok, err := tx.SupplierExists(ctx, *product.SupplierID)
			if err != nil {
				return err
			}
			if !ok {
				return store.NotFound("supplier", *product.SupplierID)
			}
		}
		if err := tx.CreateProduct(ctx, product); err != nil {
			return err
		}
		if initial.IsPositive() {
			movement, err := s.ledger.ApplyDelta(ctx, tx, ledger.Entry{
				ProductID:     product.ID,
				Delta:         initial,
				Type:          domain.MovementAdjustment,
				ReferenceID:   product.ID,
				ReferenceType: domain.ReferenceProduct,
				Description:   "initial stock",
				ActorID:       actor.ID,
			})
			if err != nil {
				return err
			}
			product.Stock = movement.NewStock
			product.UpdatedAt = movement.CreatedAt
		}
		return nil
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.audit(ctx, "product_create", "product", product.ID,
		zap.String("name", product.Name), decimalField(product.Stock, "initial_stock"))
	s.refreshReports(ctx)
	return product, nil
}

func (s *Service) SetProductActive(ctx context.Context, productID string, active bool) (domain.Product, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, store.Invalid("product_id", "is required")
	}

	var updated *domain.Product
	err := s.inTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.GetProductForUpdate(ctx, productID); err != nil {
			return err
		}
		var err error
		updated, err = tx.SetProductActive(ctx, productID, active, s.now())
		return err
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.audit(ctx, "product_set_active", "product", productID, zap.Bool("active", active))
	s.refreshReports(ctx)
	return *updated, nil
}

func (s *Service) ListStockMovements(ctx context.Context, productID string) (domain.StockMovementListResponse, error) {
	product, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		return domain.StockMovementListResponse{}, err
	}
	movements, err := s.repo.ListStockMovements(ctx, productID)
	if err != nil {
		return domain.StockMovementListResponse{}, err
	}
	return domain.StockMovementListResponse{
		ProductID: product.ID,
		Stock:     product.Stock,
		Movements: movements,
	}, nil
}

func (s *Service) CreateCategory(ctx context.Context, req domain.NamedCreateRequest) (domain.Category, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Category{}, err
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := s.check(req); err != nil {
		return domain.Category{}, err
	}

	created, err := s.repo.CreateCategory(ctx, domain.Category{
		ID:        xid.New("cat"),
		Name:      req.Name,
		CreatedAt: s.now(),
	})
	if err != nil {
		return domain.Category{}, err
	}
	s.audit(ctx, "category_create", "category", created.ID, zap.String("name", created.Name))
	return *created, nil
}

func (s *Service) ListCategories(ctx context.Context) ([]domain.Category, error) {
	return s.repo.ListCategories(ctx)
}

func (s *Service) CreateSupplier(ctx context.Context, req domain.NamedCreateRequest) (domain.Supplier, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Supplier{}, err
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := s.check(req); err != nil {
		return domain.Supplier{}, err
	}

	created, err := s.repo.CreateSupplier(ctx, domain.Supplier{
		ID:        xid.New("sup"),
		Name:      req.Name,
		Phone:     strings.TrimSpace(req.Phone),
		CreatedAt: s.now(),
	})
	if err != nil {
		return domain.Supplier{}, err
	}
	s.audit(ctx, "supplier_create", "supplier", created.ID, zap.String("name", created.Name))
	return *created, nil
}

func (s *Service) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	return s.repo.ListSuppliers(ctx)
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.NamedCreateRequest) (domain.Customer, error) {
	if _, err := requireActor(ctx); err != nil {
		return domain.Customer{}, err
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := s.check(req); err != nil {
		return domain.Customer{}, err
	}

	created, err := s.repo.CreateCustomer(ctx, domain.Customer{
		ID:        xid.New("cus"),
		Name:      req.Name,
		Document:  strings.TrimSpace(req.Document),
		CreatedAt: s.now(),
	})
	if err != nil {
		return domain.Customer{}, err
	}
	s.audit(ctx, "customer_create", "customer", created.ID)
	return *created, nil
}

func (s *Service) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	return s.repo.ListCustomers(ctx)
}

func (s *Service) ListPaymentMethods(ctx context.Context) ([]domain.PaymentMethod, error) {
	return s.repo.ListPaymentMethods(ctx)
}

// SeedPaymentMethods installs the default payment methods that are missing
// and returns the full list. Running it again changes nothing.
func (s *Service) SeedPaymentMethods(ctx context.Context) ([]domain.PaymentMethod, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}

	created := 0
	for _, method := range defaultPaymentMethods {
		method.ID = xid.New("pm")
		method.Active = true
		method.CreatedAt = s.now()
		_, isNew, err := s.repo.EnsurePaymentMethod(ctx, method)
		if err != nil {
			return nil, err
		}
		if isNew {
			created++
		}
	}
	if created > 0 {
		s.audit(ctx, "payment_methods_seed", "payment_method", "", zap.Int("created", created))
	}
	return s.repo.ListPaymentMethods(ctx)
}
