// Package memstore - хранилище в памяти с теми же контрактами, что и PostgreSQL-репозиторий.
// Транзакции сериализуются одним мьютексом и откатываются восстановлением снимка.
package memstore

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mmeshcher/storefront/internal/exchange"
	"github.com/mmeshcher/storefront/internal/inventory"
	"github.com/mmeshcher/storefront/internal/loyalty"
	"github.com/mmeshcher/storefront/internal/model"
	"github.com/mmeshcher/storefront/internal/order"
)

type txKey struct{}

type state struct {
	products       map[uuid.UUID]model.Inventory
	invHistory     []model.InventoryHistory
	balances       map[uuid.UUID]int64
	coupons        map[uuid.UUID]model.Coupon
	userCoupons    map[uuid.UUID]model.UserCoupon
	points         []model.PointEntry
	orders         map[uuid.UUID]*model.Order
	orderNumbers   map[string]uuid.UUID
	paymentTxIDs   map[string]uuid.UUID
	exchanges      map[uuid.UUID]*model.ExchangeReturn
	refundFailures []model.RefundFailure
	seq            int64
}

// snapshot копирует состояние. Значения в картах не изменяются на месте, поэтому достаточно копии карт и срезов.
func (s *state) snapshot() state {
	return state{
		products:       maps.Clone(s.products),
		invHistory:     slices.Clip(s.invHistory),
		balances:       maps.Clone(s.balances),
		coupons:        maps.Clone(s.coupons),
		userCoupons:    maps.Clone(s.userCoupons),
		points:         slices.Clip(s.points),
		orders:         maps.Clone(s.orders),
		orderNumbers:   maps.Clone(s.orderNumbers),
		paymentTxIDs:   maps.Clone(s.paymentTxIDs),
		exchanges:      maps.Clone(s.exchanges),
		refundFailures: slices.Clip(s.refundFailures),
		seq:            s.seq,
	}
}

// Store хранит данные в памяти.
type Store struct {
	mu sync.Mutex
	st state
}

var (
	_ inventory.Store = (*Store)(nil)
	_ loyalty.Store   = (*Store)(nil)
	_ order.Store     = (*Store)(nil)
	_ exchange.Store  = (*Store)(nil)
)

// New создаёт пустое хранилище.
func New() *Store {
	return &Store{st: state{
		products:     make(map[uuid.UUID]model.Inventory),
		balances:     make(map[uuid.UUID]int64),
		coupons:      make(map[uuid.UUID]model.Coupon),
		userCoupons:  make(map[uuid.UUID]model.UserCoupon),
		orders:       make(map[uuid.UUID]*model.Order),
		orderNumbers: make(map[string]uuid.UUID),
		paymentTxIDs: make(map[string]uuid.UUID),
		exchanges:    make(map[uuid.UUID]*model.ExchangeReturn),
	}}
}

// InTx выполняет fn под блокировкой хранилища. При ошибке состояние откатывается.
// Вложенный вызов присоединяется к внешней транзакции.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if inTx(ctx) {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	saved := s.st.snapshot()
	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.st = saved
		return err
	}
	return nil
}

func inTx(ctx context.Context) bool {
	v, _ := ctx.Value(txKey{}).(bool)
	return v
}

// lock захватывает мьютекс, если вызов идёт вне транзакции.
func (s *Store) lock(ctx context.Context) func() {
	if inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) nextID() int64 {
	s.st.seq++
	return s.st.seq
}

// AddProduct заводит товар с заданными остатками.
func (s *Store) AddProduct(productID uuid.UUID, stock, reserved int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.products[productID] = model.Inventory{ProductID: productID, Stock: stock, Reserved: reserved}
}

// Product возвращает складские счётчики товара.
func (s *Store) Product(productID uuid.UUID) (model.Inventory, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.st.products[productID]
	return p, ok
}

// AddUser заводит пользователя с балансом баллов.
func (s *Store) AddUser(userID uuid.UUID, balance int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.balances[userID] = balance
}

// AddCoupon сохраняет определение купона.
func (s *Store) AddCoupon(c model.Coupon) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.coupons[c.ID] = c
}

// IssueCoupon выдаёт купон пользователю.
func (s *Store) IssueCoupon(uc model.UserCoupon) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.userCoupons[uc.ID] = uc
}

// Coupon возвращает определение купона.
func (s *Store) Coupon(id uuid.UUID) (model.Coupon, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.st.coupons[id]
	return c, ok
}

// PutOrder сохраняет заказ как есть, минуя бизнес-правила.
func (s *Store) PutOrder(o *model.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putOrder(o)
}

func (s *Store) putOrder(o *model.Order) {
	c := cloneOrder(o)
	s.st.orders[c.ID] = c
	s.st.orderNumbers[c.Number] = c.ID
	if c.Payment.TransactionID != "" {
		s.st.paymentTxIDs[c.Payment.TransactionID] = c.ID
	}
}

// ReserveStock увеличивает резерв, если хватает свободного остатка.
func (s *Store) ReserveStock(ctx context.Context, productID uuid.UUID, qty int) (model.StockChange, error) {
	defer s.lock(ctx)()

	p, ok := s.st.products[productID]
	if !ok {
		return model.StockChange{}, inventory.ErrProductNotFound.Withf("%s", productID)
	}
	if p.Available() < qty {
		return model.StockChange{}, inventory.ErrInsufficientStock.Withf("product %s: available %d, requested %d", productID, p.Available(), qty)
	}

	change := model.StockChange{ProductID: productID, PreviousStock: p.Stock, PreviousReserved: p.Reserved, NewReserved: p.Reserved + qty}
	p.Reserved += qty
	s.st.products[productID] = p
	return change, nil
}

// RestoreStock уменьшает резерв, не опуская его ниже нуля.
func (s *Store) RestoreStock(ctx context.Context, productID uuid.UUID, qty int) (model.StockChange, error) {
	defer s.lock(ctx)()

	p, ok := s.st.products[productID]
	if !ok {
		return model.StockChange{}, inventory.ErrProductNotFound.Withf("%s", productID)
	}

	change := model.StockChange{ProductID: productID, PreviousStock: p.Stock, PreviousReserved: p.Reserved}
	p.Reserved = max(p.Reserved-qty, 0)
	change.NewReserved = p.Reserved
	s.st.products[productID] = p
	return change, nil
}

// AppendInventoryHistory добавляет запись складского журнала.
func (s *Store) AppendInventoryHistory(ctx context.Context, entry *model.InventoryHistory) error {
	defer s.lock(ctx)()

	entry.ID = s.nextID()
	s.st.invHistory = append(s.st.invHistory, *entry)
	return nil
}

// ListInventoryHistory возвращает журнал товара в порядке записи.
func (s *Store) ListInventoryHistory(ctx context.Context, productID uuid.UUID) ([]model.InventoryHistory, error) {
	defer s.lock(ctx)()

	var out []model.InventoryHistory
	for _, h := range s.st.invHistory {
		if h.ProductID == productID {
			out = append(out, h)
		}
	}
	return out, nil
}

// GetUserCoupon возвращает купон пользователя и его определение.
func (s *Store) GetUserCoupon(ctx context.Context, id uuid.UUID) (model.UserCoupon, model.Coupon, error) {
	defer s.lock(ctx)()

	uc, ok := s.st.userCoupons[id]
	if !ok {
		return model.UserCoupon{}, model.Coupon{}, loyalty.ErrCouponNotFound
	}
	c, ok := s.st.coupons[uc.CouponID]
	if !ok {
		return model.UserCoupon{}, model.Coupon{}, loyalty.ErrCouponNotFound
	}
	return uc, c, nil
}

// ConsumeUserCoupon помечает купон использованным в заказе.
func (s *Store) ConsumeUserCoupon(ctx context.Context, id, orderID uuid.UUID, at time.Time) error {
	defer s.lock(ctx)()

	uc, ok := s.st.userCoupons[id]
	if !ok {
		return loyalty.ErrCouponNotFound
	}
	if uc.Used {
		return loyalty.ErrCouponUsed
	}
	uc.Used, uc.UsedAt, uc.OrderID = true, &at, &orderID
	s.st.userCoupons[id] = uc
	return nil
}

// IncrementCouponUsage увеличивает счётчик использований купона.
func (s *Store) IncrementCouponUsage(ctx context.Context, couponID uuid.UUID) error {
	defer s.lock(ctx)()

	c, ok := s.st.coupons[couponID]
	if !ok {
		return loyalty.ErrCouponNotFound
	}
	c.UsageCount++
	s.st.coupons[couponID] = c
	return nil
}

// PointBalance возвращает баланс баллов пользователя.
func (s *Store) PointBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	defer s.lock(ctx)()

	b, ok := s.st.balances[userID]
	if !ok {
		return 0, loyalty.ErrUserNotFound
	}
	return b, nil
}

// AddPoints меняет баланс на delta, не допуская отрицательного баланса.
func (s *Store) AddPoints(ctx context.Context, userID uuid.UUID, delta int64) (int64, error) {
	defer s.lock(ctx)()

	b, ok := s.st.balances[userID]
	if !ok {
		return 0, loyalty.ErrUserNotFound
	}
	if b+delta < 0 {
		return 0, loyalty.ErrInsufficientBalance.Withf("balance %d, requested %d", b, -delta)
	}
	s.st.balances[userID] = b + delta
	return b + delta, nil
}

// AppendPointEntry добавляет запись журнала баллов.
func (s *Store) AppendPointEntry(ctx context.Context, entry *model.PointEntry) error {
	defer s.lock(ctx)()

	if entry.Type == model.PointEarn && entry.OrderID != nil && s.hasEarn(entry.UserID, *entry.OrderID) {
		return loyalty.ErrAlreadyCredited
	}
	entry.ID = s.nextID()
	s.st.points = append(s.st.points, *entry)
	return nil
}

// HasEarnEntry сообщает, есть ли начисление по заказу.
func (s *Store) HasEarnEntry(ctx context.Context, userID, orderID uuid.UUID) (bool, error) {
	defer s.lock(ctx)()
	return s.hasEarn(userID, orderID), nil
}

func (s *Store) hasEarn(userID, orderID uuid.UUID) bool {
	for _, p := range s.st.points {
		if p.Type == model.PointEarn && p.UserID == userID && p.OrderID != nil && *p.OrderID == orderID {
			return true
		}
	}
	return false
}

// ListPointEntries возвращает страницу журнала баллов, новые записи первыми.
func (s *Store) ListPointEntries(ctx context.Context, userID uuid.UUID, page model.Page) ([]model.PointEntry, int, error) {
	defer s.lock(ctx)()

	var all []model.PointEntry
	for i := len(s.st.points) - 1; i >= 0; i-- {
		if s.st.points[i].UserID == userID {
			all = append(all, s.st.points[i])
		}
	}
	return paginate(all, page), len(all), nil
}

// PaymentTransactionExists сообщает, использована ли транзакция шлюза.
func (s *Store) PaymentTransactionExists(ctx context.Context, transactionID string) (bool, error) {
	defer s.lock(ctx)()
	_, ok := s.st.paymentTxIDs[transactionID]
	return ok, nil
}

// OrderNumberExists сообщает, занят ли номер заказа.
func (s *Store) OrderNumberExists(ctx context.Context, number string) (bool, error) {
	defer s.lock(ctx)()
	_, ok := s.st.orderNumbers[number]
	return ok, nil
}

// CreateOrder сохраняет новый заказ.
func (s *Store) CreateOrder(ctx context.Context, o *model.Order) error {
	defer s.lock(ctx)()

	if _, ok := s.st.orderNumbers[o.Number]; ok {
		return order.ErrOrderNumberTaken
	}
	if o.Payment.TransactionID != "" {
		if _, ok := s.st.paymentTxIDs[o.Payment.TransactionID]; ok {
			return order.ErrDuplicatePayment
		}
	}
	s.putOrder(o)
	return nil
}

// GetOrder возвращает заказ по идентификатору.
func (s *Store) GetOrder(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	defer s.lock(ctx)()

	o, ok := s.st.orders[id]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

// GetOrderByNumber возвращает заказ по номеру.
func (s *Store) GetOrderByNumber(ctx context.Context, number string) (*model.Order, error) {
	defer s.lock(ctx)()

	id, ok := s.st.orderNumbers[number]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	return cloneOrder(s.st.orders[id]), nil
}

// LockOrder возвращает заказ для изменения. Транзакции и так выполняются по одной.
func (s *Store) LockOrder(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	return s.GetOrder(ctx, id)
}

// UpdateOrder сохраняет изменяемые поля заказа. Журнал статусов не перезаписывается.
func (s *Store) UpdateOrder(ctx context.Context, o *model.Order) error {
	defer s.lock(ctx)()

	cur, ok := s.st.orders[o.ID]
	if !ok {
		return order.ErrOrderNotFound
	}
	if tx := o.Payment.TransactionID; tx != "" && tx != cur.Payment.TransactionID {
		if owner, taken := s.st.paymentTxIDs[tx]; taken && owner != o.ID {
			return order.ErrDuplicatePayment
		}
	}

	next := cloneOrder(o)
	next.History = cur.History
	if cur.Payment.TransactionID != "" && cur.Payment.TransactionID != next.Payment.TransactionID {
		delete(s.st.paymentTxIDs, cur.Payment.TransactionID)
	}
	if next.Payment.TransactionID != "" {
		s.st.paymentTxIDs[next.Payment.TransactionID] = next.ID
	}
	s.st.orders[o.ID] = next
	return nil
}

// AppendOrderAudit добавляет запись в журнал статусов заказа.
func (s *Store) AppendOrderAudit(ctx context.Context, orderID uuid.UUID, entry model.AuditEntry) error {
	defer s.lock(ctx)()

	cur, ok := s.st.orders[orderID]
	if !ok {
		return order.ErrOrderNotFound
	}
	next := *cur
	next.History = append(slices.Clip(cur.History), entry)
	s.st.orders[orderID] = &next
	return nil
}

// ListOrders возвращает страницу заказов, новые первыми.
func (s *Store) ListOrders(ctx context.Context, f model.OrderFilter) ([]model.Order, int, error) {
	defer s.lock(ctx)()

	var all []model.Order
	for _, o := range s.st.orders {
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if f.UserID != nil && (o.UserID == nil || *o.UserID != *f.UserID) {
			continue
		}
		all = append(all, *cloneOrder(o))
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].Number > all[j].Number
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	return paginate(all, f.Page), len(all), nil
}

// CreateExchangeReturn сохраняет заявку.
func (s *Store) CreateExchangeReturn(ctx context.Context, e *model.ExchangeReturn) error {
	defer s.lock(ctx)()

	c := *e
	c.Items = slices.Clone(e.Items)
	s.st.exchanges[e.ID] = &c
	return nil
}

// GetExchangeReturn возвращает заявку.
func (s *Store) GetExchangeReturn(ctx context.Context, id uuid.UUID) (*model.ExchangeReturn, error) {
	defer s.lock(ctx)()

	e, ok := s.st.exchanges[id]
	if !ok {
		return nil, exchange.ErrExchangeNotFound
	}
	c := *e
	c.Items = slices.Clone(e.Items)
	return &c, nil
}

// LockExchangeReturn возвращает заявку для изменения.
func (s *Store) LockExchangeReturn(ctx context.Context, id uuid.UUID) (*model.ExchangeReturn, error) {
	return s.GetExchangeReturn(ctx, id)
}

// UpdateExchangeReturn сохраняет заявку.
func (s *Store) UpdateExchangeReturn(ctx context.Context, e *model.ExchangeReturn) error {
	defer s.lock(ctx)()

	if _, ok := s.st.exchanges[e.ID]; !ok {
		return exchange.ErrExchangeNotFound
	}
	c := *e
	c.Items = slices.Clone(e.Items)
	s.st.exchanges[e.ID] = &c
	return nil
}

// ListExchangeReturns возвращает страницу заявок, новые первыми.
func (s *Store) ListExchangeReturns(ctx context.Context, f model.ExchangeFilter) ([]model.ExchangeReturn, int, error) {
	defer s.lock(ctx)()

	var all []model.ExchangeReturn
	for _, e := range s.st.exchanges {
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		if f.UserID != nil && e.UserID != *f.UserID {
			continue
		}
		if f.OrderID != nil && e.OrderID != *f.OrderID {
			continue
		}
		all = append(all, *e)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	return paginate(all, f.Page), len(all), nil
}

// OrderExchangeReturns возвращает все заявки по заказу в порядке создания.
func (s *Store) OrderExchangeReturns(ctx context.Context, orderID uuid.UUID) (model.OrderReturns, error) {
	defer s.lock(ctx)()

	var out model.OrderReturns
	for _, e := range s.st.exchanges {
		if e.OrderID == orderID {
			c := *e
			c.Items = slices.Clone(e.Items)
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// RecordRefundFailure сохраняет неудавшийся возврат.
func (s *Store) RecordRefundFailure(ctx context.Context, f *model.RefundFailure) error {
	defer s.lock(ctx)()

	f.ID = s.nextID()
	s.st.refundFailures = append(s.st.refundFailures, *f)
	return nil
}

// ListRefundFailures возвращает страницу неудавшихся возвратов, новые первыми.
func (s *Store) ListRefundFailures(ctx context.Context, page model.Page) ([]model.RefundFailure, int, error) {
	defer s.lock(ctx)()

	all := slices.Clone(s.st.refundFailures)
	slices.Reverse(all)
	return paginate(all, page), len(all), nil
}

func paginate[T any](all []T, page model.Page) []T {
	page = page.Normalize()
	start := page.Offset()
	if start >= len(all) {
		return []T{}
	}
	end := min(start+page.Limit, len(all))
	return all[start:end]
}

func cloneOrder(o *model.Order) *model.Order {
	c := *o
	c.Items = slices.Clone(o.Items)
	c.History = slices.Clone(o.History)
	c.GuestTokenHash = slices.Clone(o.GuestTokenHash)
	if o.Guest != nil {
		g := *o.Guest
		c.Guest = &g
	}
	return &c
}
