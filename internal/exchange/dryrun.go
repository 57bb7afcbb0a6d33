package exchange

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tradebot-go/internal/models"
)

// OrderSimulator fakes order execution in dry-run mode. Market and limit orders
// fill immediately; every other type rests open until canceled.
type OrderSimulator struct {
	// roundAmount applies the market's amount precision.
	roundAmount func(pair string, amount float64) float64
	logger      *zap.Logger
	now         func() time.Time

	mu     sync.Mutex
	orders map[string]models.Order
}

// NewOrderSimulator creates an empty order table. roundAmount may be nil.
func NewOrderSimulator(roundAmount func(pair string, amount float64) float64, logger *zap.Logger) *OrderSimulator {
	if roundAmount == nil {
		roundAmount = func(_ string, amount float64) float64 { return amount }
	}
	return &OrderSimulator{
		roundAmount: roundAmount,
		logger:      logger,
		now:         time.Now,
		orders:      make(map[string]models.Order),
	}
}

func fillsImmediately(orderType string) bool {
	return orderType == models.OrderTypeMarket || orderType == models.OrderTypeLimit
}

// Place stores a simulated order. For resting types the stop price is kept in
// Info["stopPrice"], defaulting to rate.
func (s *OrderSimulator) Place(pair, orderType, side string, amount, rate float64, info map[string]any) models.Order {
	amount = s.roundAmount(pair, amount)
	now := s.now().UTC()

	order := models.Order{
		ID:        fmt.Sprintf("dry_run_%s_%s", side, uuid.NewString()),
		Symbol:    pair,
		Price:     rate,
		Amount:    amount,
		Remaining: amount,
		Cost:      amount * rate,
		Type:      orderType,
		Side:      side,
		Status:    models.OrderStatusOpen,
		Timestamp: now.UnixMilli(),
		Datetime:  now.Format(time.RFC3339Nano),
		Info:      make(map[string]any, len(info)+1),
	}
	for k, v := range info {
		order.Info[k] = v
	}

	if fillsImmediately(orderType) {
		order.Status = models.OrderStatusClosed
		order.Filled = amount
		order.Remaining = 0
	} else if _, ok := order.Info["stopPrice"]; !ok {
		order.Info["stopPrice"] = rate
	}

	s.mu.Lock()
	s.orders[order.ID] = order
	s.mu.Unlock()

	s.logger.Info("Dry-run order placed",
		zap.String("id", order.ID),
		zap.String("pair", pair),
		zap.String("type", orderType),
		zap.String("side", side),
		zap.Float64("amount", amount),
		zap.Float64("rate", rate),
		zap.String("status", order.Status),
	)
	return cloneOrder(order)
}

// Get returns the stored order, or an InvalidOrder error.
func (s *OrderSimulator) Get(id string) (models.Order, error) {
	s.mu.Lock()
	order, ok := s.orders[id]
	s.mu.Unlock()
	if !ok {
		return models.Order{}, newError(KindInvalidOrder, nil, "tried to get an invalid dry-run order (id: %s)", id)
	}
	return cloneOrder(order), nil
}

// Cancel removes a resting order. Filled and unknown orders are left alone; Cancel never fails.
func (s *OrderSimulator) Cancel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if order, ok := s.orders[id]; ok && order.IsOpen() {
		delete(s.orders, id)
		s.logger.Info("Dry-run order canceled", zap.String("id", id))
	}
	return nil
}

// Orders returns a copy of the table ordered by creation time.
func (s *OrderSimulator) Orders() []models.Order {
	s.mu.Lock()
	out := make([]models.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, cloneOrder(o))
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// OpenOrders returns the resting orders, optionally limited to pair.
func (s *OrderSimulator) OpenOrders(pair string) []models.Order {
	var out []models.Order
	for _, o := range s.Orders() {
		if o.IsOpen() && (pair == "" || o.Symbol == pair) {
			out = append(out, o)
		}
	}
	return out
}

// Load replaces the table with a previously saved snapshot.
func (s *OrderSimulator) Load(orders []models.Order) {
	table := make(map[string]models.Order, len(orders))
	for _, o := range orders {
		table[o.ID] = cloneOrder(o)
	}
	s.mu.Lock()
	s.orders = table
	s.mu.Unlock()
}

func cloneOrder(o models.Order) models.Order {
	if o.Info != nil {
		info := make(map[string]any, len(o.Info))
		for k, v := range o.Info {
			info[k] = v
		}
		o.Info = info
	}
	if o.Fee != nil {
		fee := *o.Fee
		o.Fee = &fee
	}
	return o
}
