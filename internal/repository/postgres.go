package repository

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/mmeshcher/campus-preorder/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const orderColumns = `id, number, diner_id, restaurant_id, items, order_kind, is_pre_order, slot,
	subtotal, service_charge, total, status, version, payment_id, intent_id, otp, has_rated,
	created_at, confirmed_at, preparing_at, ready_at, completed_at, cancelled_at`

// querier покрывает общее подмножество pgxpool.Pool и pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет fn при сбоях сериализации, взаимоблокировках и обрывах соединения.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(3, retry.NewExponential(100*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil && isRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// LoadSeed загружает каталог одной транзакцией. Существующие записи обновляются,
// накопленные счётчики не трогаются, вместимость слота не опускается ниже текущих резервов.
func (r *PostgresRepository) LoadSeed(ctx context.Context, src io.Reader) error {
	seed, err := DecodeSeed(src)
	if err != nil {
		return err
	}

	return r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		for _, rest := range seed.Restaurants {
			_, err := tx.Exec(ctx,
				`INSERT INTO restaurants (id, name, availability, pre_order_enabled)
				 VALUES ($1, $2, $3, $4)
				 ON CONFLICT (id) DO UPDATE
				 SET name = EXCLUDED.name,
				     availability = EXCLUDED.availability,
				     pre_order_enabled = EXCLUDED.pre_order_enabled`,
				rest.ID, rest.Name, rest.Availability, rest.PreOrderEnabled,
			)
			if err != nil {
				return fmt.Errorf("upsert restaurant %s: %w", rest.ID, err)
			}

			for _, slot := range rest.Slots {
				_, err := tx.Exec(ctx,
					`INSERT INTO restaurant_slots (restaurant_id, label, max_orders)
					 VALUES ($1, $2, $3)
					 ON CONFLICT (restaurant_id, label) DO UPDATE
					 SET max_orders = GREATEST(EXCLUDED.max_orders, restaurant_slots.current_orders)`,
					rest.ID, slot.Label, slot.MaxOrders,
				)
				if err != nil {
					return fmt.Errorf("upsert slot %s/%s: %w", rest.ID, slot.Label, err)
				}
			}
		}

		for _, it := range seed.MenuItems {
			_, err := tx.Exec(ctx,
				`INSERT INTO menu_items (id, restaurant_id, name, price, available)
				 VALUES ($1, $2, $3, $4, $5)
				 ON CONFLICT (id) DO UPDATE
				 SET restaurant_id = EXCLUDED.restaurant_id,
				     name = EXCLUDED.name,
				     price = EXCLUDED.price,
				     available = EXCLUDED.available`,
				it.ID, it.RestaurantID, it.Name, it.Price, it.Available,
			)
			if err != nil {
				return fmt.Errorf("upsert menu item %s: %w", it.ID, err)
			}
		}

		return tx.Commit(ctx)
	})
}

// GetRestaurant возвращает ресторан вместе со слотами.
func (r *PostgresRepository) GetRestaurant(ctx context.Context, id string) (*model.Restaurant, error) {
	var rest *model.Restaurant
	err := r.withRetry(ctx, func(ctx context.Context) error {
		var err error
		rest, err = loadRestaurant(ctx, r.pool, id, false)
		return err
	})
	return rest, err
}

func loadRestaurant(ctx context.Context, q querier, id string, lock bool) (*model.Restaurant, error) {
	query := `SELECT id, name, availability, pre_order_enabled, total_orders, total_revenue
		 FROM restaurants WHERE id = $1`
	if lock {
		query += ` FOR SHARE`
	}

	var rest model.Restaurant
	err := q.QueryRow(ctx, query, id).Scan(
		&rest.ID, &rest.Name, &rest.Availability, &rest.PreOrderEnabled, &rest.TotalOrders, &rest.TotalRevenue,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: restaurant %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("get restaurant: %w", err)
	}

	rows, err := q.Query(ctx,
		`SELECT label, max_orders, current_orders
		 FROM restaurant_slots
		 WHERE restaurant_id = $1
		 ORDER BY label`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("select slots: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var s model.Slot
		if err := rows.Scan(&s.Label, &s.MaxOrders, &s.CurrentOrders); err != nil {
			return nil, fmt.Errorf("scan slot: %w", err)
		}
		rest.Slots = append(rest.Slots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return &rest, nil
}

// GetMenuItem возвращает позицию каталога.
func (r *PostgresRepository) GetMenuItem(ctx context.Context, id string) (*model.MenuItem, error) {
	var it model.MenuItem
	err := r.withRetry(ctx, func(ctx context.Context) error {
		return r.pool.QueryRow(ctx,
			`SELECT id, restaurant_id, name, price, available, total_orders, total_revenue
			 FROM menu_items WHERE id = $1`,
			id,
		).Scan(&it.ID, &it.RestaurantID, &it.Name, &it.Price, &it.Available, &it.TotalOrders, &it.TotalRevenue)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: menu item %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("get menu item: %w", err)
	}
	return &it, nil
}

// ReserveSlot атомарно занимает один резерв: увеличение выполняется только если
// current_orders < max_orders, условие проверяет сама СУБД.
func (r *PostgresRepository) ReserveSlot(ctx context.Context, restaurantID, label string) error {
	return r.withRetry(ctx, func(ctx context.Context) error {
		return reserveSlot(ctx, r.pool, restaurantID, label)
	})
}

func reserveSlot(ctx context.Context, q querier, restaurantID, label string) error {
	tag, err := q.Exec(ctx,
		`UPDATE restaurant_slots
		 SET current_orders = current_orders + 1
		 WHERE restaurant_id = $1 AND label = $2 AND current_orders < max_orders`,
		restaurantID, label,
	)
	if err != nil {
		return fmt.Errorf("reserve slot: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	err = q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM restaurant_slots WHERE restaurant_id = $1 AND label = $2)`,
		restaurantID, label,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check slot: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrSlotNotFound, label)
	}
	return fmt.Errorf("%w: %s", ErrSlotFull, label)
}

// ReleaseSlot освобождает один резерв. Счётчик не опускается ниже нуля.
func (r *PostgresRepository) ReleaseSlot(ctx context.Context, restaurantID, label string) error {
	return r.withRetry(ctx, func(ctx context.Context) error {
		return releaseSlot(ctx, r.pool, restaurantID, label)
	})
}

func releaseSlot(ctx context.Context, q querier, restaurantID, label string) error {
	tag, err := q.Exec(ctx,
		`UPDATE restaurant_slots
		 SET current_orders = GREATEST(current_orders - 1, 0)
		 WHERE restaurant_id = $1 AND label = $2`,
		restaurantID, label,
	)
	if err != nil {
		return fmt.Errorf("release slot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrSlotNotFound, label)
	}
	return nil
}

// SetSlotCapacity меняет вместимость слота. Уменьшение ниже текущего числа резервов отклоняется.
func (r *PostgresRepository) SetSlotCapacity(ctx context.Context, restaurantID, label string, maxOrders int) (*model.Slot, error) {
	var s model.Slot
	err := r.withRetry(ctx, func(ctx context.Context) error {
		err := r.pool.QueryRow(ctx,
			`UPDATE restaurant_slots
			 SET max_orders = $3
			 WHERE restaurant_id = $1 AND label = $2 AND current_orders <= $3
			 RETURNING label, max_orders, current_orders`,
			restaurantID, label, maxOrders,
		).Scan(&s.Label, &s.MaxOrders, &s.CurrentOrders)
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}

		var current int
		err = r.pool.QueryRow(ctx,
			`SELECT current_orders FROM restaurant_slots WHERE restaurant_id = $1 AND label = $2`,
			restaurantID, label,
		).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrSlotNotFound, label)
		}
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: %d reserved, %d requested", ErrCapacityBelowReserved, current, maxOrders)
	})
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// BeginPlacement открывает транзакцию размещения заказа.
func (r *PostgresRepository) BeginPlacement(ctx context.Context) (Placement, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &pgPlacement{tx: tx}, nil
}

// pgPlacement выполняет все шаги размещения в одной транзакции, поэтому
// компенсация сводится к её откату.
type pgPlacement struct {
	tx pgx.Tx
}

func (p *pgPlacement) LockRestaurant(ctx context.Context, restaurantID string) (*model.Restaurant, error) {
	return loadRestaurant(ctx, p.tx, restaurantID, true)
}

func (p *pgPlacement) Reserve(ctx context.Context, restaurantID, label string) error {
	return reserveSlot(ctx, p.tx, restaurantID, label)
}

func (p *pgPlacement) PersistOrder(ctx context.Context, o *model.Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("encode items: %w", err)
	}

	var flagged bool
	err = p.tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM payment_reconciliations WHERE payment_id = $1)`,
		o.PaymentID,
	).Scan(&flagged)
	if err != nil {
		return fmt.Errorf("check reconciliation: %w", err)
	}
	if flagged {
		return fmt.Errorf("%w: %s", ErrPaymentFlagged, o.PaymentID)
	}

	err = p.tx.QueryRow(ctx,
		`INSERT INTO orders (
			id, diner_id, restaurant_id, items, order_kind, is_pre_order, slot,
			subtotal, service_charge, total, status, version, payment_id, intent_id, otp, has_rated, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING number`,
		o.ID, o.DinerID, o.RestaurantID, items, string(o.Kind), o.IsPreOrder, o.Slot,
		o.Subtotal, o.ServiceCharge, o.Total, string(o.Status), o.Version, o.PaymentID, o.IntentID, o.OTP, o.HasRated, o.CreatedAt,
	).Scan(&o.Number)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation && pgErr.ConstraintName == "orders_payment_id_key" {
			return fmt.Errorf("%w: %s", ErrDuplicatePayment, o.PaymentID)
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (p *pgPlacement) Commit(ctx context.Context) error {
	if err := p.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (p *pgPlacement) Compensate(ctx context.Context) error {
	err := p.tx.Rollback(ctx)
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("rollback tx: %w", err)
	}
	return nil
}

// GetOrder возвращает заказ по идентификатору.
func (r *PostgresRepository) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	var o *model.Order
	err := r.withRetry(ctx, func(ctx context.Context) error {
		var err error
		o, err = scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: order %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

// GetOrderByPaymentID возвращает заказ, созданный по указанному платежу.
func (r *PostgresRepository) GetOrderByPaymentID(ctx context.Context, paymentID string) (*model.Order, error) {
	var o *model.Order
	err := r.withRetry(ctx, func(ctx context.Context) error {
		var err error
		o, err = scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE payment_id = $1`, paymentID))
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: payment %s", ErrNotFound, paymentID)
		}
		return nil, fmt.Errorf("get order by payment: %w", err)
	}
	return o, nil
}

// ListOrders возвращает заказы по фильтру, новые первыми.
func (r *PostgresRepository) ListOrders(ctx context.Context, f model.OrderFilter) ([]model.Order, error) {
	var (
		conds []string
		args  []any
	)
	if f.DinerID != "" {
		args = append(args, f.DinerID)
		conds = append(conds, fmt.Sprintf("diner_id = $%d", len(args)))
	}
	if f.RestaurantID != "" {
		args = append(args, f.RestaurantID)
		conds = append(conds, fmt.Sprintf("restaurant_id = $%d", len(args)))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, 0, len(f.Statuses))
		for _, s := range f.Statuses {
			statuses = append(statuses, string(s))
		}
		args = append(args, statuses)
		conds = append(conds, fmt.Sprintf("status = ANY($%d)", len(args)))
	}

	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	args = append(args, effectiveLimit(f.Limit))
	query += fmt.Sprintf(` ORDER BY created_at DESC, number DESC LIMIT $%d`, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return orders, nil
}

// UpdateOrderStatus переводит заказ из from в to, если его статус и версия не изменились.
// Иначе возвращает ErrConflict.
func (r *PostgresRepository) UpdateOrderStatus(ctx context.Context, id string, from, to model.OrderStatus, version int) (*model.Order, error) {
	var o *model.Order
	err := r.withRetry(ctx, func(ctx context.Context) error {
		var err error
		o, err = scanOrder(r.pool.QueryRow(ctx,
			`UPDATE orders
			 SET status = $1::text,
			     version = version + 1,
			     confirmed_at = CASE WHEN $1::text = 'confirmed' THEN NOW() ELSE confirmed_at END,
			     preparing_at = CASE WHEN $1::text = 'preparing' THEN NOW() ELSE preparing_at END,
			     ready_at = CASE WHEN $1::text = 'ready' THEN NOW() ELSE ready_at END
			 WHERE id = $2 AND status = $3 AND version = $4
			 RETURNING `+orderColumns,
			string(to), id, string(from), version,
		))
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("update order status: %w", err)
	}
	return o, nil
}

// CancelOrder отменяет ожидающий заказ и, если это предзаказ, освобождает его резерв в той же транзакции.
func (r *PostgresRepository) CancelOrder(ctx context.Context, id string, version int) (*model.Order, error) {
	var o *model.Order
	err := r.withRetry(ctx, func(ctx context.Context) error {
		return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
			var err error
			o, err = scanOrder(tx.QueryRow(ctx,
				`UPDATE orders
				 SET status = $3, version = version + 1, cancelled_at = NOW()
				 WHERE id = $1 AND status = $4 AND version = $2
				 RETURNING `+orderColumns,
				id, version, string(model.OrderStatusCancelled), string(model.OrderStatusPending),
			))
			if err != nil {
				return err
			}
			if o.IsPreOrder {
				return releaseSlot(ctx, tx, o.RestaurantID, o.Slot)
			}
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("cancel order: %w", err)
	}
	return o, nil
}

// CompleteOrder завершает готовый заказ: начисляет ресторану заказ и выручку
// и, если это предзаказ, освобождает резерв. Порядок блокировок:
// orders, restaurants, restaurant_slots.
func (r *PostgresRepository) CompleteOrder(ctx context.Context, id string, version int) (*model.Order, error) {
	var o *model.Order
	err := r.withRetry(ctx, func(ctx context.Context) error {
		return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
			var err error
			o, err = scanOrder(tx.QueryRow(ctx,
				`UPDATE orders
				 SET status = $3, version = version + 1, completed_at = NOW()
				 WHERE id = $1 AND status = $4 AND version = $2
				 RETURNING `+orderColumns,
				id, version, string(model.OrderStatusCompleted), string(model.OrderStatusReady),
			))
			if err != nil {
				return err
			}

			_, err = tx.Exec(ctx,
				`UPDATE restaurants
				 SET total_orders = total_orders + 1, total_revenue = total_revenue + $2
				 WHERE id = $1`,
				o.RestaurantID, o.Total,
			)
			if err != nil {
				return fmt.Errorf("credit restaurant: %w", err)
			}

			if o.IsPreOrder {
				return releaseSlot(ctx, tx, o.RestaurantID, o.Slot)
			}
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("complete order: %w", err)
	}
	return o, nil
}

// IncrementItemStats увеличивает счётчики позиций каталога и возвращает
// идентификаторы позиций, которых в каталоге уже нет.
func (r *PostgresRepository) IncrementItemStats(ctx context.Context, sales []ItemSale) ([]string, error) {
	var missing []string
	for _, s := range sales {
		tag, err := r.pool.Exec(ctx,
			`UPDATE menu_items
			 SET total_orders = total_orders + $2, total_revenue = total_revenue + $3
			 WHERE id = $1`,
			s.ItemID, s.Quantity, s.Revenue,
		)
		if err != nil {
			return missing, fmt.Errorf("update item %s stats: %w", s.ItemID, err)
		}
		if tag.RowsAffected() == 0 {
			missing = append(missing, s.ItemID)
		}
	}
	return missing, nil
}

// FlagForRefund записывает платёж, требующий ручного возврата. Повторная запись того же платежа игнорируется.
func (r *PostgresRepository) FlagForRefund(ctx context.Context, rec model.Reconciliation) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO payment_reconciliations
			(payment_id, intent_id, diner_id, restaurant_id, amount, kind, reason, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (payment_id) DO NOTHING`,
		rec.PaymentID, rec.IntentID, rec.DinerID, rec.RestaurantID, rec.Amount, rec.Kind, rec.Reason, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert reconciliation: %w", err)
	}
	return nil
}

// GetReconciliation возвращает запись о ручном возврате по идентификатору платежа.
func (r *PostgresRepository) GetReconciliation(ctx context.Context, paymentID string) (*model.Reconciliation, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT payment_id, intent_id, diner_id, restaurant_id, amount, kind, reason, created_at
		 FROM payment_reconciliations
		 WHERE payment_id = $1`,
		paymentID,
	)
	rec, err := scanReconciliation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: reconciliation for payment %s", ErrNotFound, paymentID)
		}
		return nil, fmt.Errorf("select reconciliation: %w", err)
	}
	return rec, nil
}

// ListReconciliations возвращает записи о платежах ресторана, требующих ручного возврата.
func (r *PostgresRepository) ListReconciliations(ctx context.Context, restaurantID string) ([]model.Reconciliation, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT payment_id, intent_id, diner_id, restaurant_id, amount, kind, reason, created_at
		 FROM payment_reconciliations
		 WHERE restaurant_id = $1
		 ORDER BY created_at DESC`,
		restaurantID,
	)
	if err != nil {
		return nil, fmt.Errorf("select reconciliations: %w", err)
	}
	defer rows.Close()

	var res []model.Reconciliation
	for rows.Next() {
		rec, err := scanReconciliation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reconciliation: %w", err)
		}
		res = append(res, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

func scanReconciliation(row pgx.Row) (*model.Reconciliation, error) {
	var rec model.Reconciliation
	err := row.Scan(&rec.PaymentID, &rec.IntentID, &rec.DinerID, &rec.RestaurantID, &rec.Amount, &rec.Kind, &rec.Reason, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func scanOrder(row pgx.Row) (*model.Order, error) {
	var (
		o      model.Order
		items  []byte
		kind   string
		status string
	)
	err := row.Scan(
		&o.ID, &o.Number, &o.DinerID, &o.RestaurantID, &items, &kind, &o.IsPreOrder, &o.Slot,
		&o.Subtotal, &o.ServiceCharge, &o.Total, &status, &o.Version, &o.PaymentID, &o.IntentID, &o.OTP, &o.HasRated,
		&o.CreatedAt, &o.ConfirmedAt, &o.PreparingAt, &o.ReadyAt, &o.CompletedAt, &o.CancelledAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	o.Kind = model.OrderKind(kind)
	o.Status = model.OrderStatus(status)
	return &o, nil
}
