package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"flowershop/internal/domain"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(ctx context.Context, dsn string) (*PostgresRepo, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	r := &PostgresRepo{db: db}
	if err := r.init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *PostgresRepo) Close() error { return r.db.Close() }

func (r *PostgresRepo) init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL DEFAULT '',
			telegram_id BIGINT NOT NULL DEFAULT 0,
			avatar_url TEXT NOT NULL DEFAULT '',
			bonus_balance BIGINT NOT NULL DEFAULT 0 CHECK (bonus_balance >= 0),
			role TEXT NOT NULL DEFAULT 'customer',
			password_hash TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS users_email_key ON users (email) WHERE email <> '';`,
		`CREATE UNIQUE INDEX IF NOT EXISTS users_telegram_key ON users (telegram_id) WHERE telegram_id <> 0;`,
		`CREATE TABLE IF NOT EXISTS flowers (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			price NUMERIC(12,2) NOT NULL,
			image_url TEXT NOT NULL DEFAULT '',
			in_stock BOOLEAN NOT NULL DEFAULT TRUE,
			max_order_quantity INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ
		);`,
		`CREATE TABLE IF NOT EXISTS promo_codes (
			code TEXT PRIMARY KEY,
			percentage INT NOT NULL,
			active BOOLEAN NOT NULL DEFAULT TRUE
		);`,
		`CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id),
			items TEXT NOT NULL,
			delivery_address TEXT NOT NULL,
			delivery_date TEXT NOT NULL,
			delivery_slot TEXT NOT NULL,
			delivery_instructions TEXT NOT NULL DEFAULT '',
			subtotal NUMERIC(12,2) NOT NULL,
			delivery_fee NUMERIC(12,2) NOT NULL,
			discount NUMERIC(12,2) NOT NULL,
			total_amount NUMERIC(12,2) NOT NULL,
			bonus_points_used BIGINT NOT NULL DEFAULT 0,
			bonus_points_earned BIGINT NOT NULL DEFAULT 0,
			promo_code TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			idempotency_key TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS orders_idempotency_key ON orders (user_id, idempotency_key) WHERE idempotency_key <> '';`,
		`CREATE INDEX IF NOT EXISTS orders_user_created ON orders (user_id, created_at DESC);`,
	}
	for _, s := range stmts {
		if _, err := r.db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

const userColumns = `id,email,name,telegram_id,avatar_url,bonus_balance,role,password_hash,created_at,updated_at`

// PutUser upserts u without touching an existing bonus balance.
func (r *PostgresRepo) PutUser(ctx context.Context, u *domain.User) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO users (`+userColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO UPDATE SET email=$2,name=$3,telegram_id=$4,avatar_url=$5,role=$7,password_hash=$8,updated_at=$10`,
		u.ID, u.Email, u.Name, u.TelegramID, u.AvatarURL, u.BonusBalance, string(u.Role), u.PasswordHash, u.CreatedAt, u.UpdatedAt)
	if isUniqueViolation(err) {
		return domain.ErrDuplicate
	}
	return err
}

func (r *PostgresRepo) GetUser(ctx context.Context, id string) (*domain.User, bool) {
	return r.scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, id))
}

func (r *PostgresRepo) GetUserByEmail(ctx context.Context, email string) (*domain.User, bool) {
	if email == "" {
		return nil, false
	}
	return r.scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email=$1`, email))
}

func (r *PostgresRepo) GetUserByTelegramID(ctx context.Context, telegramID int64) (*domain.User, bool) {
	if telegramID == 0 {
		return nil, false
	}
	return r.scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE telegram_id=$1`, telegramID))
}

func (r *PostgresRepo) scanUser(row *sql.Row) (*domain.User, bool) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.TelegramID, &u.AvatarURL, &u.BonusBalance, (*string)(&u.Role), &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, false
	}
	return &u, true
}

const flowerColumns = `id,name,description,category,price,image_url,in_stock,max_order_quantity,created_at`

func (r *PostgresRepo) PutFlower(ctx context.Context, f *domain.Flower) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO flowers (`+flowerColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO UPDATE SET name=$2,description=$3,category=$4,price=$5,image_url=$6,in_stock=$7,max_order_quantity=$8`,
		f.ID, f.Name, f.Description, f.Category, f.Price, f.ImageURL, f.InStock, f.MaxOrderQuantity, f.CreatedAt)
	return err
}

func (r *PostgresRepo) GetFlower(ctx context.Context, id string) (*domain.Flower, bool) {
	var f domain.Flower
	err := r.db.QueryRowContext(ctx, `SELECT `+flowerColumns+` FROM flowers WHERE id=$1`, id).
		Scan(&f.ID, &f.Name, &f.Description, &f.Category, &f.Price, &f.ImageURL, &f.InStock, &f.MaxOrderQuantity, &f.CreatedAt)
	if err != nil {
		return nil, false
	}
	return &f, true
}

var flowerOrder = map[string]string{
	"":                   "name ASC, id ASC",
	domain.SortName:      "name ASC, id ASC",
	domain.SortPriceAsc:  "price ASC, name ASC, id ASC",
	domain.SortPriceDesc: "price DESC, name ASC, id ASC",
	domain.SortNewest:    "created_at DESC, name ASC, id ASC",
}

func (r *PostgresRepo) ListFlowers(ctx context.Context, f domain.FlowerFilter) ([]domain.Flower, int, error) {
	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Category != "" {
		add("lower(category) = lower($%d)", f.Category)
	}
	if f.Search != "" {
		args = append(args, "%"+strings.ToLower(f.Search)+"%")
		n := len(args)
		where = append(where, fmt.Sprintf("(lower(name) LIKE $%d OR lower(description) LIKE $%d)", n, n))
	}
	if f.InStock != nil {
		add("in_stock = $%d", *f.InStock)
	}
	if f.MinPrice != nil {
		add("price >= $%d", *f.MinPrice)
	}
	if f.MaxPrice != nil {
		add("price <= $%d", *f.MaxPrice)
	}
	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM flowers`+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	order, ok := flowerOrder[f.Sort]
	if !ok {
		order = flowerOrder[""]
	}
	q := `SELECT ` + flowerColumns + ` FROM flowers` + cond + ` ORDER BY ` + order
	if f.PageSize > 0 {
		page := f.Page
		if page < 1 {
			page = 1
		}
		q += fmt.Sprintf(" LIMIT %d OFFSET %d", f.PageSize, (page-1)*f.PageSize)
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := make([]domain.Flower, 0, f.PageSize)
	for rows.Next() {
		var fl domain.Flower
		if err := rows.Scan(&fl.ID, &fl.Name, &fl.Description, &fl.Category, &fl.Price, &fl.ImageURL, &fl.InStock, &fl.MaxOrderQuantity, &fl.CreatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, fl)
	}
	return out, total, rows.Err()
}

func (r *PostgresRepo) PutPromo(ctx context.Context, p *domain.PromoCode) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO promo_codes (code,percentage,active) VALUES ($1,$2,$3)
		ON CONFLICT (code) DO UPDATE SET percentage=$2,active=$3`, p.Code, p.Percentage, p.Active)
	return err
}

func (r *PostgresRepo) GetPromo(ctx context.Context, code string) (*domain.PromoCode, bool) {
	var p domain.PromoCode
	err := r.db.QueryRowContext(ctx, `SELECT code,percentage,active FROM promo_codes WHERE code=$1`, code).
		Scan(&p.Code, &p.Percentage, &p.Active)
	if err != nil {
		return nil, false
	}
	return &p, true
}

const orderColumns = `id,user_id,items,delivery_address,delivery_date,delivery_slot,delivery_instructions,
	subtotal,delivery_fee,discount,total_amount,bonus_points_used,bonus_points_earned,promo_code,status,
	idempotency_key,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(s rowScanner) (*domain.Order, error) {
	var o domain.Order
	var items string
	err := s.Scan(&o.ID, &o.UserID, &items, &o.DeliveryAddress, &o.DeliveryDate, (*string)(&o.DeliverySlot), &o.DeliveryInstructions,
		&o.Subtotal, &o.DeliveryFee, &o.Discount, &o.TotalAmount, &o.BonusPointsUsed, &o.BonusPointsEarned, &o.PromoCode, (*string)(&o.Status),
		&o.IdempotencyKey, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(items), &o.Items); err != nil {
		return nil, fmt.Errorf("order %s items: %w", o.ID, err)
	}
	return &o, nil
}

func (r *PostgresRepo) CreateOrder(ctx context.Context, o *domain.Order, bonusDelta int64) (*domain.Order, bool, error) {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return nil, false, err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	var id string
	err = tx.QueryRowContext(ctx, `INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		ON CONFLICT (user_id, idempotency_key) WHERE idempotency_key <> '' DO NOTHING
		RETURNING id`,
		o.ID, o.UserID, string(items), o.DeliveryAddress, o.DeliveryDate, string(o.DeliverySlot), o.DeliveryInstructions,
		o.Subtotal, o.DeliveryFee, o.Discount, o.TotalAmount, o.BonusPointsUsed, o.BonusPointsEarned, o.PromoCode, string(o.Status),
		o.IdempotencyKey, o.CreatedAt, o.UpdatedAt).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		_ = tx.Rollback()
		existing, ok := r.GetOrderByKey(ctx, o.UserID, o.IdempotencyKey)
		if !ok {
			return nil, false, fmt.Errorf("order with key %q vanished", o.IdempotencyKey)
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	res, err := tx.ExecContext(ctx, `UPDATE users SET bonus_balance = bonus_balance + $1, updated_at = $2
		WHERE id = $3 AND bonus_balance + $1 >= 0`, bonusDelta, o.CreatedAt, o.UserID)
	if err != nil {
		return nil, false, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, false, err
	} else if n == 0 {
		return nil, false, domain.ErrInsufficientBonus
	}
	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	cp := *o
	return &cp, true, nil
}

func (r *PostgresRepo) GetOrderByKey(ctx context.Context, userID, key string) (*domain.Order, bool) {
	if key == "" {
		return nil, false
	}
	o, err := scanOrder(r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE user_id=$1 AND idempotency_key=$2`, userID, key))
	if err != nil {
		return nil, false
	}
	return o, true
}

func (r *PostgresRepo) ListOrders(ctx context.Context, userID string, page, pageSize int) ([]domain.Order, int) {
	if page < 1 {
		page = 1
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE user_id=$1
		ORDER BY created_at DESC, id ASC LIMIT $2 OFFSET $3`, userID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0
	}
	defer rows.Close()
	out := make([]domain.Order, 0, pageSize)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			continue
		}
		out = append(out, *o)
	}
	var total int
	_ = r.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM orders WHERE user_id=$1`, userID).Scan(&total)
	return out, total
}
