package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	appErr "github.com/samims/pricewatch/internal/errors"
	"github.com/samims/pricewatch/internal/model"
)

const uniqueViolation = "23505"

const productColumns = `
	id, COALESCE(catalog_id, ''), url, title,
	current_price::text, reference_price::text,
	currency, availability, created_at, updated_at`

type PostgresStorage struct {
	db *pgxpool.Pool
}

func NewPostgresStorage(pool *pgxpool.Pool) *PostgresStorage {
	return &PostgresStorage{db: pool}
}

func (ps *PostgresStorage) Ping(ctx context.Context) error {
	return ps.db.Ping(ctx)
}

func (ps *PostgresStorage) FindProductByURL(ctx context.Context, url string) (*model.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE url = $1`
	p, err := scanProduct(ps.db.QueryRow(ctx, query, url))
	if err != nil {
		return nil, fmt.Errorf("find product by url: %w", err)
	}
	return p, nil
}

func (ps *PostgresStorage) FindProductByCatalogID(ctx context.Context, catalogID string) (*model.Product, error) {
	query := `SELECT ` + productColumns + `
		FROM products
		WHERE catalog_id = $1 OR url LIKE ('%/' || $1 || '%')
		ORDER BY (catalog_id = $1) DESC NULLS LAST, id
		LIMIT 1`
	p, err := scanProduct(ps.db.QueryRow(ctx, query, catalogID))
	if err != nil {
		return nil, fmt.Errorf("find product by catalog id: %w", err)
	}
	return p, nil
}

func (ps *PostgresStorage) GetProduct(ctx context.Context, id int64) (*model.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`
	p, err := scanProduct(ps.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

func (ps *PostgresStorage) CreateProduct(ctx context.Context, p *model.Product) error {
	const query = `
		INSERT INTO products (catalog_id, url, title, current_price, reference_price, currency, availability)
		VALUES (NULLIF($1, ''), $2, $3, $4::numeric, $5::numeric, $6, $7)
		RETURNING id, created_at, updated_at`

	err := ps.db.QueryRow(ctx, query,
		p.CatalogID, p.URL, p.Title,
		decimalArg(p.CurrentPrice), decimalArg(p.ReferencePrice),
		p.Currency, string(p.Availability),
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert product: %w", mapError(err))
	}
	return nil
}

func (ps *PostgresStorage) UpdateProduct(ctx context.Context, p *model.Product) error {
	const query = `
		UPDATE products
		SET catalog_id = NULLIF($2, ''), url = $3, title = $4,
		    current_price = $5::numeric, reference_price = $6::numeric,
		    currency = $7, availability = $8, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`

	err := ps.db.QueryRow(ctx, query,
		p.ID, p.CatalogID, p.URL, p.Title,
		decimalArg(p.CurrentPrice), decimalArg(p.ReferencePrice),
		p.Currency, string(p.Availability),
	).Scan(&p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update product %d: %w", p.ID, mapError(err))
	}
	return nil
}

func (ps *PostgresStorage) ListMonitoredProducts(ctx context.Context) ([]model.MonitoredProduct, error) {
	const trackingQuery = `
		SELECT id, subscriber_id, product_id, active, created_at, updated_at
		FROM trackings
		WHERE active
		ORDER BY product_id, id`

	rows, err := ps.db.Query(ctx, trackingQuery)
	if err != nil {
		return nil, fmt.Errorf("query active trackings: %w", err)
	}
	byProduct := make(map[int64][]model.Tracking)
	for rows.Next() {
		var t model.Tracking
		if err := rows.Scan(&t.ID, &t.SubscriberID, &t.ProductID, &t.Active, &t.CreatedAt, &t.UpdatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan tracking: %w", err)
		}
		byProduct[t.ProductID] = append(byProduct[t.ProductID], t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tracking iteration failed: %w", err)
	}

	productQuery := `SELECT ` + productColumns + `
		FROM products p
		ORDER BY id`

	rows, err = ps.db.Query(ctx, productQuery)
	if err != nil {
		return nil, fmt.Errorf("query monitored products: %w", err)
	}
	defer rows.Close()

	var out []model.MonitoredProduct
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		// A tracking activated between the two queries waits for the next cycle.
		out = append(out, model.MonitoredProduct{Product: *p, Trackings: byProduct[p.ID]})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("product iteration failed: %w", err)
	}
	return out, nil
}

func (ps *PostgresStorage) AppendObservation(ctx context.Context, obs *model.PriceObservation) error {
	const query = `
		INSERT INTO price_observations (product_id, price, currency, observed_at)
		VALUES ($1, $2::numeric, $3, GREATEST($4::timestamptz, (
			SELECT max(observed_at) + interval '1 microsecond'
			FROM price_observations WHERE product_id = $1
		)))
		RETURNING id, observed_at`

	observedAt := obs.ObservedAt
	if observedAt.IsZero() {
		observedAt = time.Now()
	}
	err := ps.db.QueryRow(ctx, query,
		obs.ProductID, obs.Price.String(), obs.Currency, observedAt,
	).Scan(&obs.ID, &obs.ObservedAt)
	if err != nil {
		return fmt.Errorf("insert observation for product %d: %w", obs.ProductID, mapError(err))
	}
	return nil
}

func (ps *PostgresStorage) ListObservations(ctx context.Context, productID int64, limit int) ([]model.PriceObservation, error) {
	const query = `
		SELECT id, product_id, price::text, currency, observed_at
		FROM price_observations
		WHERE product_id = $1
		ORDER BY observed_at DESC
		LIMIT NULLIF($2, 0)`

	rows, err := ps.db.Query(ctx, query, productID, limit)
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}
	defer rows.Close()

	var out []model.PriceObservation
	for rows.Next() {
		var (
			o     model.PriceObservation
			price string
		)
		if err := rows.Scan(&o.ID, &o.ProductID, &price, &o.Currency, &o.ObservedAt); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		if o.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("parse observation price %q: %w", price, err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("observation iteration failed: %w", err)
	}
	return out, nil
}

func (ps *PostgresStorage) DeleteObservationsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := ps.db.Exec(ctx, `DELETE FROM price_observations WHERE observed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete observations before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

func (ps *PostgresStorage) UpsertSubscriber(ctx context.Context, s *model.Subscriber) error {
	const query = `
		INSERT INTO subscribers (id, display_name)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE
		SET display_name = CASE WHEN EXCLUDED.display_name = '' THEN subscribers.display_name ELSE EXCLUDED.display_name END,
		    updated_at = now()
		RETURNING display_name, created_at, updated_at`

	err := ps.db.QueryRow(ctx, query, s.ID, s.DisplayName).Scan(&s.DisplayName, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert subscriber %s: %w", s.ID, err)
	}
	return nil
}

func (ps *PostgresStorage) GetSubscriber(ctx context.Context, id string) (*model.Subscriber, error) {
	const query = `SELECT id, display_name, created_at, updated_at FROM subscribers WHERE id = $1`

	var s model.Subscriber
	err := ps.db.QueryRow(ctx, query, id).Scan(&s.ID, &s.DisplayName, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get subscriber %s: %w", id, mapError(err))
	}
	return &s, nil
}

func (ps *PostgresStorage) FindActiveTracking(ctx context.Context, subscriberID string, productID int64) (*model.Tracking, error) {
	const query = `
		SELECT id, subscriber_id, product_id, active, created_at, updated_at
		FROM trackings
		WHERE subscriber_id = $1 AND product_id = $2 AND active`

	var t model.Tracking
	err := ps.db.QueryRow(ctx, query, subscriberID, productID).
		Scan(&t.ID, &t.SubscriberID, &t.ProductID, &t.Active, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("find tracking: %w", mapError(err))
	}
	return &t, nil
}

func (ps *PostgresStorage) ActivateTracking(ctx context.Context, subscriberID string, productID int64) (*model.Tracking, error) {
	// The conditional update returns no row when the pair is already active.
	const query = `
		INSERT INTO trackings (subscriber_id, product_id, active)
		VALUES ($1, $2, TRUE)
		ON CONFLICT (subscriber_id, product_id) DO UPDATE
		SET active = TRUE, updated_at = now()
		WHERE NOT trackings.active
		RETURNING id, subscriber_id, product_id, active, created_at, updated_at`

	var t model.Tracking
	err := ps.db.QueryRow(ctx, query, subscriberID, productID).
		Scan(&t.ID, &t.SubscriberID, &t.ProductID, &t.Active, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("tracking %s/%d already active: %w", subscriberID, productID, appErr.ErrConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("activate tracking: %w", mapError(err))
	}
	return &t, nil
}

func (ps *PostgresStorage) DeactivateTracking(ctx context.Context, subscriberID string, productID int64) error {
	const query = `
		UPDATE trackings SET active = FALSE, updated_at = now()
		WHERE subscriber_id = $1 AND product_id = $2 AND active`

	tag, err := ps.db.Exec(ctx, query, subscriberID, productID)
	if err != nil {
		return fmt.Errorf("deactivate tracking: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("tracking %s/%d: %w", subscriberID, productID, appErr.ErrNotFound)
	}
	return nil
}

func (ps *PostgresStorage) CountActiveTrackings(ctx context.Context, productID int64) (int, error) {
	var n int
	err := ps.db.QueryRow(ctx,
		`SELECT count(*) FROM trackings WHERE product_id = $1 AND active`, productID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count trackings: %w", err)
	}
	return n, nil
}

func (ps *PostgresStorage) ListTrackedProducts(ctx context.Context, subscriberID string) ([]model.TrackedProduct, error) {
	const query = `
		SELECT p.id, p.title, p.url, p.current_price::text, p.currency, p.availability, t.created_at
		FROM trackings t
		JOIN products p ON p.id = t.product_id
		WHERE t.subscriber_id = $1 AND t.active
		ORDER BY t.created_at DESC`

	rows, err := ps.db.Query(ctx, query, subscriberID)
	if err != nil {
		return nil, fmt.Errorf("query tracked products: %w", err)
	}
	defer rows.Close()

	var out []model.TrackedProduct
	for rows.Next() {
		var (
			tp           model.TrackedProduct
			price        pgtype.Text
			availability string
		)
		if err := rows.Scan(&tp.ProductID, &tp.Title, &tp.URL, &price, &tp.Currency, &availability, &tp.TrackedSince); err != nil {
			return nil, fmt.Errorf("scan tracked product: %w", err)
		}
		if tp.CurrentPrice, err = nullDecimal(price); err != nil {
			return nil, err
		}
		tp.Availability = model.Availability(availability)
		out = append(out, tp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tracked product iteration failed: %w", err)
	}
	return out, nil
}

func (ps *PostgresStorage) Stats(ctx context.Context) (model.Stats, error) {
	const query = `
		SELECT
			(SELECT count(*) FROM products),
			(SELECT count(*) FROM subscribers),
			(SELECT count(*) FROM trackings WHERE active),
			(SELECT max(observed_at) FROM price_observations)`

	var (
		s    model.Stats
		last pgtype.Timestamptz
	)
	if err := ps.db.QueryRow(ctx, query).Scan(&s.TotalProducts, &s.Subscribers, &s.ActiveTrackings, &last); err != nil {
		return model.Stats{}, fmt.Errorf("stats: %w", err)
	}
	if last.Valid {
		t := last.Time
		s.LastObservation = &t
	}
	return s, nil
}

func scanProduct(row pgx.Row) (*model.Product, error) {
	var (
		p            model.Product
		current, ref pgtype.Text
		availability string
	)
	err := row.Scan(&p.ID, &p.CatalogID, &p.URL, &p.Title, &current, &ref,
		&p.Currency, &availability, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	if p.CurrentPrice, err = nullDecimal(current); err != nil {
		return nil, err
	}
	if p.ReferencePrice, err = nullDecimal(ref); err != nil {
		return nil, err
	}
	p.Availability = model.Availability(availability)
	return &p, nil
}

func nullDecimal(t pgtype.Text) (decimal.NullDecimal, error) {
	if !t.Valid {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(t.String)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("parse numeric %q: %w", t.String, err)
	}
	return decimal.NewNullDecimal(d), nil
}

// decimalArg passes numerics as text so no precision is lost in transit.
func decimalArg(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	return d.Decimal.String()
}

func mapError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %w", appErr.ErrNotFound, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", appErr.ErrConflict, pgErr.ConstraintName)
	}
	return err
}
