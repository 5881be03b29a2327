package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/oddsmill/bet-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// Settlement batches run in a single transaction with a version-guarded
// market update for optimistic concurrency.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const marketColumns = `id, question, status, pool_initialized,
	yes_reserve::TEXT, no_reserve::TEXT, invariant_k::TEXT,
	initial_size::TEXT, yes_price::TEXT, no_price::TEXT,
	total_volume::TEXT, version, created_at`

func (s *PostgresStore) CreateMarket(ctx context.Context, m *model.Market) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO markets (id, question, status, pool_initialized,
		     yes_reserve, no_reserve, invariant_k, initial_size,
		     yes_price, no_price, total_volume, version, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC,
		     $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11::NUMERIC, $12, $13)`,
		m.ID, m.Question, m.Status, m.PoolInitialized,
		m.Pool.YesReserve.String(), m.Pool.NoReserve.String(), m.Pool.InvariantK.String(),
		m.InitialSize.String(), m.YesPrice.String(), m.NoPrice.String(),
		m.TotalVolume.String(), m.Version, m.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", id, err)
	}
	return m, nil
}

func (s *PostgresStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketColumns+` FROM markets ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []model.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, *m)
	}
	return markets, rows.Err()
}

// CommitSettlement applies all six effects in one transaction. The market
// update is guarded by the expected version: zero affected rows means the
// snapshot went stale, and the whole batch rolls back with ErrConflict.
func (s *PostgresStore) CommitSettlement(ctx context.Context, b *SettlementBatch) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin settlement: %w", err)
	}
	defer tx.Rollback(ctx)

	ct, err := tx.Exec(ctx,
		`UPDATE markets
		 SET yes_reserve = $3::NUMERIC, no_reserve = $4::NUMERIC,
		     yes_price = $5::NUMERIC, no_price = $6::NUMERIC,
		     total_volume = $7::NUMERIC, version = version + 1
		 WHERE id = $1 AND version = $2`,
		b.MarketID, b.ExpectedVersion,
		b.Pool.YesReserve.String(), b.Pool.NoReserve.String(),
		b.YesPrice.String(), b.NoPrice.String(), b.TotalVolume.String(),
	)
	if err != nil {
		return fmt.Errorf("update market: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrConflict
	}

	ct, err = tx.Exec(ctx,
		`UPDATE balances SET balance = balance - $2::NUMERIC
		 WHERE user_id = $1 AND balance >= $2::NUMERIC`,
		b.DebitUserID, b.DebitAmount.String(),
	)
	if err != nil {
		return fmt.Errorf("debit balance: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrInsufficientFunds
	}

	bet := b.Bet
	_, err = tx.Exec(ctx,
		`INSERT INTO bets (id, request_id, user_id, market_id, outcome,
		     amount, fee, net_amount, tokens, effective_price, slippage,
		     yes_before, no_before, yes_after, no_after, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC,
		     $9::NUMERIC, $10::NUMERIC, $11::NUMERIC, $12::NUMERIC,
		     $13::NUMERIC, $14::NUMERIC, $15::NUMERIC, $16)`,
		bet.ID, bet.RequestID, bet.UserID, bet.MarketID, bet.Outcome,
		bet.Amount.String(), bet.Fee.String(), bet.NetAmount.String(),
		bet.Tokens.String(), bet.EffectivePrice.String(), bet.Slippage.String(),
		bet.PoolBefore.YesReserve.String(), bet.PoolBefore.NoReserve.String(),
		bet.PoolAfter.YesReserve.String(), bet.PoolAfter.NoReserve.String(),
		bet.CreatedAt,
	)
	if err != nil {
		// A unique violation on request_id means an earlier attempt for
		// this request already committed.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateRequest
		}
		return fmt.Errorf("insert bet: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO positions (user_id, market_id, outcome, shares, total_invested, avg_price, updated_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $5::NUMERIC / NULLIF($4::NUMERIC, 0), $6)
		 ON CONFLICT (user_id, market_id, outcome) DO UPDATE
		 SET shares = positions.shares + EXCLUDED.shares,
		     total_invested = positions.total_invested + EXCLUDED.total_invested,
		     avg_price = (positions.total_invested + EXCLUDED.total_invested)
		                 / NULLIF(positions.shares + EXCLUDED.shares, 0),
		     updated_at = EXCLUDED.updated_at`,
		b.Position.UserID, b.Position.MarketID, b.Position.Outcome,
		b.Position.Shares.String(), b.Position.Invested.String(),
		bet.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert position: %w", err)
	}

	le := b.Ledger
	_, err = tx.Exec(ctx,
		`INSERT INTO ledger_entries (id, user_id, market_id, bet_id, type, amount, balance_after, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8)`,
		le.ID, le.UserID, le.MarketID, le.BetID, le.Type,
		le.Amount.String(), le.BalanceAfter.String(), le.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}

	pp := b.PricePoint
	_, err = tx.Exec(ctx,
		`INSERT INTO price_history (id, market_id, bet_id, yes_price, no_price,
		     yes_reserve, no_reserve, volume, timestamp)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC,
		     $7::NUMERIC, $8::NUMERIC, $9)`,
		pp.ID, pp.MarketID, pp.BetID, pp.YesPrice.String(), pp.NoPrice.String(),
		pp.YesReserve.String(), pp.NoReserve.String(), pp.Volume.String(),
		pp.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert price point: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit settlement: %w", err)
	}
	return nil
}

const betColumns = `id, request_id, user_id, market_id, outcome,
	amount::TEXT, fee::TEXT, net_amount::TEXT, tokens::TEXT,
	effective_price::TEXT, slippage::TEXT,
	yes_before::TEXT, no_before::TEXT, yes_after::TEXT, no_after::TEXT,
	created_at`

func (s *PostgresStore) GetBetByRequestID(ctx context.Context, requestID string) (*model.BetRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+betColumns+` FROM bets WHERE request_id = $1`, requestID)
	bet, err := scanBet(row)
	if err != nil {
		return nil, fmt.Errorf("get bet by request %s: %w", requestID, mapNoRows(err))
	}
	return bet, nil
}

func (s *PostgresStore) GetBetsByMarket(ctx context.Context, marketID string) ([]model.BetRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+betColumns+` FROM bets WHERE market_id = $1 ORDER BY created_at`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bets []model.BetRecord
	for rows.Next() {
		bet, err := scanBet(rows)
		if err != nil {
			return nil, err
		}
		bets = append(bets, *bet)
	}
	return bets, rows.Err()
}

func (s *PostgresStore) GetPriceHistory(ctx context.Context, marketID string) ([]model.PriceHistoryPoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, market_id, bet_id, yes_price::TEXT, no_price::TEXT,
		        yes_reserve::TEXT, no_reserve::TEXT, volume::TEXT, timestamp
		 FROM price_history WHERE market_id = $1 ORDER BY timestamp`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []model.PriceHistoryPoint
	for rows.Next() {
		var p model.PriceHistoryPoint
		var yesPrice, noPrice, yesRes, noRes, volume string
		if err := rows.Scan(&p.ID, &p.MarketID, &p.BetID, &yesPrice, &noPrice,
			&yesRes, &noRes, &volume, &p.Timestamp); err != nil {
			return nil, err
		}
		p.YesPrice, _ = decimal.NewFromString(yesPrice)
		p.NoPrice, _ = decimal.NewFromString(noPrice)
		p.YesReserve, _ = decimal.NewFromString(yesRes)
		p.NoReserve, _ = decimal.NewFromString(noRes)
		p.Volume, _ = decimal.NewFromString(volume)
		points = append(points, p)
	}
	return points, rows.Err()
}

func (s *PostgresStore) GetUserPositions(ctx context.Context, userID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT p.user_id, p.market_id, p.outcome,
		        p.shares::TEXT, p.total_invested::TEXT, p.avg_price::TEXT,
		        CASE WHEN p.outcome = 'yes' THEN m.yes_price ELSE m.no_price END::TEXT AS mark_price,
		        p.updated_at
		 FROM positions p
		 JOIN markets m ON m.id = p.market_id
		 WHERE p.user_id = $1
		 ORDER BY p.updated_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		var p model.Position
		var shares, invested, avg, mark string
		if err := rows.Scan(&p.UserID, &p.MarketID, &p.Outcome,
			&shares, &invested, &avg, &mark, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.Shares, _ = decimal.NewFromString(shares)
		p.TotalInvested, _ = decimal.NewFromString(invested)
		p.AvgPrice, _ = decimal.NewFromString(avg)
		markPrice, _ := decimal.NewFromString(mark)
		p.CurrentValue = p.Shares.Mul(markPrice)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) GetBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	var balance string
	err := s.pool.QueryRow(ctx,
		`SELECT balance::TEXT FROM balances WHERE user_id = $1`, userID).Scan(&balance)
	if err != nil {
		return decimal.Decimal{}, mapNoRows(err)
	}
	b, _ := decimal.NewFromString(balance)
	return b, nil
}

func (s *PostgresStore) CreditBalance(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	var balance string
	err := s.pool.QueryRow(ctx,
		`INSERT INTO balances (user_id, balance) VALUES ($1, $2::NUMERIC)
		 ON CONFLICT (user_id) DO UPDATE SET balance = balances.balance + EXCLUDED.balance
		 RETURNING balance::TEXT`,
		userID, amount.String()).Scan(&balance)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("credit balance %s: %w", userID, err)
	}
	b, _ := decimal.NewFromString(balance)
	return b, nil
}

func (s *PostgresStore) GetLedgerByUser(ctx context.Context, userID string) ([]model.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, COALESCE(market_id, ''), COALESCE(bet_id, ''), type,
		        amount::TEXT, balance_after::TEXT, timestamp
		 FROM ledger_entries WHERE user_id = $1 ORDER BY timestamp`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		var amount, after string
		if err := rows.Scan(&e.ID, &e.UserID, &e.MarketID, &e.BetID, &e.Type,
			&amount, &after, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Amount, _ = decimal.NewFromString(amount)
		e.BalanceAfter, _ = decimal.NewFromString(after)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- scan helpers ---

type pgxRow interface {
	Scan(dest ...interface{}) error
}

func scanMarket(row pgxRow) (*model.Market, error) {
	var m model.Market
	var yesRes, noRes, k, initial, yesPrice, noPrice, volume string

	err := row.Scan(&m.ID, &m.Question, &m.Status, &m.PoolInitialized,
		&yesRes, &noRes, &k, &initial, &yesPrice, &noPrice, &volume,
		&m.Version, &m.CreatedAt)
	if err != nil {
		return nil, mapNoRows(err)
	}

	m.Pool.YesReserve, _ = decimal.NewFromString(yesRes)
	m.Pool.NoReserve, _ = decimal.NewFromString(noRes)
	m.Pool.InvariantK, _ = decimal.NewFromString(k)
	m.InitialSize, _ = decimal.NewFromString(initial)
	m.YesPrice, _ = decimal.NewFromString(yesPrice)
	m.NoPrice, _ = decimal.NewFromString(noPrice)
	m.TotalVolume, _ = decimal.NewFromString(volume)
	return &m, nil
}

func scanBet(row pgxRow) (*model.BetRecord, error) {
	var b model.BetRecord
	var amount, fee, net, tokens, effPrice, slippage string
	var yesBefore, noBefore, yesAfter, noAfter string

	err := row.Scan(&b.ID, &b.RequestID, &b.UserID, &b.MarketID, &b.Outcome,
		&amount, &fee, &net, &tokens, &effPrice, &slippage,
		&yesBefore, &noBefore, &yesAfter, &noAfter, &b.CreatedAt)
	if err != nil {
		return nil, err
	}

	b.Amount, _ = decimal.NewFromString(amount)
	b.Fee, _ = decimal.NewFromString(fee)
	b.NetAmount, _ = decimal.NewFromString(net)
	b.Tokens, _ = decimal.NewFromString(tokens)
	b.EffectivePrice, _ = decimal.NewFromString(effPrice)
	b.Slippage, _ = decimal.NewFromString(slippage)
	b.PoolBefore.YesReserve, _ = decimal.NewFromString(yesBefore)
	b.PoolBefore.NoReserve, _ = decimal.NewFromString(noBefore)
	b.PoolAfter.YesReserve, _ = decimal.NewFromString(yesAfter)
	b.PoolAfter.NoReserve, _ = decimal.NewFromString(noAfter)
	return &b, nil
}

func mapNoRows(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
