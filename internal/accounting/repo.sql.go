package accounting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/fleet-ledger/internal/platform/db"
)

// TxRepository exposes transactional operations.
type TxRepository interface {
	InsertAccount(ctx context.Context, account Account) (Account, error)
	UpdateAccount(ctx context.Context, account Account) error
	GetAccount(ctx context.Context, id int64) (Account, error)
	GetAccountByCode(ctx context.Context, code string) (Account, error)
	GetAccountsByIDs(ctx context.Context, ids []int64) (map[int64]Account, error)
	ListAccounts(ctx context.Context, includeInactive bool) ([]Account, error)
	AccountHasMovements(ctx context.Context, id int64) (bool, error)

	EnsurePeriodForUpdate(ctx context.Context, year int, month time.Month) (Period, error)
	GetPeriodForUpdate(ctx context.Context, year int, month time.Month) (Period, error)
	LatestClosedPeriod(ctx context.Context) (Period, error)
	UpdatePeriod(ctx context.Context, period Period) error
	ListPeriods(ctx context.Context) ([]Period, error)

	InsertJournalEntry(ctx context.Context, entry JournalEntry) (JournalEntry, error)
	InsertJournalLines(ctx context.Context, entryID int64, lines []LineInput) ([]JournalLine, error)
	GetJournalWithLines(ctx context.Context, entryID int64) (JournalEntry, error)
	SumMovements(ctx context.Context, accountIDs []int64, rng DateRange) (Movement, error)
	SumMovementsByAccount(ctx context.Context, rng DateRange) (map[int64]Movement, error)
}

// Repository persists accounting entities in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes fn within repeatable-read transaction. Serialization
// conflicts between concurrent postings rerun fn.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("accounting repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const accountColumns = `id, code, name, type, level, parent_id, accepts_movements, is_active, created_at, updated_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Code, &a.Name, &a.Type, &a.Level, &a.ParentID, &a.AcceptsMovements, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func (r *txRepository) InsertAccount(ctx context.Context, a Account) (Account, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO accounts (code, name, type, level, parent_id, accepts_movements, is_active)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING `+accountColumns, a.Code, a.Name, a.Type, a.Level, a.ParentID, a.AcceptsMovements, a.IsActive)
	inserted, err := scanAccount(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.ConstraintName == "uq_accounts_code" {
			return Account{}, fmt.Errorf("%w: %s", ErrAccountCodeTaken, a.Code)
		}
		return Account{}, err
	}
	return inserted, nil
}

func (r *txRepository) UpdateAccount(ctx context.Context, a Account) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE accounts SET name=$2, accepts_movements=$3, is_active=$4, updated_at=NOW() WHERE id=$1`,
		a.ID, a.Name, a.AcceptsMovements, a.IsActive)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *txRepository) GetAccount(ctx context.Context, id int64) (Account, error) {
	a, err := scanAccount(r.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrAccountNotFound
	}
	return a, err
}

func (r *txRepository) GetAccountByCode(ctx context.Context, code string) (Account, error) {
	a, err := scanAccount(r.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE code=$1`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrAccountNotFound
	}
	return a, err
}

func (r *txRepository) GetAccountsByIDs(ctx context.Context, ids []int64) (map[int64]Account, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ANY($1) FOR SHARE`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]Account, len(ids))
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out[a.ID] = a
	}
	return out, rows.Err()
}

func (r *txRepository) ListAccounts(ctx context.Context, includeInactive bool) ([]Account, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE is_active OR $1 ORDER BY code`, includeInactive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (r *txRepository) AccountHasMovements(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM journal_lines WHERE account_id=$1)`, id).Scan(&exists)
	return exists, err
}

const periodColumns = `id, year, month, closed, closed_at, closed_by, created_at, updated_at`

func scanPeriod(row pgx.Row) (Period, error) {
	var p Period
	var month int
	err := row.Scan(&p.ID, &p.Year, &month, &p.Closed, &p.ClosedAt, &p.ClosedBy, &p.CreatedAt, &p.UpdatedAt)
	p.Month = time.Month(month)
	return p, err
}

func (r *txRepository) EnsurePeriodForUpdate(ctx context.Context, year int, month time.Month) (Period, error) {
	if _, err := r.tx.Exec(ctx, `INSERT INTO accounting_periods (year, month) VALUES ($1,$2) ON CONFLICT (year, month) DO NOTHING`, year, int(month)); err != nil {
		return Period{}, err
	}
	return r.GetPeriodForUpdate(ctx, year, month)
}

func (r *txRepository) GetPeriodForUpdate(ctx context.Context, year int, month time.Month) (Period, error) {
	p, err := scanPeriod(r.tx.QueryRow(ctx, `SELECT `+periodColumns+` FROM accounting_periods WHERE year=$1 AND month=$2 FOR UPDATE`, year, int(month)))
	if errors.Is(err, pgx.ErrNoRows) {
		return Period{}, ErrPeriodNotFound
	}
	return p, err
}

func (r *txRepository) LatestClosedPeriod(ctx context.Context) (Period, error) {
	p, err := scanPeriod(r.tx.QueryRow(ctx, `SELECT `+periodColumns+` FROM accounting_periods WHERE closed ORDER BY year DESC, month DESC LIMIT 1 FOR UPDATE`))
	if errors.Is(err, pgx.ErrNoRows) {
		return Period{}, ErrPeriodNotFound
	}
	return p, err
}

func (r *txRepository) UpdatePeriod(ctx context.Context, p Period) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE accounting_periods SET closed=$2, closed_at=$3, closed_by=$4, updated_at=NOW() WHERE id=$1`,
		p.ID, p.Closed, p.ClosedAt, p.ClosedBy)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrPeriodNotFound
	}
	return nil
}

func (r *txRepository) ListPeriods(ctx context.Context) ([]Period, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+periodColumns+` FROM accounting_periods ORDER BY year, month`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var periods []Period
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		periods = append(periods, p)
	}
	return periods, rows.Err()
}

func (r *txRepository) InsertJournalEntry(ctx context.Context, e JournalEntry) (JournalEntry, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO journal_entries (date, type, description, period_id)
VALUES ($1,$2,$3,$4) RETURNING id, number, created_at`, e.Date, e.Type, e.Description, e.PeriodID)
	if err := row.Scan(&e.ID, &e.Number, &e.CreatedAt); err != nil {
		return JournalEntry{}, err
	}
	return e, nil
}

func (r *txRepository) InsertJournalLines(ctx context.Context, entryID int64, lines []LineInput) ([]JournalLine, error) {
	out := make([]JournalLine, 0, len(lines))
	for _, line := range lines {
		var id int64
		err := r.tx.QueryRow(ctx, `INSERT INTO journal_lines (entry_id, account_id, debit, credit)
VALUES ($1,$2,$3::numeric,$4::numeric) RETURNING id`, entryID, line.AccountID, toNumeric(line.Debit), toNumeric(line.Credit)).Scan(&id)
		if err != nil {
			return nil, err
		}
		out = append(out, JournalLine{ID: id, EntryID: entryID, AccountID: line.AccountID, Debit: line.Debit, Credit: line.Credit})
	}
	return out, nil
}

func (r *txRepository) GetJournalWithLines(ctx context.Context, entryID int64) (JournalEntry, error) {
	var entry JournalEntry
	err := r.tx.QueryRow(ctx, `SELECT id, number, date, type, description, period_id, created_at FROM journal_entries WHERE id=$1`, entryID).
		Scan(&entry.ID, &entry.Number, &entry.Date, &entry.Type, &entry.Description, &entry.PeriodID, &entry.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, ErrJournalNotFound
		}
		return JournalEntry{}, err
	}
	rows, err := r.tx.Query(ctx, `SELECT id, entry_id, account_id, debit::text, credit::text FROM journal_lines WHERE entry_id=$1 ORDER BY id ASC`, entryID)
	if err != nil {
		return JournalEntry{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var line JournalLine
		var debit, credit string
		if err := rows.Scan(&line.ID, &line.EntryID, &line.AccountID, &debit, &credit); err != nil {
			return JournalEntry{}, err
		}
		if line.Debit, err = decimal.NewFromString(debit); err != nil {
			return JournalEntry{}, err
		}
		if line.Credit, err = decimal.NewFromString(credit); err != nil {
			return JournalEntry{}, err
		}
		entry.Lines = append(entry.Lines, line)
	}
	return entry, rows.Err()
}

func (r *txRepository) SumMovements(ctx context.Context, accountIDs []int64, rng DateRange) (Movement, error) {
	var debit, credit string
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(SUM(l.debit),0)::text, COALESCE(SUM(l.credit),0)::text
FROM journal_lines l JOIN journal_entries e ON e.id = l.entry_id
WHERE l.account_id = ANY($1) AND ($2::date IS NULL OR e.date >= $2) AND ($3::date IS NULL OR e.date <= $3)`,
		accountIDs, nullDate(rng.From), nullDate(rng.To)).Scan(&debit, &credit)
	if err != nil {
		return Movement{}, err
	}
	return parseMovement(debit, credit)
}

func (r *txRepository) SumMovementsByAccount(ctx context.Context, rng DateRange) (map[int64]Movement, error) {
	rows, err := r.tx.Query(ctx, `SELECT l.account_id, SUM(l.debit)::text, SUM(l.credit)::text
FROM journal_lines l JOIN journal_entries e ON e.id = l.entry_id
WHERE ($1::date IS NULL OR e.date >= $1) AND ($2::date IS NULL OR e.date <= $2)
GROUP BY l.account_id`, nullDate(rng.From), nullDate(rng.To))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]Movement)
	for rows.Next() {
		var id int64
		var debit, credit string
		if err := rows.Scan(&id, &debit, &credit); err != nil {
			return nil, err
		}
		mv, err := parseMovement(debit, credit)
		if err != nil {
			return nil, err
		}
		out[id] = mv
	}
	return out, rows.Err()
}

func parseMovement(debit, credit string) (Movement, error) {
	d, err := decimal.NewFromString(debit)
	if err != nil {
		return Movement{}, err
	}
	c, err := decimal.NewFromString(credit)
	if err != nil {
		return Movement{}, err
	}
	return Movement{Debit: d, Credit: c}, nil
}

func nullDate(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return DateOnly(t)
}

func toNumeric(v decimal.Decimal) string {
	return v.String()
}
