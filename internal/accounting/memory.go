package accounting

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

type memoryState struct {
	accounts    map[int64]Account
	periods     map[int64]Period
	entries     map[int64]JournalEntry
	lines       []JournalLine
	nextAccount int64
	nextPeriod  int64
	nextEntry   int64
	nextLine    int64
	nextNumber  int64
}

func (s *memoryState) clone() *memoryState {
	out := *s
	out.accounts = make(map[int64]Account, len(s.accounts))
	for k, v := range s.accounts {
		out.accounts[k] = v
	}
	out.periods = make(map[int64]Period, len(s.periods))
	for k, v := range s.periods {
		out.periods[k] = v
	}
	out.entries = make(map[int64]JournalEntry, len(s.entries))
	for k, v := range s.entries {
		out.entries[k] = v
	}
	out.lines = append([]JournalLine(nil), s.lines...)
	return &out
}

// MemoryRepository is a RepositoryPort kept in process memory. Each WithTx call
// works on a copy of the state that replaces the original only when fn succeeds,
// so a failed posting leaves nothing behind.
type MemoryRepository struct {
	mu    sync.Mutex
	state *memoryState
	now   func() time.Time
}

// NewMemoryRepository returns an empty in-memory ledger store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		state: &memoryState{
			accounts: make(map[int64]Account),
			periods:  make(map[int64]Period),
			entries:  make(map[int64]JournalEntry),
		},
		now: time.Now,
	}
}

// WithTx runs fn against a private copy of the state and commits on success.
func (r *MemoryRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	working := r.state.clone()
	if err := fn(ctx, &memoryTx{state: working, now: r.now}); err != nil {
		return err
	}
	r.state = working
	return nil
}

type memoryTx struct {
	state *memoryState
	now   func() time.Time
}

func (t *memoryTx) InsertAccount(_ context.Context, a Account) (Account, error) {
	for _, existing := range t.state.accounts {
		if existing.Code == a.Code {
			return Account{}, ErrAccountCodeTaken
		}
	}
	t.state.nextAccount++
	a.ID = t.state.nextAccount
	a.CreatedAt = t.now()
	a.UpdatedAt = a.CreatedAt
	t.state.accounts[a.ID] = a
	return a, nil
}

func (t *memoryTx) UpdateAccount(_ context.Context, a Account) error {
	current, ok := t.state.accounts[a.ID]
	if !ok {
		return ErrAccountNotFound
	}
	current.Name = a.Name
	current.AcceptsMovements = a.AcceptsMovements
	current.IsActive = a.IsActive
	current.UpdatedAt = t.now()
	t.state.accounts[a.ID] = current
	return nil
}

func (t *memoryTx) GetAccount(_ context.Context, id int64) (Account, error) {
	a, ok := t.state.accounts[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return a, nil
}

func (t *memoryTx) GetAccountByCode(_ context.Context, code string) (Account, error) {
	for _, a := range t.state.accounts {
		if a.Code == code {
			return a, nil
		}
	}
	return Account{}, ErrAccountNotFound
}

func (t *memoryTx) GetAccountsByIDs(_ context.Context, ids []int64) (map[int64]Account, error) {
	out := make(map[int64]Account, len(ids))
	for _, id := range ids {
		if a, ok := t.state.accounts[id]; ok {
			out[id] = a
		}
	}
	return out, nil
}

func (t *memoryTx) ListAccounts(_ context.Context, includeInactive bool) ([]Account, error) {
	out := make([]Account, 0, len(t.state.accounts))
	for _, a := range t.state.accounts {
		if a.IsActive || includeInactive {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (t *memoryTx) AccountHasMovements(_ context.Context, id int64) (bool, error) {
	for _, l := range t.state.lines {
		if l.AccountID == id {
			return true, nil
		}
	}
	return false, nil
}

func (t *memoryTx) findPeriod(year int, month time.Month) (Period, bool) {
	for _, p := range t.state.periods {
		if p.Year == year && p.Month == month {
			return p, true
		}
	}
	return Period{}, false
}

func (t *memoryTx) EnsurePeriodForUpdate(_ context.Context, year int, month time.Month) (Period, error) {
	if p, ok := t.findPeriod(year, month); ok {
		return p, nil
	}
	t.state.nextPeriod++
	now := t.now()
	p := Period{ID: t.state.nextPeriod, Year: year, Month: month, CreatedAt: now, UpdatedAt: now}
	t.state.periods[p.ID] = p
	return p, nil
}

func (t *memoryTx) GetPeriodForUpdate(_ context.Context, year int, month time.Month) (Period, error) {
	if p, ok := t.findPeriod(year, month); ok {
		return p, nil
	}
	return Period{}, ErrPeriodNotFound
}

func (t *memoryTx) LatestClosedPeriod(_ context.Context) (Period, error) {
	var latest Period
	found := false
	for _, p := range t.state.periods {
		if !p.Closed {
			continue
		}
		if !found || p.After(latest) {
			latest = p
			found = true
		}
	}
	if !found {
		return Period{}, ErrPeriodNotFound
	}
	return latest, nil
}

func (t *memoryTx) UpdatePeriod(_ context.Context, p Period) error {
	if _, ok := t.state.periods[p.ID]; !ok {
		return ErrPeriodNotFound
	}
	t.state.periods[p.ID] = p
	return nil
}

func (t *memoryTx) ListPeriods(_ context.Context) ([]Period, error) {
	out := make([]Period, 0, len(t.state.periods))
	for _, p := range t.state.periods {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[j].After(out[i]) })
	return out, nil
}

func (t *memoryTx) InsertJournalEntry(_ context.Context, e JournalEntry) (JournalEntry, error) {
	t.state.nextEntry++
	t.state.nextNumber++
	e.ID = t.state.nextEntry
	e.Number = t.state.nextNumber
	e.CreatedAt = t.now()
	e.Lines = nil
	t.state.entries[e.ID] = e
	return e, nil
}

func (t *memoryTx) InsertJournalLines(_ context.Context, entryID int64, lines []LineInput) ([]JournalLine, error) {
	if _, ok := t.state.entries[entryID]; !ok {
		return nil, ErrJournalNotFound
	}
	out := make([]JournalLine, 0, len(lines))
	for _, in := range lines {
		t.state.nextLine++
		line := JournalLine{ID: t.state.nextLine, EntryID: entryID, AccountID: in.AccountID, Debit: in.Debit, Credit: in.Credit}
		t.state.lines = append(t.state.lines, line)
		out = append(out, line)
	}
	return out, nil
}

func (t *memoryTx) GetJournalWithLines(_ context.Context, entryID int64) (JournalEntry, error) {
	e, ok := t.state.entries[entryID]
	if !ok {
		return JournalEntry{}, ErrJournalNotFound
	}
	for _, l := range t.state.lines {
		if l.EntryID == entryID {
			e.Lines = append(e.Lines, l)
		}
	}
	return e, nil
}

func (t *memoryTx) SumMovements(_ context.Context, accountIDs []int64, rng DateRange) (Movement, error) {
	wanted := make(map[int64]struct{}, len(accountIDs))
	for _, id := range accountIDs {
		wanted[id] = struct{}{}
	}
	mv := Movement{Debit: decimal.Zero, Credit: decimal.Zero}
	for _, l := range t.state.lines {
		if _, ok := wanted[l.AccountID]; !ok {
			continue
		}
		if !rng.Contains(t.state.entries[l.EntryID].Date) {
			continue
		}
		mv.Debit = mv.Debit.Add(l.Debit)
		mv.Credit = mv.Credit.Add(l.Credit)
	}
	return mv, nil
}

func (t *memoryTx) SumMovementsByAccount(_ context.Context, rng DateRange) (map[int64]Movement, error) {
	out := make(map[int64]Movement)
	for _, l := range t.state.lines {
		if !rng.Contains(t.state.entries[l.EntryID].Date) {
			continue
		}
		mv, ok := out[l.AccountID]
		if !ok {
			mv = Movement{Debit: decimal.Zero, Credit: decimal.Zero}
		}
		mv.Debit = mv.Debit.Add(l.Debit)
		mv.Credit = mv.Credit.Add(l.Credit)
		out[l.AccountID] = mv
	}
	return out, nil
}

// EntryCount returns the number of persisted journal entries.
func (r *MemoryRepository) EntryCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.state.entries)
}
