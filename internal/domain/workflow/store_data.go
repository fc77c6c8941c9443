package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"pms/internal/domain/auth"
	"pms/internal/platform/querier"
)

// Store is the Postgres goal store. It also serves the employees table as a
// Directory.
type Store struct {
	DB *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{DB: db}
}

var (
	_ StoreAPI  = (*Store)(nil)
	_ Directory = (*Store)(nil)
)

const goalColumns = `id, cycle_id, title, description, timeline, chain, assigned_by_role, assigned_by_id,
  assignee_id, owner_id, progress, state, version, created_at, updated_at, accepted_at, submitted_at, approved_at`

const reviewColumns = `id, goal_id, cycle_id, employee_id, reviewer_id, rating, rating_label, comments,
  composite_score::text, status, created_at, updated_at`

const cycleColumns = `id, label, period_start, period_end, status, created_at`

func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx TxAPI) error) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &pgTx{q: tx}); err != nil {
		return retryable(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return retryable(fmt.Errorf("commit: %w", err))
	}
	return nil
}

// retryable reports deadlocks and serialization failures as conflicts the
// caller may retry.
func retryable(err error) error {
	if isPgCode(err, "40P01") || isPgCode(err, "40001") {
		return ConflictError("concurrent update, retry", err)
	}
	return err
}

func (s *Store) GetGoal(ctx context.Context, goalID string) (Goal, error) {
	return getGoal(ctx, s.DB, goalID)
}

func (s *Store) ListGoals(ctx context.Context, filter GoalFilter) ([]Goal, error) {
	query := "SELECT " + goalColumns + " FROM goals WHERE 1=1"
	args := []any{}
	if filter.OwnerID != "" {
		args = append(args, filter.OwnerID)
		query += fmt.Sprintf(" AND owner_id = $%d", len(args))
	}
	if filter.CycleID != "" {
		args = append(args, filter.CycleID)
		query += fmt.Sprintf(" AND cycle_id = $%d", len(args))
	}
	if len(filter.States) > 0 {
		states := make([]string, 0, len(filter.States))
		for _, st := range filter.States {
			states = append(states, string(st))
		}
		args = append(args, states)
		query += fmt.Sprintf(" AND state = ANY($%d)", len(args))
	}
	if filter.NonTerminal {
		args = append(args, []string{string(StateManagerApproved), string(StateHRApproved)})
		query += fmt.Sprintf(" AND NOT (state = ANY($%d))", len(args))
	}
	query += " ORDER BY created_at, id"

	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list goals: %w", err)
	}
	defer rows.Close()

	out := []Goal{}
	for rows.Next() {
		goal, err := scanGoal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, goal)
	}
	return out, rows.Err()
}

func (s *Store) ListReviews(ctx context.Context, filter ReviewFilter) ([]Review, error) {
	query := "SELECT " + reviewColumns + " FROM reviews WHERE 1=1"
	args := []any{}
	if filter.CycleID != "" {
		args = append(args, filter.CycleID)
		query += fmt.Sprintf(" AND cycle_id = $%d", len(args))
	}
	if filter.EmployeeID != "" {
		args = append(args, filter.EmployeeID)
		query += fmt.Sprintf(" AND employee_id = $%d", len(args))
	}
	if filter.ReviewerID != "" {
		args = append(args, filter.ReviewerID)
		query += fmt.Sprintf(" AND reviewer_id = $%d", len(args))
	}
	query += " ORDER BY created_at, id"

	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()

	out := []Review{}
	for rows.Next() {
		review, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, review)
	}
	return out, rows.Err()
}

func (s *Store) ListRollups(ctx context.Context, cycleID string) ([]Rollup, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT employee_id, cycle_id, goals_total, goals_completed, composite_score::text, updated_at
    FROM performance_rollups
    WHERE cycle_id = $1
    ORDER BY employee_id
  `, cycleID)
	if err != nil {
		return nil, fmt.Errorf("list rollups: %w", err)
	}
	defer rows.Close()

	out := []Rollup{}
	for rows.Next() {
		var r Rollup
		var score string
		if err := rows.Scan(&r.EmployeeID, &r.CycleID, &r.GoalsTotal, &r.GoalsCompleted, &score, &r.UpdatedAt); err != nil {
			return nil, err
		}
		if r.CompositeScore, err = decimal.NewFromString(score); err != nil {
			return nil, fmt.Errorf("rollup score: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) GetCycle(ctx context.Context, cycleID string) (Cycle, error) {
	row := s.DB.QueryRow(ctx, "SELECT "+cycleColumns+" FROM review_cycles WHERE id = $1", cycleID)
	cycle, err := scanCycle(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Cycle{}, NotFoundError("cycle", err)
	}
	return cycle, err
}

func (s *Store) ListCycles(ctx context.Context) ([]Cycle, error) {
	rows, err := s.DB.Query(ctx, "SELECT "+cycleColumns+" FROM review_cycles ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("list cycles: %w", err)
	}
	defer rows.Close()

	out := []Cycle{}
	for rows.Next() {
		cycle, err := scanCycle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cycle)
	}
	return out, rows.Err()
}

func (s *Store) CreateCycle(ctx context.Context, cycle Cycle) error {
	_, err := s.DB.Exec(ctx, `
    INSERT INTO review_cycles (id, label, period_start, period_end, status, created_at)
    VALUES ($1, $2, $3, $4, $5, $6)
  `, cycle.ID, cycle.Label, nullTime(cycle.PeriodStart), nullTime(cycle.PeriodEnd), cycle.Status, cycle.CreatedAt)
	if isPgCode(err, "23505") {
		return DuplicateError("cycle", err)
	}
	if err != nil {
		return fmt.Errorf("create cycle: %w", err)
	}
	return nil
}

func (s *Store) CloseCycle(ctx context.Context, cycleID string) (Cycle, error) {
	row := s.DB.QueryRow(ctx, `
    UPDATE review_cycles SET status = $2 WHERE id = $1
    RETURNING `+cycleColumns, cycleID, CycleStatusClosed)
	cycle, err := scanCycle(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Cycle{}, NotFoundError("cycle", err)
	}
	return cycle, err
}

func (s *Store) Person(ctx context.Context, id string) (Person, error) {
	var p Person
	var role string
	err := s.DB.QueryRow(ctx, `
    SELECT id, name, role, COALESCE(manager_id, ''), department
    FROM employees
    WHERE id = $1
  `, id).Scan(&p.ID, &p.Name, &role, &p.ManagerID, &p.Department)
	if errors.Is(err, pgx.ErrNoRows) {
		return Person{}, NotFoundError("person", err)
	}
	if err != nil {
		return Person{}, fmt.Errorf("lookup person: %w", err)
	}
	p.Role = auth.Role(role)
	return p, nil
}

type pgTx struct {
	q querier.Querier
}

func (t *pgTx) GetGoal(ctx context.Context, goalID string) (Goal, error) {
	return getGoal(ctx, t.q, goalID)
}

func (t *pgTx) InsertGoal(ctx context.Context, g Goal) error {
	_, err := t.q.Exec(ctx, `
    INSERT INTO goals (`+goalColumns+`)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
  `, g.ID, g.CycleID, g.Title, g.Description, string(g.Timeline), string(g.Chain), string(g.AssignedByRole), g.AssignedByID,
		g.AssigneeID, g.OwnerID, g.Progress, string(g.State), g.Version, g.CreatedAt, g.UpdatedAt, g.AcceptedAt, g.SubmittedAt, g.ApprovedAt)
	switch {
	case isPgCode(err, "23505"):
		return DuplicateError("goal", err)
	case isPgCode(err, "23503"):
		return NotFoundError("cycle", err)
	case err != nil:
		return fmt.Errorf("insert goal: %w", err)
	}
	return nil
}

func (t *pgTx) CompareAndSwapGoal(ctx context.Context, g Goal, expected State) error {
	tag, err := t.q.Exec(ctx, `
    UPDATE goals
    SET owner_id = $3, progress = $4, state = $5, description = $6, updated_at = $7,
        accepted_at = $8, submitted_at = $9, approved_at = $10, version = $11
    WHERE id = $1 AND state = $2 AND version = $12
  `, g.ID, string(expected), g.OwnerID, g.Progress, string(g.State), g.Description, g.UpdatedAt,
		g.AcceptedAt, g.SubmittedAt, g.ApprovedAt, g.Version, g.Version-1)
	if err != nil {
		return fmt.Errorf("update goal: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	current, err := getGoal(ctx, t.q, g.ID)
	if err != nil {
		return err
	}
	return casMiss(current, expected)
}

func casMiss(current Goal, expected State) error {
	if current.State != expected {
		return ConflictError("goal state changed to "+string(current.State), nil)
	}
	return ConflictError("goal was modified concurrently", nil)
}

func (t *pgTx) ReviewByGoal(ctx context.Context, goalID string) (Review, error) {
	row := t.q.QueryRow(ctx, "SELECT "+reviewColumns+" FROM reviews WHERE goal_id = $1", goalID)
	review, err := scanReview(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Review{}, NotFoundError("review", err)
	}
	return review, err
}

func (t *pgTx) SaveReview(ctx context.Context, r Review) error {
	_, err := t.q.Exec(ctx, `
    INSERT INTO reviews (id, goal_id, cycle_id, employee_id, reviewer_id, rating, rating_label, comments,
                         composite_score, status, created_at, updated_at)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::numeric, $10, $11, $12)
    ON CONFLICT (goal_id) DO UPDATE
    SET reviewer_id = EXCLUDED.reviewer_id, rating = EXCLUDED.rating, rating_label = EXCLUDED.rating_label,
        comments = EXCLUDED.comments, status = EXCLUDED.status, updated_at = EXCLUDED.updated_at
  `, r.ID, r.GoalID, r.CycleID, r.EmployeeID, r.ReviewerID, r.Rating, r.RatingLabel, r.Comments,
		r.CompositeScore.String(), r.Status, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save review: %w", err)
	}
	return nil
}

func (t *pgTx) LockRollup(ctx context.Context, employeeID, cycleID string) error {
	_, err := t.q.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1), hashtext($2))", employeeID, cycleID)
	return err
}

func (t *pgTx) ApprovedRatings(ctx context.Context, employeeID, cycleID string) ([]int, error) {
	rows, err := t.q.Query(ctx, "SELECT rating FROM reviews WHERE employee_id = $1 AND cycle_id = $2", employeeID, cycleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ratings []int
	for rows.Next() {
		var rating int
		if err := rows.Scan(&rating); err != nil {
			return nil, err
		}
		ratings = append(ratings, rating)
	}
	return ratings, rows.Err()
}

func (t *pgTx) SetCompositeScore(ctx context.Context, employeeID, cycleID string, score decimal.Decimal) error {
	_, err := t.q.Exec(ctx, `
    UPDATE reviews SET composite_score = $3::numeric
    WHERE employee_id = $1 AND cycle_id = $2
  `, employeeID, cycleID, score.String())
	return err
}

func (t *pgTx) CountGoals(ctx context.Context, employeeID, cycleID string) (int, int, error) {
	var total, completed int
	err := t.q.QueryRow(ctx, `
    SELECT COUNT(1), COUNT(1) FILTER (WHERE state IN ($3, $4))
    FROM goals
    WHERE owner_id = $1 AND cycle_id = $2 AND state <> $5
  `, employeeID, cycleID, string(StateManagerApproved), string(StateHRApproved), string(StateDraft)).Scan(&total, &completed)
	return total, completed, err
}

func (t *pgTx) SaveRollup(ctx context.Context, r Rollup) error {
	_, err := t.q.Exec(ctx, `
    INSERT INTO performance_rollups (employee_id, cycle_id, goals_total, goals_completed, composite_score, updated_at)
    VALUES ($1, $2, $3, $4, $5::numeric, $6)
    ON CONFLICT (employee_id, cycle_id) DO UPDATE
    SET goals_total = EXCLUDED.goals_total, goals_completed = EXCLUDED.goals_completed,
        composite_score = EXCLUDED.composite_score, updated_at = EXCLUDED.updated_at
  `, r.EmployeeID, r.CycleID, r.GoalsTotal, r.GoalsCompleted, r.CompositeScore.String(), r.UpdatedAt)
	return err
}

func getGoal(ctx context.Context, q querier.Querier, goalID string) (Goal, error) {
	goal, err := scanGoal(q.QueryRow(ctx, "SELECT "+goalColumns+" FROM goals WHERE id = $1", goalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Goal{}, NotFoundError("goal", err)
	}
	return goal, err
}

func scanGoal(row pgx.Row) (Goal, error) {
	var g Goal
	var timeline, chain, role, state string
	err := row.Scan(&g.ID, &g.CycleID, &g.Title, &g.Description, &timeline, &chain, &role, &g.AssignedByID,
		&g.AssigneeID, &g.OwnerID, &g.Progress, &state, &g.Version, &g.CreatedAt, &g.UpdatedAt, &g.AcceptedAt, &g.SubmittedAt, &g.ApprovedAt)
	if err != nil {
		return Goal{}, err
	}
	if g.Timeline, err = ParseTimeline(timeline); err != nil {
		return Goal{}, err
	}
	if g.Chain, err = ParseChain(chain); err != nil {
		return Goal{}, err
	}
	if g.State, err = ParseState(state); err != nil {
		return Goal{}, err
	}
	g.AssignedByRole = auth.Role(role)
	return g, nil
}

func scanReview(row pgx.Row) (Review, error) {
	var r Review
	var score string
	err := row.Scan(&r.ID, &r.GoalID, &r.CycleID, &r.EmployeeID, &r.ReviewerID, &r.Rating, &r.RatingLabel, &r.Comments,
		&score, &r.Status, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return Review{}, err
	}
	if r.CompositeScore, err = decimal.NewFromString(score); err != nil {
		return Review{}, fmt.Errorf("review score: %w", err)
	}
	return r, nil
}

func scanCycle(row pgx.Row) (Cycle, error) {
	var c Cycle
	var start, end *time.Time
	if err := row.Scan(&c.ID, &c.Label, &start, &end, &c.Status, &c.CreatedAt); err != nil {
		return Cycle{}, err
	}
	if start != nil {
		c.PeriodStart = *start
	}
	if end != nil {
		c.PeriodEnd = *end
	}
	return c, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func isPgCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
