package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"pms/internal/domain/workflow"
)

// Source is the directory content to mirror into Postgres.
type Source interface {
	People() []workflow.Person
	Cycles() []workflow.Cycle
}

// Seed upserts people and inserts missing cycles. Managers are written before
// their reports so the manager_id reference always resolves.
func Seed(ctx context.Context, pool *pgxpool.Pool, src Source) error {
	for _, person := range managersFirst(src.People()) {
		if err := ensurePerson(ctx, pool, person); err != nil {
			return fmt.Errorf("seed person %s: %w", person.ID, err)
		}
	}
	for _, cycle := range src.Cycles() {
		if err := ensureCycle(ctx, pool, cycle); err != nil {
			return fmt.Errorf("seed cycle %s: %w", cycle.ID, err)
		}
	}
	return nil
}

func ensurePerson(ctx context.Context, pool *pgxpool.Pool, p workflow.Person) error {
	_, err := pool.Exec(ctx, `
    INSERT INTO employees (id, name, role, manager_id, department)
    VALUES ($1, $2, $3, NULLIF($4, ''), $5)
    ON CONFLICT (id) DO UPDATE
    SET name = EXCLUDED.name, role = EXCLUDED.role, manager_id = EXCLUDED.manager_id, department = EXCLUDED.department
  `, p.ID, p.Name, string(p.Role), p.ManagerID, p.Department)
	return err
}

func ensureCycle(ctx context.Context, pool *pgxpool.Pool, c workflow.Cycle) error {
	var start, end any
	if !c.PeriodStart.IsZero() {
		start = c.PeriodStart
	}
	if !c.PeriodEnd.IsZero() {
		end = c.PeriodEnd
	}
	_, err := pool.Exec(ctx, `
    INSERT INTO review_cycles (id, label, period_start, period_end, status)
    VALUES ($1, $2, $3, $4, $5)
    ON CONFLICT (id) DO NOTHING
  `, c.ID, c.Label, start, end, c.Status)
	return err
}

func managersFirst(people []workflow.Person) []workflow.Person {
	placed := map[string]bool{}
	out := make([]workflow.Person, 0, len(people))
	for len(out) < len(people) {
		progressed := false
		for _, p := range people {
			if placed[p.ID] || (p.ManagerID != "" && !placed[p.ManagerID]) {
				continue
			}
			placed[p.ID] = true
			out = append(out, p)
			progressed = true
		}
		if !progressed {
			for _, p := range people {
				if !placed[p.ID] {
					out = append(out, p)
				}
			}
			break
		}
	}
	return out
}
