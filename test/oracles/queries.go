// Package oracles holds SQL invariants over the escrow schema. Each query
// returns rows only when its invariant is broken.
package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_single_accepted_proposal",
			SQL: `SELECT job_id, COUNT(*) FROM proposals
                  WHERE status = 'accepted'
                  GROUP BY job_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_terminal_jobs_hold_nothing",
			SQL: `SELECT id, status, escrowed FROM jobs
                  WHERE status IN ('completed','cancelled') AND escrowed <> 0`,
		},
		{
			Name: "O3_custody_matches_holdings",
			SQL: `SELECT held.expected, custody.actual FROM
                    (SELECT COALESCE((SELECT SUM(escrowed) FROM jobs), 0)
                          + COALESCE((SELECT SUM(balance) FROM escrow_accounts
                                      WHERE status IN ('active','disputed')), 0) AS expected) held,
                    (SELECT COALESCE((SELECT balance FROM ledger_accounts WHERE holder = 'custody'), 0) AS actual) custody
                  WHERE held.expected <> custody.actual`,
		},
		{
			Name: "O4_transfers_balance",
			SQL: `SELECT transfer_id, SUM(amount) FROM ledger_entries
                  GROUP BY transfer_id
                  HAVING COUNT(*) > 1 AND SUM(amount) <> 0`,
		},
		{
			Name: "O5_account_matches_entries",
			SQL: `SELECT a.holder, a.balance, COALESCE(SUM(e.amount), 0) FROM ledger_accounts a
                  LEFT JOIN ledger_entries e ON e.holder = a.holder
                  GROUP BY a.holder, a.balance
                  HAVING a.balance <> COALESCE(SUM(e.amount), 0)`,
		},
		{
			Name: "O6_accepted_matches_hire",
			SQL: `SELECT p.id, p.job_id, p.freelancer, j.freelancer FROM proposals p
                  JOIN jobs j ON j.id = p.job_id
                  WHERE p.status = 'accepted' AND j.freelancer IS DISTINCT FROM p.freelancer`,
		},
		{
			Name: "O7_submissions_by_hired_freelancer",
			SQL: `SELECT s.id, s.job_id, s.freelancer, j.freelancer FROM submissions s
                  JOIN jobs j ON j.id = s.job_id
                  WHERE j.freelancer IS DISTINCT FROM s.freelancer`,
		},
		{
			Name: "O8_approved_submission_completes_job",
			SQL: `SELECT s.id, s.job_id, j.status FROM submissions s
                  JOIN jobs j ON j.id = s.job_id
                  WHERE s.status = 'approved' AND j.status <> 'completed'`,
		},
		{
			Name: "O9_single_approval_per_job",
			SQL: `SELECT job_id, COUNT(*) FROM submissions
                  WHERE status = 'approved'
                  GROUP BY job_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O10_open_dispute_matches_job",
			SQL: `SELECT d.id, d.subject_id, j.status FROM disputes d
                  JOIN jobs j ON j.id = d.subject_id
                  WHERE d.subject = 'job' AND d.status = 'under_review' AND j.status <> 'disputed'`,
		},
	}
}

// Run executes every oracle and returns the first failure (name and sample
// row) or an empty name when all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		if rows.Next() {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
	}
	return "", "", nil
}
