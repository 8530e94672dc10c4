package pipeline

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/toncenter/ton-indexer/ton-event-classifier/interfaces"
	"github.com/toncenter/ton-indexer/ton-event-classifier/models"
)

const leaseTimeout = 5 * time.Minute

// Store wraps every query the pipeline issues against the durable store. The
// trace/transaction/message tables are read-only here; the backlog, the
// quarantine log and the action tables are read-write.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	return s.pool.Begin(ctx)
}

// ClaimTasks atomically leases up to limit backlog rows. Expired leases are
// reclaimed; the skip-locked select keeps concurrent claimers from ever
// double-claiming a row.
func (s *Store) ClaimTasks(ctx context.Context, limit int) ([]models.ClassifierTask, error) {
	query := fmt.Sprintf(`
		WITH A AS (
			SELECT id
			FROM _classifier_tasks
			WHERE (claimed_at IS NULL OR claimed_at < NOW() - INTERVAL '%d seconds')
			  AND (start_after IS NULL OR start_after <= NOW())
			ORDER BY mc_seqno DESC NULLS FIRST
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE _classifier_tasks T
		SET claimed_at = NOW()
		FROM A
		WHERE T.id = A.id
		RETURNING T.id, T.mc_seqno, T.trace_id, T.claimed_at, T.start_after`,
		int(leaseTimeout.Seconds()))
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("claim tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.ClassifierTask
	for rows.Next() {
		var t models.ClassifierTask
		if err := rows.Scan(&t.ID, &t.McSeqno, &t.TraceID, &t.ClaimedAt, &t.StartAfter); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// SeqnoClassified reports whether a seqno group was committed before, meaning
// its traces need an action cleanup prior to reclassification.
func (s *Store) SeqnoClassified(ctx context.Context, tx pgx.Tx, seqno int32) (bool, error) {
	var found int32
	err := tx.QueryRow(ctx, "SELECT mc_seqno FROM blocks_classified WHERE mc_seqno = $1", seqno).Scan(&found)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check blocks_classified: %w", err)
	}
	return true, nil
}

// TraceIDsBySeqno enumerates every trace closing at the given seqno.
func (s *Store) TraceIDsBySeqno(ctx context.Context, tx pgx.Tx, seqno int32) ([]string, error) {
	rows, err := tx.Query(ctx, "SELECT trace_id FROM traces WHERE mc_seqno_end = $1", seqno)
	if err != nil {
		return nil, fmt.Errorf("traces by seqno: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteActions purges previously recorded actions for the given traces.
func (s *Store) DeleteActions(ctx context.Context, tx pgx.Tx, traceIDs []string) error {
	if len(traceIDs) == 0 {
		return nil
	}
	if _, err := tx.Exec(ctx, "DELETE FROM actions WHERE trace_id = ANY($1)", traceIDs); err != nil {
		return fmt.Errorf("delete actions: %w", err)
	}
	if _, err := tx.Exec(ctx, "DELETE FROM action_accounts WHERE trace_id = ANY($1)", traceIDs); err != nil {
		return fmt.Errorf("delete action accounts: %w", err)
	}
	return nil
}

// LoadTracesByIDs bulk-fetches complete traces with their full
// transaction and message chains in three round trips.
func (s *Store) LoadTracesByIDs(ctx context.Context, tx pgx.Tx, traceIDs []string) ([]*models.Trace, error) {
	if len(traceIDs) == 0 {
		return nil, nil
	}
	return s.loadTraces(ctx, tx, "T.trace_id = ANY($1)", traceIDs)
}

// LoadTracesBySeqnos bulk-fetches every trace closing at the given seqnos,
// skipping traces above the node bound.
func (s *Store) LoadTracesBySeqnos(ctx context.Context, tx pgx.Tx, seqnos []int32, maxNodes int32) ([]*models.Trace, error) {
	if len(seqnos) == 0 {
		return nil, nil
	}
	return s.loadTraces(ctx, tx, "T.mc_seqno_end = ANY($1) AND T.nodes_ <= $2", seqnos, maxNodes)
}

func (s *Store) loadTraces(ctx context.Context, tx pgx.Tx, filter string, args ...any) ([]*models.Trace, error) {
	rows, err := tx.Query(ctx, `
		SELECT T.trace_id, T.external_hash, T.mc_seqno_end, T.state, T.classification_state, T.nodes_
		FROM traces T WHERE `+filter, args...)
	if err != nil {
		return nil, fmt.Errorf("load traces: %w", err)
	}
	byID := map[string]*models.Trace{}
	var traces []*models.Trace
	var traceIDs []string
	for rows.Next() {
		t := &models.Trace{}
		if err := rows.Scan(&t.TraceID, &t.ExternalHash, &t.McSeqnoEnd, &t.State, &t.ClassificationState, &t.Nodes); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan trace: %w", err)
		}
		byID[t.TraceID] = t
		traces = append(traces, t)
		traceIDs = append(traceIDs, t.TraceID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(traces) == 0 {
		return nil, nil
	}

	txRows, err := tx.Query(ctx, `
		SELECT trace_id, hash, account, lt, now, descr, aborted, compute_exit_code
		FROM transactions WHERE trace_id = ANY($1) ORDER BY lt`, traceIDs)
	if err != nil {
		return nil, fmt.Errorf("load transactions: %w", err)
	}
	txByHash := map[string]*models.Transaction{}
	for txRows.Next() {
		var traceID string
		var exitCode *int32
		t := &models.Transaction{}
		if err := txRows.Scan(&traceID, &t.Hash, &t.Account, &t.Lt, &t.Now, &t.Descr, &t.Aborted, &exitCode); err != nil {
			txRows.Close()
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		if exitCode != nil {
			t.ExitCode = *exitCode
		}
		if trace, ok := byID[traceID]; ok {
			trace.Transactions = append(trace.Transactions, t)
		}
		txByHash[t.Hash] = t
	}
	txRows.Close()
	if err := txRows.Err(); err != nil {
		return nil, err
	}

	msgRows, err := tx.Query(ctx, `
		SELECT M.tx_hash, M.direction, M.msg_hash, M.source, M.destination, M.value, M.opcode, M.created_lt, C.body
		FROM messages M
		LEFT JOIN message_contents C ON C.hash = M.body_hash
		WHERE M.trace_id = ANY($1)
		ORDER BY M.created_lt`, traceIDs)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer msgRows.Close()
	for msgRows.Next() {
		var txHash, direction string
		var value, createdLt *int64
		var opcode *int64
		var body *string
		m := &models.Message{}
		if err := msgRows.Scan(&txHash, &direction, &m.Hash, &m.Source, &m.Destination, &value, &opcode, &createdLt, &body); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if value != nil {
			m.Value = uint64(*value)
		}
		if createdLt != nil {
			m.CreatedLt = uint64(*createdLt)
		}
		if opcode != nil {
			op := uint32(uint64(*opcode) & math.MaxUint32)
			m.Opcode = &op
		}
		if body != nil {
			if boc, err := base64.StdEncoding.DecodeString(*body); err == nil {
				m.BodyBoc = boc
			}
		}
		t, ok := txByHash[txHash]
		if !ok {
			continue
		}
		if direction == "in" {
			t.InMsg = m
		} else {
			t.OutMsgs = append(t.OutMsgs, m)
		}
	}
	return traces, msgRows.Err()
}

// GatherInterfaces reads the known jetton wallet roles for a set of accounts,
// used to warm the batch-shared interface repository.
func (s *Store) GatherInterfaces(ctx context.Context, tx pgx.Tx, accounts []string) (map[string]interfaces.JettonWallet, error) {
	out := map[string]interfaces.JettonWallet{}
	if len(accounts) == 0 {
		return out, nil
	}
	rows, err := tx.Query(ctx, `
		SELECT address, owner, jetton FROM jetton_wallets WHERE address = ANY($1)`, accounts)
	if err != nil {
		return nil, fmt.Errorf("gather interfaces: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var w interfaces.JettonWallet
		if err := rows.Scan(&w.Address, &w.Owner, &w.Jetton); err != nil {
			return nil, err
		}
		out[w.Address] = w
	}
	return out, rows.Err()
}

// InsertActions stages actions and their account rows. The natural keys carry
// an insert-or-ignore policy so reclassification is idempotent.
func (s *Store) InsertActions(ctx context.Context, tx pgx.Tx, actions []models.Action) error {
	for i := range actions {
		a := &actions[i]
		details, err := json.Marshal(a.Details())
		if err != nil {
			return fmt.Errorf("marshal action details: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO actions
				(action_id, trace_id, type, start_lt, end_lt, start_utime, end_utime, success, tx_hashes, accounts, details)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT DO NOTHING`,
			a.ActionID, a.TraceID, a.Type,
			int64(a.StartLt), int64(a.EndLt), int64(a.StartUtime), int64(a.EndUtime),
			a.Success, a.TxHashes, a.Accounts, details)
		if err != nil {
			return fmt.Errorf("insert action: %w", err)
		}
		for _, aa := range a.ActionAccounts() {
			_, err = tx.Exec(ctx, `
				INSERT INTO action_accounts (account, action_id, trace_id)
				VALUES ($1, $2, $3)
				ON CONFLICT DO NOTHING`, aa.Account, aa.ActionID, aa.TraceID)
			if err != nil {
				return fmt.Errorf("insert action account: %w", err)
			}
		}
	}
	return nil
}

// InsertFailedTrace appends a quarantine record, ignored on duplicate.
func (s *Store) InsertFailedTrace(ctx context.Context, tx pgx.Tx, rec models.ClassifierFailedTrace) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO _classifier_failed_traces (trace_id, broken, error)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING`, rec.TraceID, rec.Broken, rec.Error)
	if err != nil {
		return fmt.Errorf("insert failed trace: %w", err)
	}
	return nil
}

// SetClassificationState records a trace's terminal classification state.
func (s *Store) SetClassificationState(ctx context.Context, tx pgx.Tx, traceID, state string) error {
	_, err := tx.Exec(ctx,
		"UPDATE traces SET classification_state = $2 WHERE trace_id = $1", traceID, state)
	if err != nil {
		return fmt.Errorf("set classification state: %w", err)
	}
	return nil
}

// MarkSeqnoClassified records that a whole seqno group was classified.
func (s *Store) MarkSeqnoClassified(ctx context.Context, tx pgx.Tx, seqno int32) error {
	_, err := tx.Exec(ctx,
		"INSERT INTO blocks_classified (mc_seqno) VALUES ($1) ON CONFLICT DO NOTHING", seqno)
	if err != nil {
		return fmt.Errorf("mark seqno classified: %w", err)
	}
	return nil
}

// DeleteTasks removes completed backlog rows.
func (s *Store) DeleteTasks(ctx context.Context, tx pgx.Tx, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := tx.Exec(ctx, "DELETE FROM _classifier_tasks WHERE id = ANY($1)", ids); err != nil {
		return fmt.Errorf("delete tasks: %w", err)
	}
	return nil
}

// DeleteTasksDirect is the finisher path: task ids accumulated outside a
// batch transaction are flushed in one statement.
func (s *Store) DeleteTasksDirect(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.pool.Exec(ctx, "DELETE FROM _classifier_tasks WHERE id = ANY($1)", ids); err != nil {
		return fmt.Errorf("delete finished tasks: %w", err)
	}
	return nil
}

// CountUnclassified reports the outstanding complete-but-unclassified traces.
func (s *Store) CountUnclassified(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM traces
		WHERE state = 'complete' AND classification_state = 'unclassified'`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unclassified: %w", err)
	}
	return n, nil
}
