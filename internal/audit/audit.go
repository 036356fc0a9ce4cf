// Package audit journals every completed round controller operation.
//
// The journal is the client's half of reconciliation: when a round fails
// mid-flight the rows show what the client last believed, which can be
// compared with the server's records. It never repairs anything itself.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"github.com/alexbotov/rgsclient/internal/controller"
	"github.com/alexbotov/rgsclient/internal/domain"
)

// DefaultLimit bounds GetEvents when the filter sets none
const DefaultLimit = 100

// RoundEvent is one journal row
type RoundEvent struct {
	ID               string             `json:"id"`
	Operation        string             `json:"operation"`
	Phase            domain.Phase       `json:"phase"`
	SessionID        string             `json:"sessionId"`
	RoundID          *string            `json:"roundId,omitempty"`
	BalanceAmount    *int64             `json:"balanceAmount,omitempty"`
	Currency         *string            `json:"currency,omitempty"`
	PayoutMultiplier *float64           `json:"payoutMultiplier,omitempty"`
	Unsettled        bool               `json:"unsettled"`
	Error            *string            `json:"error,omitempty"`
	Snapshot         domain.ClientState `json:"snapshot"`
	CreatedAt        time.Time          `json:"createdAt"`
}

// Service provides the round journal
type Service struct {
	db *sql.DB
}

var _ controller.Recorder = (*Service)(nil)

// New creates a new audit service
func New(db *sql.DB) *Service {
	return &Service{db: db}
}

// Record stores one controller outcome. It satisfies controller.Recorder.
func (s *Service) Record(ctx context.Context, o controller.Outcome) error {
	event := fromOutcome(o)

	snapshot, err := json.Marshal(event.Snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO round_events (id, operation, phase, session_id, round_id, balance_amount, currency,
		                          payout_multiplier, unsettled, error, snapshot, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, event.ID, event.Operation, string(event.Phase), event.SessionID, event.RoundID, event.BalanceAmount,
		event.Currency, event.PayoutMultiplier, event.Unsettled, event.Error, string(snapshot), event.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert round event: %w", err)
	}
	return nil
}

// fromOutcome flattens the fields worth querying by
func fromOutcome(o controller.Outcome) *RoundEvent {
	event := &RoundEvent{
		ID:        uuid.New().String(),
		Operation: o.Operation,
		Phase:     o.State.Phase,
		SessionID: o.SessionID,
		Snapshot:  o.State,
		CreatedAt: o.At,
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	round := o.State.CurrentRound
	if round == nil && o.State.UnsettledRound != nil {
		round = o.State.UnsettledRound
		event.Unsettled = true
	}
	if round != nil {
		if round.ID != "" {
			event.RoundID = &round.ID
		}
		event.PayoutMultiplier = round.PayoutMultiplier
	}

	if b := o.State.Balance; b != nil {
		amount, currency := b.Amount, b.Currency
		event.BalanceAmount = &amount
		event.Currency = &currency
	}

	if o.Err != nil {
		msg := o.Err.Error()
		event.Error = &msg
	}
	return event
}

// EventFilter defines criteria for filtering journal rows
type EventFilter struct {
	SessionID  string
	RoundID    string
	Operation  string
	FailedOnly bool
	From       time.Time
	To         time.Time
	Limit      int
}

// GetEvents retrieves journal rows newest first
func (s *Service) GetEvents(ctx context.Context, filter *EventFilter) ([]*RoundEvent, error) {
	query := `SELECT id, operation, phase, session_id, round_id, balance_amount, currency,
			         payout_multiplier, unsettled, error, snapshot, created_at
			  FROM round_events WHERE 1=1`
	args := []interface{}{}
	paramIdx := 1

	if filter != nil {
		if filter.SessionID != "" {
			query += fmt.Sprintf(" AND session_id = $%d", paramIdx)
			args = append(args, filter.SessionID)
			paramIdx++
		}
		if filter.RoundID != "" {
			query += fmt.Sprintf(" AND round_id = $%d", paramIdx)
			args = append(args, filter.RoundID)
			paramIdx++
		}
		if filter.Operation != "" {
			query += fmt.Sprintf(" AND operation = $%d", paramIdx)
			args = append(args, filter.Operation)
			paramIdx++
		}
		if filter.FailedOnly {
			query += " AND error IS NOT NULL"
		}
		if !filter.From.IsZero() {
			query += fmt.Sprintf(" AND created_at >= $%d", paramIdx)
			args = append(args, filter.From)
			paramIdx++
		}
		if !filter.To.IsZero() {
			query += fmt.Sprintf(" AND created_at <= $%d", paramIdx)
			args = append(args, filter.To)
			paramIdx++
		}
	}

	query += " ORDER BY created_at DESC"

	limit := DefaultLimit
	if filter != nil && filter.Limit > 0 {
		limit = filter.Limit
	}
	query += fmt.Sprintf(" LIMIT $%d", paramIdx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*RoundEvent
	for rows.Next() {
		var event RoundEvent
		var phase string
		var roundID, currency, errMsg sql.NullString
		var balance sql.NullInt64
		var payout sql.NullFloat64
		var snapshot []byte

		err := rows.Scan(&event.ID, &event.Operation, &phase, &event.SessionID, &roundID, &balance,
			&currency, &payout, &event.Unsettled, &errMsg, &snapshot, &event.CreatedAt)
		if err != nil {
			return nil, err
		}

		event.Phase = domain.Phase(phase)
		if roundID.Valid {
			event.RoundID = &roundID.String
		}
		if balance.Valid {
			event.BalanceAmount = &balance.Int64
		}
		if currency.Valid {
			event.Currency = &currency.String
		}
		if payout.Valid {
			event.PayoutMultiplier = &payout.Float64
		}
		if errMsg.Valid {
			event.Error = &errMsg.String
		}
		if err := json.Unmarshal(snapshot, &event.Snapshot); err != nil {
			return nil, fmt.Errorf("decode snapshot %s: %w", event.ID, err)
		}

		events = append(events, &event)
	}

	return events, rows.Err()
}

// WriteTable prints events as an aligned table, amounts in API units
func WriteTable(w io.Writer, events []*RoundEvent) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tOPERATION\tPHASE\tSESSION\tROUND\tBALANCE\tPAYOUT\tUNSETTLED\tERROR")
	for _, e := range events {
		balance := "-"
		if e.BalanceAmount != nil {
			balance = fmt.Sprintf("%d", *e.BalanceAmount)
			if e.Currency != nil && *e.Currency != "" {
				balance += " " + *e.Currency
			}
		}
		payout := "-"
		if e.PayoutMultiplier != nil {
			payout = fmt.Sprintf("x%g", *e.PayoutMultiplier)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%t\t%s\n",
			e.CreatedAt.UTC().Format(time.RFC3339),
			e.Operation, e.Phase, e.SessionID, orDash(e.RoundID),
			balance, payout, e.Unsettled, orDash(e.Error))
	}
	return tw.Flush()
}

func orDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}
