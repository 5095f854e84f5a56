package receipt

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/houmon/houmon/internal/platform/apperr"
)

const (
	transRecalculate = "recalculate"
	transFinalize    = "finalize"
	transReopen      = "reopen"
	transMarkSent    = "mark_sent"
	transDelete      = "delete"
)

// guard returns why transition is not allowed from r's current state.
func guard(transition string, r *Receipt) *Rejection {
	switch transition {
	case transRecalculate, transFinalize, transDelete:
		if r.IsSent {
			return &Rejection{Code: RejectAlreadySent, Message: "receipt has been sent and can no longer change"}
		}
		if r.IsConfirmed {
			return &Rejection{Code: RejectAlreadyConfirmed, Message: "receipt is confirmed; reopen it first"}
		}
	case transReopen:
		if r.IsSent {
			return &Rejection{Code: RejectAlreadySent, Message: "a sent receipt cannot be reopened"}
		}
		if !r.IsConfirmed {
			return &Rejection{Code: RejectNotConfirmed, Message: "receipt is not confirmed"}
		}
	case transMarkSent:
		if r.IsSent {
			return &Rejection{Code: RejectAlreadySent, Message: "receipt has already been sent"}
		}
		if !r.IsConfirmed {
			return &Rejection{Code: RejectNotConfirmed, Message: "only confirmed receipts can be sent"}
		}
	}
	return nil
}

func (s *Service) accept(transition string, r *Receipt) *TransitionResult {
	s.metrics.ObserveTransition(transition, "ok")
	s.logger.Info().Str("transition", transition).Str("receipt_id", r.ID.String()).
		Str("state", r.State()).Msg("receipt transition")
	return &TransitionResult{Receipt: r}
}

func (s *Service) reject(transition string, r *Receipt, rej *Rejection) *TransitionResult {
	s.metrics.ObserveTransition(transition, string(rej.Code))
	ev := s.logger.Debug().Str("transition", transition).Str("rejection", string(rej.Code))
	if r != nil {
		ev = ev.Str("receipt_id", r.ID.String())
	}
	ev.Msg("receipt transition rejected")
	return &TransitionResult{Receipt: r, Rejection: rej}
}

// load fetches the receipt and checks the transition against its state.
// A non-nil result is a rejection to return as is.
func (s *Service) load(ctx context.Context, transition string, id uuid.UUID) (*Receipt, *TransitionResult, error) {
	r, err := s.receipts.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, s.reject(transition, nil, &Rejection{Code: RejectNotFound, Message: "receipt not found"}), nil
	}
	if err != nil {
		return nil, nil, err
	}
	if rej := guard(transition, r); rej != nil {
		return nil, s.reject(transition, r, rej), nil
	}
	return r, nil, nil
}

// explain builds the rejection for a conditional update that changed no
// row, from the state the receipt has now. fallback covers a receipt whose
// state still allows the transition, which means it changed underneath us.
func (s *Service) explain(ctx context.Context, transition string, id uuid.UUID, fallback *Rejection) (*TransitionResult, error) {
	_, res, err := s.load(ctx, transition, id)
	if err != nil || res != nil {
		return res, err
	}
	cur, err := s.receipts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.reject(transition, cur, fallback), nil
}

var concurrentChange = &Rejection{Code: RejectHasErrors, Message: "receipt changed concurrently; retry",
	Errors: []Message{{Code: CodeReceiptOutdated, Message: "receipt changed while the request was processed"}}}

func (s *Service) reload(ctx context.Context, transition string, id uuid.UUID) (*TransitionResult, error) {
	r, err := s.receipts.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reload receipt %s: %w", id, err)
	}
	return s.accept(transition, r), nil
}

// RecalculateReceipt recomputes a draft receipt from the current records.
func (s *Service) RecalculateReceipt(ctx context.Context, id uuid.UUID) (*TransitionResult, error) {
	cur, res, err := s.load(ctx, transRecalculate, id)
	if err != nil || res != nil {
		return res, err
	}
	a, err := s.assemble(ctx, cur.Key, nil, nil)
	if err != nil {
		return nil, err
	}
	a.receipt.ID = cur.ID
	ok, err := s.receipts.UpdateComputed(ctx, a.receipt)
	if err != nil {
		s.logger.Error().Err(err).Str("receipt_id", id.String()).Msg("recalculate receipt")
		return nil, err
	}
	if !ok {
		return s.explain(ctx, transRecalculate, id, concurrentChange)
	}
	return s.reload(ctx, transRecalculate, id)
}

// FinalizeReceipt confirms a draft receipt. Validation runs again against
// the current records; any error rejects the transition and is stored on
// the receipt. Export readiness is recomputed but never blocks.
func (s *Service) FinalizeReceipt(ctx context.Context, id uuid.UUID, userID string) (*TransitionResult, error) {
	if userID == "" {
		return nil, apperr.Invalid("confirmed_by", "is required")
	}
	cur, res, err := s.load(ctx, transFinalize, id)
	if err != nil || res != nil {
		return res, err
	}
	a, err := s.assemble(ctx, cur.Key, nil, cur)
	if err != nil {
		return nil, err
	}

	if len(a.validation.Errors) > 0 {
		if _, err := s.receipts.SaveFindings(ctx, id, a.validation, a.csv); err != nil {
			return nil, fmt.Errorf("save findings of %s: %w", id, err)
		}
		updated, err := s.receipts.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		return s.reject(transFinalize, updated, &Rejection{
			Code:    RejectHasErrors,
			Message: fmt.Sprintf("receipt has %d validation error(s)", len(a.validation.Errors)),
			Errors:  a.validation.Errors,
		}), nil
	}

	ok, err := s.receipts.Confirm(ctx, id, cur.Version, userID, s.now().UTC(), a.validation, a.csv)
	if err != nil {
		s.logger.Error().Err(err).Str("receipt_id", id.String()).Msg("confirm receipt")
		return nil, err
	}
	if !ok {
		return s.explain(ctx, transFinalize, id, concurrentChange)
	}
	return s.reload(ctx, transFinalize, id)
}

// ReopenReceipt returns a confirmed, unsent receipt to draft.
func (s *Service) ReopenReceipt(ctx context.Context, id uuid.UUID) (*TransitionResult, error) {
	if _, res, err := s.load(ctx, transReopen, id); err != nil || res != nil {
		return res, err
	}
	ok, err := s.receipts.Reopen(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return s.explain(ctx, transReopen, id, concurrentChange)
	}
	return s.reload(ctx, transReopen, id)
}

// MarkSent records that a confirmed receipt was transmitted. Sent receipts
// are frozen for good.
func (s *Service) MarkSent(ctx context.Context, id uuid.UUID) (*TransitionResult, error) {
	if _, res, err := s.load(ctx, transMarkSent, id); err != nil || res != nil {
		return res, err
	}
	ok, err := s.receipts.MarkSent(ctx, id, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if !ok {
		return s.explain(ctx, transMarkSent, id, concurrentChange)
	}
	return s.reload(ctx, transMarkSent, id)
}

// DeleteReceipt removes a draft receipt.
func (s *Service) DeleteReceipt(ctx context.Context, id uuid.UUID) (*TransitionResult, error) {
	cur, res, err := s.load(ctx, transDelete, id)
	if err != nil || res != nil {
		return res, err
	}
	ok, err := s.receipts.Delete(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return s.explain(ctx, transDelete, id, concurrentChange)
	}
	return s.accept(transDelete, cur), nil
}
