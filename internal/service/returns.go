package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/mmeshcher/ledger-system/internal/model"
	"github.com/mmeshcher/ledger-system/internal/repository"
)

// SubmitReturn создаёт заявку на возврат по выполненному заказу покупателя.
func (s *Service) SubmitReturn(ctx context.Context, req model.SubmitReturnRequest) (ret *model.Return, err error) {
	ctx, end := s.begin(ctx, "submit_return", attribute.Int64("order_id", req.OrderID))
	defer end(&err)

	if err := validateReturnLines(req.Items); err != nil {
		return nil, err
	}

	err = s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		o, err := tx.GetOrderForUpdate(ctx, req.OrderID)
		if err != nil {
			return err
		}
		if o.UserID != req.UserID {
			return repository.ErrOrderNotFound
		}
		if o.Status != model.OrderStatusFulfilled {
			return fmt.Errorf("%w: order is %s", model.ErrOrderNotFulfilled, o.Status)
		}

		returned, err := tx.ReturnedQuantities(ctx, o.ID)
		if err != nil {
			return fmt.Errorf("load returned quantities: %w", err)
		}

		r := &model.Return{
			OrderID:   o.ID,
			UserID:    o.UserID,
			Reason:    strings.TrimSpace(req.Reason),
			Status:    model.ReturnSubmitted,
			CreatedAt: s.now().UTC(),
			Items:     make([]model.ReturnItem, 0, len(req.Items)),
		}
		for _, l := range req.Items {
			item, ok := o.Item(l.OrderItemID)
			if !ok {
				return fmt.Errorf("%w: order item %d does not belong to order %d", model.ErrInvalidItem, l.OrderItemID, o.ID)
			}
			remaining := item.Quantity - returned[item.ID]
			if l.Quantity > remaining {
				return &model.ExceedsReturnableError{
					OrderItemID: item.ID,
					Remaining:   remaining,
					Requested:   l.Quantity,
				}
			}
			r.Items = append(r.Items, model.ReturnItem{
				OrderItemID: item.ID,
				ProductID:   item.ProductID,
				Quantity:    l.Quantity,
				Reason:      strings.TrimSpace(l.Reason),
			})
		}

		if err := tx.CreateReturn(ctx, r); err != nil {
			return fmt.Errorf("save return: %w", err)
		}

		if err := s.enqueue(ctx, tx, event{
			kind:     model.EventReturnSubmitted,
			userID:   model.Int64Ptr(r.UserID),
			orderID:  model.Int64Ptr(r.OrderID),
			returnID: model.Int64Ptr(r.ID),
			payload:  newReturnPayload(r),
		}); err != nil {
			return err
		}

		ret = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.committed()
	s.countReturn(ret.Status)
	s.logger.Info("return submitted",
		zap.Int64("return_id", ret.ID),
		zap.Int64("order_id", ret.OrderID),
		zap.Int64("user_id", ret.UserID),
	)

	return ret, nil
}

// ReviewReturn берёт заявку в работу.
func (s *Service) ReviewReturn(ctx context.Context, returnID, adminID int64) (ret *model.Return, err error) {
	ctx, end := s.begin(ctx, "review_return", attribute.Int64("return_id", returnID))
	defer end(&err)

	err = s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		r, err := tx.GetReturnForUpdate(ctx, returnID)
		if err != nil {
			return err
		}
		if err := r.Status.Transition(model.ReturnUnderReview); err != nil {
			return err
		}
		r.Status = model.ReturnUnderReview
		if err := tx.UpdateReturn(ctx, r); err != nil {
			return fmt.Errorf("update return: %w", err)
		}
		ret = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.countReturn(ret.Status)
	s.logger.Info("return under review", zap.Int64("return_id", ret.ID), zap.Int64("admin_id", adminID))

	return ret, nil
}

// ResolveReturn применяет решение администратора. Смена статуса, запись в журнал
// баланса или резервирование замены выполняются одной транзакцией, поэтому
// повторное решение по завершённой заявке отклоняется без второго изменения баланса.
func (s *Service) ResolveReturn(ctx context.Context, req model.ResolveReturnRequest) (ret *model.Return, err error) {
	ctx, end := s.begin(ctx, "resolve_return",
		attribute.Int64("return_id", req.ReturnID),
		attribute.String("resolution", string(req.Resolution)),
	)
	defer end(&err)

	to := req.Resolution.Status()
	if to == "" {
		return nil, fmt.Errorf("%w: unknown resolution %q", model.ErrInvalidInput, req.Resolution)
	}

	err = s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		r, err := tx.GetReturnForUpdate(ctx, req.ReturnID)
		if err != nil {
			return err
		}
		if err := r.Status.Transition(to); err != nil {
			return err
		}

		o, err := tx.GetOrderForUpdate(ctx, r.OrderID)
		if err != nil {
			return fmt.Errorf("load order: %w", err)
		}
		suggested, err := suggestedAmount(o, r)
		if err != nil {
			return err
		}

		var amount *decimal.Decimal
		switch req.Resolution {
		case model.ResolutionStoreCredit:
			if !suggested.IsPositive() {
				return fmt.Errorf("%w: nothing to credit", model.ErrInvalidAmount)
			}
			amount = &suggested
		case model.ResolutionPartialCredit:
			if req.Amount == nil {
				return fmt.Errorf("%w: amount is required for partial credit", model.ErrInvalidAmount)
			}
			a, err := boundedAmount(*req.Amount, suggested)
			if err != nil {
				return err
			}
			amount = &a
		case model.ResolutionFullRefundExternal:
			a := suggested
			if req.Amount != nil {
				if a, err = boundedAmount(*req.Amount, suggested); err != nil {
					return err
				}
			}
			amount = &a
		case model.ResolutionReplacement:
			if err := s.inventory.Reserve(ctx, tx, returnStockLines(r)); err != nil {
				var stockErr *model.InsufficientStockError
				if errors.As(err, &stockErr) {
					return &model.ReplacementStockError{Stock: stockErr}
				}
				return err
			}
		case model.ResolutionDenied:
			if strings.TrimSpace(req.Notes) == "" {
				return model.ErrNotesRequired
			}
		}

		if req.Resolution == model.ResolutionStoreCredit || req.Resolution == model.ResolutionPartialCredit {
			cause := model.Cause{
				Kind:     model.CauseReturnCredit,
				OrderID:  model.Int64Ptr(r.OrderID),
				ReturnID: model.Int64Ptr(r.ID),
				AdminID:  model.Int64Ptr(req.AdminID),
			}
			if _, err := s.credit.Credit(ctx, tx, r.UserID, *amount, cause); err != nil {
				return err
			}
		}

		now := s.now().UTC()
		resolution := req.Resolution
		r.Status = to
		r.Resolution = &resolution
		r.ResolutionAmount = amount
		r.AdminNotes = strings.TrimSpace(req.Notes)
		r.ProcessedBy = model.Int64Ptr(req.AdminID)
		r.ProcessedAt = &now

		if err := tx.UpdateReturn(ctx, r); err != nil {
			return fmt.Errorf("update return: %w", err)
		}

		if err := s.enqueue(ctx, tx, event{
			kind:     model.EventReturnResolved,
			userID:   model.Int64Ptr(r.UserID),
			orderID:  model.Int64Ptr(r.OrderID),
			returnID: model.Int64Ptr(r.ID),
			payload:  newReturnPayload(r),
		}); err != nil {
			return err
		}

		ret = r
		return nil
	})
	if err != nil {
		var replacementErr *model.ReplacementStockError
		if errors.As(err, &replacementErr) {
			s.holdForReview(ctx, req.ReturnID, req.AdminID)
		}
		return nil, err
	}

	s.committed()
	s.countReturn(ret.Status)
	if ret.Status == model.ReturnApprovedCredit || ret.Status == model.ReturnApprovedPartialCredit {
		s.countCredit(model.CauseReturnCredit)
	}
	s.logger.Info("return resolved",
		zap.Int64("return_id", ret.ID),
		zap.String("status", string(ret.Status)),
		zap.Int64("admin_id", req.AdminID),
	)

	return ret, nil
}

// holdForReview переводит заявку в under_review после неудачной замены,
// чтобы администратор видел, что она ждёт решения.
func (s *Service) holdForReview(ctx context.Context, returnID, adminID int64) {
	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		r, err := tx.GetReturnForUpdate(ctx, returnID)
		if err != nil {
			return err
		}
		if r.Status != model.ReturnSubmitted {
			return nil
		}
		r.Status = model.ReturnUnderReview
		return tx.UpdateReturn(ctx, r)
	})
	if err != nil {
		s.logger.Error("hold return for review failed", zap.Int64("return_id", returnID), zap.Error(err))
		return
	}
	s.logger.Warn("replacement out of stock, return kept under review",
		zap.Int64("return_id", returnID),
		zap.Int64("admin_id", adminID),
	)
}

// ConfirmRefund отмечает, что внешний возврат средств выполнен. Статус заявки
// не меняется: approved_refund_external уже конечный.
func (s *Service) ConfirmRefund(ctx context.Context, returnID, adminID int64) (ret *model.Return, err error) {
	ctx, end := s.begin(ctx, "confirm_refund", attribute.Int64("return_id", returnID))
	defer end(&err)

	err = s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		r, err := tx.GetReturnForUpdate(ctx, returnID)
		if err != nil {
			return err
		}
		if r.Status != model.ReturnApprovedRefundExternal {
			return fmt.Errorf("%w: return is %s", model.ErrIllegalTransition, r.Status)
		}
		if r.RefundConfirmedAt != nil {
			return model.ErrRefundConfirmed
		}

		now := s.now().UTC()
		r.RefundConfirmedAt = &now
		r.RefundConfirmedBy = model.Int64Ptr(adminID)
		if err := tx.UpdateReturn(ctx, r); err != nil {
			return fmt.Errorf("update return: %w", err)
		}

		if err := s.enqueue(ctx, tx, event{
			kind:     model.EventRefundConfirmed,
			userID:   model.Int64Ptr(r.UserID),
			orderID:  model.Int64Ptr(r.OrderID),
			returnID: model.Int64Ptr(r.ID),
			payload: refundConfirmedPayload{
				ReturnID:    r.ID,
				OrderID:     r.OrderID,
				Amount:      r.ResolutionAmount,
				ConfirmedBy: adminID,
				ConfirmedAt: now,
			},
		}); err != nil {
			return err
		}

		ret = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.committed()
	s.logger.Info("external refund confirmed", zap.Int64("return_id", ret.ID), zap.Int64("admin_id", adminID))

	return ret, nil
}

// GetReturn возвращает заявку, доступную пользователю.
func (s *Service) GetReturn(ctx context.Context, actor model.Actor, returnID int64) (*model.Return, error) {
	r, err := s.store.GetReturn(ctx, returnID)
	if err != nil {
		return nil, err
	}
	if !actor.CanAccess(r.UserID) {
		return nil, repository.ErrReturnNotFound
	}
	return r, nil
}

// ListReturnsByUser возвращает заявки пользователя.
func (s *Service) ListReturnsByUser(ctx context.Context, userID int64) ([]model.Return, error) {
	return s.store.ListReturnsByUser(ctx, userID)
}

// ListReturns возвращает все заявки, опционально с фильтром по статусу.
func (s *Service) ListReturns(ctx context.Context, status *model.ReturnStatus) ([]model.Return, error) {
	return s.store.ListReturns(ctx, status)
}

// suggestedAmount: стоимость возвращаемых позиций по ценам на момент заказа.
func suggestedAmount(o *model.Order, r *model.Return) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, it := range r.Items {
		item, ok := o.Item(it.OrderItemID)
		if !ok {
			return decimal.Zero, fmt.Errorf("%w: order item %d not found", model.ErrInvalidItem, it.OrderItemID)
		}
		total = total.Add(item.UnitPrice.Mul(decimal.NewFromInt(it.Quantity)))
	}
	return model.RoundMoney(total), nil
}

// boundedAmount проверяет сумму, указанную администратором: 0 < amount ≤ limit.
func boundedAmount(amount, limit decimal.Decimal) (decimal.Decimal, error) {
	amount = model.RoundMoney(amount)
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: amount must be positive", model.ErrInvalidAmount)
	}
	if amount.GreaterThan(limit) {
		return decimal.Zero, fmt.Errorf("%w: amount %s exceeds returned value %s",
			model.ErrInvalidAmount, amount.StringFixed(2), limit.StringFixed(2))
	}
	return amount, nil
}

func validateReturnLines(lines []model.ReturnLine) error {
	if len(lines) == 0 {
		return fmt.Errorf("%w: return has no items", model.ErrInvalidItem)
	}

	seen := make(map[int64]struct{}, len(lines))
	for _, l := range lines {
		if l.Quantity <= 0 {
			return fmt.Errorf("%w: quantity must be positive for order item %d", model.ErrInvalidItem, l.OrderItemID)
		}
		if _, dup := seen[l.OrderItemID]; dup {
			return fmt.Errorf("%w: duplicate order item %d", model.ErrInvalidItem, l.OrderItemID)
		}
		seen[l.OrderItemID] = struct{}{}
	}
	return nil
}

func returnStockLines(r *model.Return) []model.StockLine {
	lines := make([]model.StockLine, 0, len(r.Items))
	for _, it := range r.Items {
		lines = append(lines, model.StockLine{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return lines
}
