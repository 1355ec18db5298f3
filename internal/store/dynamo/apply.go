package dynamo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"branchstock/backend/internal/schema"
	"branchstock/backend/internal/store"
)

// Positions inside the ApplyDetail transaction, used to map cancellation reasons.
const (
	detailIndex    = 0
	inventoryIndex = 1
)

// ApplyDetail writes the detail item and the inventory item in one
// TransactWriteItems call.
func (s *BranchStore) ApplyDetail(ctx context.Context, m store.DetailMutation) (*store.AppliedDetail, error) {
	if !m.Line.Kind.Valid() {
		return nil, store.NewInvalidRecord("unknown detail kind %q", m.Line.Kind)
	}
	if m.Op != store.DetailDelete {
		if err := s.schema.Validate(m.Line); err != nil {
			return nil, err
		}
	}

	now := s.now()
	items, err := s.buildTransaction(m, now)
	if err != nil {
		return nil, err
	}
	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	if err != nil {
		return nil, s.mapApplyError(err, m)
	}

	applied := &store.AppliedDetail{}
	switch m.Op {
	case store.DetailInsert:
		applied.Line = m.Line
		applied.Line.Version = 1
		applied.Line.CreatedAt = now
		applied.Line.UpdatedAt = now
	case store.DetailUpdate:
		applied.Line = m.Line
		applied.Line.Version = m.ExpectedVersion + 1
		applied.Line.UpdatedAt = now
	}

	// Transactions return no item images, so the ledger row is read back.
	// The unit has committed at this point; a failed read only degrades the
	// returned row to its key.
	applied.Inventory.WarehouseID = m.Ledger.WarehouseID
	applied.Inventory.MaterialID = m.Ledger.MaterialID
	row, err := s.GetInventory(ctx, m.Ledger.WarehouseID, m.Ledger.MaterialID)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		s.log.Warn().Err(err).
			Str("warehouse_id", m.Ledger.WarehouseID).
			Str("material_id", m.Ledger.MaterialID).
			Msg("inventory read-back failed after commit")
	default:
		applied.Inventory = *row
	}
	return applied, nil
}

func (s *BranchStore) buildTransaction(m store.DetailMutation, now time.Time) ([]types.TransactWriteItem, error) {
	line := m.Line
	_, detailKey, err := schema.DetailKey(line.Kind, line.Key())
	if err != nil {
		return nil, err
	}
	invKey, err := schema.InventoryKey(m.Ledger.WarehouseID, m.Ledger.MaterialID)
	if err != nil {
		return nil, err
	}

	items := make([]types.TransactWriteItem, 0, 2)
	versionNames := map[string]string{"#version": "version"}

	switch m.Op {
	case store.DetailInsert:
		av, err := attributevalue.MarshalMap(detailItem{
			PK:         detailPK(line.Kind),
			SK:         detailKey,
			Kind:       string(line.Kind),
			ParentID:   line.ParentID,
			MaterialID: line.MaterialID,
			Quantity:   line.Quantity,
			UnitPrice:  line.UnitPrice.String(),
			Version:    1,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
		if err != nil {
			return nil, fmt.Errorf("dynamo: marshal detail: %w", err)
		}
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{
				TableName:           aws.String(s.table),
				Item:                av,
				ConditionExpression: aws.String("attribute_not_exists(pk)"),
			},
		})
	case store.DetailUpdate:
		updatedAt, err := attributevalue.Marshal(now)
		if err != nil {
			return nil, err
		}
		items = append(items, types.TransactWriteItem{
			Update: &types.Update{
				TableName:                aws.String(s.table),
				Key:                      itemKey(detailPK(line.Kind), detailKey),
				UpdateExpression:         aws.String("SET quantity = :qty, unit_price = :price, updated_at = :now, #version = #version + :one"),
				ConditionExpression:      aws.String("attribute_exists(pk) AND #version = :expected"),
				ExpressionAttributeNames: versionNames,
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":qty":      numberValue(line.Quantity),
					":price":    &types.AttributeValueMemberS{Value: line.UnitPrice.String()},
					":now":      updatedAt,
					":one":      numberValue(1),
					":expected": numberValue(m.ExpectedVersion),
				},
				ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
			},
		})
	case store.DetailDelete:
		items = append(items, types.TransactWriteItem{
			Delete: &types.Delete{
				TableName:                aws.String(s.table),
				Key:                      itemKey(detailPK(line.Kind), detailKey),
				ConditionExpression:      aws.String("attribute_exists(pk) AND #version = :expected"),
				ExpressionAttributeNames: versionNames,
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":expected": numberValue(m.ExpectedVersion),
				},
				ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
			},
		})
	default:
		return nil, fmt.Errorf("dynamo: unsupported detail op %d", m.Op)
	}

	if m.Ledger.Delta == 0 {
		return items, nil
	}

	updatedAt, err := attributevalue.Marshal(now)
	if err != nil {
		return nil, err
	}
	update := &types.Update{
		TableName: aws.String(s.table),
		Key:       itemKey(pkInventory, invKey),
		UpdateExpression: aws.String("SET qty = if_not_exists(qty, :zero) + :delta, " +
			"#version = if_not_exists(#version, :zero) + :one, " +
			"warehouse_id = :wh, material_id = :mat, updated_at = :now"),
		ExpressionAttributeNames: map[string]string{"#version": "version"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":zero":  numberValue(0),
			":one":   numberValue(1),
			":delta": numberValue(m.Ledger.Delta),
			":wh":    &types.AttributeValueMemberS{Value: m.Ledger.WarehouseID},
			":mat":   &types.AttributeValueMemberS{Value: m.Ledger.MaterialID},
			":now":   updatedAt,
		},
	}
	if m.Ledger.Guarded && m.Ledger.Delta < 0 {
		update.ConditionExpression = aws.String("qty >= :need")
		update.ExpressionAttributeValues[":need"] = numberValue(m.Ledger.Required())
		update.ReturnValuesOnConditionCheckFailure = types.ReturnValuesOnConditionCheckFailureAllOld
	}
	items = append(items, types.TransactWriteItem{Update: update})
	return items, nil
}

// mapApplyError turns per-item cancellation reasons into typed errors, the
// same way for every detail op.
func (s *BranchStore) mapApplyError(err error, m store.DetailMutation) error {
	var conflict *types.TransactionConflictException
	if errors.As(err, &conflict) {
		return store.ErrVersionConflict
	}

	var txErr *types.TransactionCanceledException
	if !errors.As(err, &txErr) {
		return err
	}

	for i, reason := range txErr.CancellationReasons {
		code := aws.ToString(reason.Code)
		switch code {
		case "", "None":
			continue
		case "TransactionConflict":
			return store.ErrVersionConflict
		case "ConditionalCheckFailed":
		default:
			return err
		}

		switch i {
		case detailIndex:
			c, key, keyErr := schema.DetailKey(m.Line.Kind, m.Line.Key())
			if keyErr != nil {
				return keyErr
			}
			if m.Op == store.DetailInsert {
				return c.Duplicate(key)
			}
			if len(reason.Item) == 0 {
				return c.NotFound(key)
			}
			return store.ErrVersionConflict
		case inventoryIndex:
			return &store.InsufficientStockError{
				WarehouseID: m.Ledger.WarehouseID,
				MaterialID:  m.Ledger.MaterialID,
				Requested:   m.Ledger.Required(),
				Available:   s.availableFrom(reason.Item, m.Ledger),
			}
		}
	}
	return err
}

// availableFrom reads the quantity out of the old inventory image returned
// with a failed guard. An image that does not decode is logged and counts
// as zero.
func (s *BranchStore) availableFrom(item map[string]types.AttributeValue, change store.LedgerChange) int64 {
	if len(item) == 0 {
		return 0
	}
	var it inventoryItem
	if err := attributevalue.UnmarshalMap(item, &it); err != nil {
		s.log.Warn().Err(err).
			Str("warehouse_id", change.WarehouseID).
			Str("material_id", change.MaterialID).
			Msg("decode inventory image from cancellation reason")
		return 0
	}
	return it.Quantity
}
