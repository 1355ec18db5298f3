package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog"

	"branchstock/backend/internal/domain"
	"branchstock/backend/internal/schema"
	"branchstock/backend/internal/store"
)

type BranchStore struct {
	client Client
	table  string
	schema *schema.Manager
	now    func() time.Time
	log    zerolog.Logger
}

func NewBranch(client Client, table string) *BranchStore {
	return &BranchStore{
		client: client,
		table:  table,
		schema: schema.Default(),
		now:    func() time.Time { return time.Now().UTC() },
		log:    zerolog.Nop(),
	}
}

// WithLogger sets the logger used for post-commit warnings.
func (s *BranchStore) WithLogger(log zerolog.Logger) *BranchStore {
	s.log = log.With().Str("component", "dynamo").Str("table", s.table).Logger()
	return s
}

var _ store.BranchStore = (*BranchStore)(nil)

func (s *BranchStore) Ping(ctx context.Context) error {
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.table)})
	return err
}

func (s *BranchStore) Close() error {
	return nil
}

func (s *BranchStore) putNew(ctx context.Context, item any) error {
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("dynamo: marshal: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(pk)"),
	})
	return err
}

// get returns false when the item does not exist.
func (s *BranchStore) get(ctx context.Context, pk string, sk string, out any) (bool, error) {
	res, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            itemKey(pk, sk),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return false, err
	}
	if res.Item == nil {
		return false, nil
	}
	if err := attributevalue.UnmarshalMap(res.Item, out); err != nil {
		return false, fmt.Errorf("dynamo: unmarshal: %w", err)
	}
	return true, nil
}

// query pages through every item under pk whose sort key starts with prefix.
func (s *BranchStore) query(ctx context.Context, pk string, prefix string) ([]map[string]types.AttributeValue, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("pk = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: pk},
		},
		ConsistentRead: aws.Bool(true),
	}
	if prefix != "" {
		input.KeyConditionExpression = aws.String("pk = :pk AND begins_with(sk, :prefix)")
		input.ExpressionAttributeValues[":prefix"] = &types.AttributeValueMemberS{Value: prefix}
	}

	var items []map[string]types.AttributeValue
	paginator := dynamodb.NewQueryPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		items = append(items, page.Items...)
	}
	return items, nil
}

func isConditionFailed(err error) bool {
	var condErr *types.ConditionalCheckFailedException
	return errors.As(err, &condErr)
}

func (s *BranchStore) InsertOrder(ctx context.Context, order domain.OrderHeader) (*domain.OrderHeader, error) {
	if err := s.schema.Validate(order); err != nil {
		return nil, err
	}
	c := schema.MustLookup(schema.Orders)
	key, err := c.Key(order.OrderID)
	if err != nil {
		return nil, err
	}
	order.CreatedAt = s.now()
	err = s.putNew(ctx, orderItem{
		PK:          pkOrder,
		SK:          key,
		OrderID:     order.OrderID,
		Date:        order.Date,
		Supplier:    order.Supplier,
		EmployeeID:  order.EmployeeID,
		WarehouseID: order.WarehouseID,
		CreatedAt:   order.CreatedAt,
	})
	if isConditionFailed(err) {
		return nil, c.Duplicate(key)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *BranchStore) GetOrder(ctx context.Context, orderID string) (*domain.OrderHeader, error) {
	c := schema.MustLookup(schema.Orders)
	key, err := c.Key(orderID)
	if err != nil {
		return nil, err
	}
	var it orderItem
	found, err := s.get(ctx, pkOrder, key, &it)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, c.NotFound(key)
	}
	out := it.domain()
	return &out, nil
}

func (s *BranchStore) ListOrders(ctx context.Context, filter domain.HeaderFilter) ([]domain.OrderHeader, error) {
	raw, err := s.query(ctx, pkOrder, "")
	if err != nil {
		return nil, err
	}
	var items []orderItem
	if err := attributevalue.UnmarshalListOfMaps(raw, &items); err != nil {
		return nil, fmt.Errorf("dynamo: unmarshal orders: %w", err)
	}
	out := make([]domain.OrderHeader, 0, len(items))
	for _, it := range items {
		if !matchHeader(filter, it.WarehouseID, it.EmployeeID) {
			continue
		}
		out = append(out, it.domain())
	}
	return out, nil
}

func (s *BranchStore) InsertReceipt(ctx context.Context, receipt domain.ReceiptHeader) (*domain.ReceiptHeader, error) {
	if err := s.schema.Validate(receipt); err != nil {
		return nil, err
	}
	c := schema.MustLookup(schema.ReceiptCollection(receipt.Type))
	key, err := c.Key(receipt.ReceiptID)
	if err != nil {
		return nil, err
	}
	receipt.CreatedAt = s.now()
	err = s.putNew(ctx, receiptItem{
		PK:          receiptPK(receipt.Type),
		SK:          key,
		Type:        string(receipt.Type),
		ReceiptID:   receipt.ReceiptID,
		Date:        receipt.Date,
		Counterpart: receipt.Counterpart,
		EmployeeID:  receipt.EmployeeID,
		WarehouseID: receipt.WarehouseID,
		CreatedAt:   receipt.CreatedAt,
	})
	if isConditionFailed(err) {
		return nil, c.Duplicate(key)
	}
	if err != nil {
		return nil, err
	}
	return &receipt, nil
}

func (s *BranchStore) GetReceipt(ctx context.Context, typ domain.ReceiptType, receiptID string) (*domain.ReceiptHeader, error) {
	if !typ.Valid() {
		return nil, store.NewInvalidRecord("unknown receipt type %q", typ)
	}
	c := schema.MustLookup(schema.ReceiptCollection(typ))
	key, err := c.Key(receiptID)
	if err != nil {
		return nil, err
	}
	var it receiptItem
	found, err := s.get(ctx, receiptPK(typ), key, &it)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, c.NotFound(key)
	}
	out := it.domain()
	return &out, nil
}

func (s *BranchStore) ListReceipts(ctx context.Context, typ domain.ReceiptType, filter domain.HeaderFilter) ([]domain.ReceiptHeader, error) {
	if !typ.Valid() {
		return nil, store.NewInvalidRecord("unknown receipt type %q", typ)
	}
	raw, err := s.query(ctx, receiptPK(typ), "")
	if err != nil {
		return nil, err
	}
	var items []receiptItem
	if err := attributevalue.UnmarshalListOfMaps(raw, &items); err != nil {
		return nil, fmt.Errorf("dynamo: unmarshal receipts: %w", err)
	}
	out := make([]domain.ReceiptHeader, 0, len(items))
	for _, it := range items {
		if !matchHeader(filter, it.WarehouseID, it.EmployeeID) {
			continue
		}
		out = append(out, it.domain())
	}
	return out, nil
}

func (s *BranchStore) GetDetail(ctx context.Context, kind domain.DetailKind, key domain.DetailKey) (*domain.DetailLine, error) {
	if !kind.Valid() {
		return nil, store.NewInvalidRecord("unknown detail kind %q", kind)
	}
	c, k, err := schema.DetailKey(kind, key)
	if err != nil {
		return nil, err
	}
	var it detailItem
	found, err := s.get(ctx, detailPK(kind), k, &it)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, c.NotFound(k)
	}
	out, err := it.domain()
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *BranchStore) ListDetails(ctx context.Context, kind domain.DetailKind, parentID string) ([]domain.DetailLine, error) {
	if !kind.Valid() {
		return nil, store.NewInvalidRecord("unknown detail kind %q", kind)
	}
	prefix := ""
	if parentID != "" {
		prefix = schema.MustLookup(schema.DetailCollection(kind)).Prefix(parentID)
	}
	raw, err := s.query(ctx, detailPK(kind), prefix)
	if err != nil {
		return nil, err
	}
	var items []detailItem
	if err := attributevalue.UnmarshalListOfMaps(raw, &items); err != nil {
		return nil, fmt.Errorf("dynamo: unmarshal details: %w", err)
	}
	out := make([]domain.DetailLine, 0, len(items))
	for _, it := range items {
		line, err := it.domain()
		if err != nil {
			return nil, err
		}
		out = append(out, line)
	}
	return out, nil
}

func (s *BranchStore) GetInventory(ctx context.Context, warehouseID string, materialID string) (*domain.InventoryRow, error) {
	key, err := schema.InventoryKey(warehouseID, materialID)
	if err != nil {
		return nil, err
	}
	var it inventoryItem
	found, err := s.get(ctx, pkInventory, key, &it)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, schema.MustLookup(schema.Inventory).NotFound(key)
	}
	out := it.domain()
	return &out, nil
}

func (s *BranchStore) ListInventory(ctx context.Context, filter domain.InventoryFilter) ([]domain.InventoryRow, error) {
	prefix := ""
	if filter.WarehouseID != "" {
		prefix = schema.MustLookup(schema.Inventory).Prefix(filter.WarehouseID)
	}
	raw, err := s.query(ctx, pkInventory, prefix)
	if err != nil {
		return nil, err
	}
	var items []inventoryItem
	if err := attributevalue.UnmarshalListOfMaps(raw, &items); err != nil {
		return nil, fmt.Errorf("dynamo: unmarshal inventory: %w", err)
	}
	out := make([]domain.InventoryRow, 0, len(items))
	for _, it := range items {
		if filter.MaterialID != "" && it.MaterialID != filter.MaterialID {
			continue
		}
		out = append(out, it.domain())
	}
	return out, nil
}

func (s *BranchStore) SwapInventory(ctx context.Context, row domain.InventoryRow, expectedVersion int64) (*domain.InventoryRow, error) {
	if err := s.schema.Validate(row); err != nil {
		return nil, err
	}
	key, err := schema.InventoryKey(row.WarehouseID, row.MaterialID)
	if err != nil {
		return nil, err
	}
	row.Version = expectedVersion + 1
	row.UpdatedAt = s.now()

	av, err := attributevalue.MarshalMap(inventoryItem{
		PK:          pkInventory,
		SK:          key,
		WarehouseID: row.WarehouseID,
		MaterialID:  row.MaterialID,
		Quantity:    row.Quantity,
		Version:     row.Version,
		UpdatedAt:   row.UpdatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("dynamo: marshal: %w", err)
	}

	input := &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(pk)"),
	}
	if expectedVersion != 0 {
		input.ConditionExpression = aws.String("#version = :expected")
		input.ExpressionAttributeNames = map[string]string{"#version": "version"}
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":expected": numberValue(expectedVersion),
		}
	}
	if _, err := s.client.PutItem(ctx, input); err != nil {
		if isConditionFailed(err) {
			return nil, store.ErrVersionConflict
		}
		return nil, err
	}
	return &row, nil
}

func numberValue(n int64) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}

func matchHeader(filter domain.HeaderFilter, warehouseID string, employeeID string) bool {
	if filter.WarehouseID != "" && filter.WarehouseID != warehouseID {
		return false
	}
	if filter.EmployeeID != "" && filter.EmployeeID != employeeID {
		return false
	}
	return true
}
