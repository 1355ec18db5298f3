// Package dynamo stores a branch partition in a single DynamoDB table.
//
// Item layout (pk / sk):
//
//	order                      / order id
//	receipt#<type>             / receipt id
//	detail#<kind>              / parent id, material id
//	inventory                  / warehouse id, material id
//
// Compound sort keys use the schema key encoding so a parent or warehouse
// prefix can be queried with begins_with.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"

	"branchstock/backend/internal/domain"
)

// Client is the subset of *dynamodb.Client the store uses.
type Client interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	CreateTable(ctx context.Context, in *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

var _ Client = (*dynamodb.Client)(nil)

const (
	pkOrder     = "order"
	pkInventory = "inventory"
)

func receiptPK(typ domain.ReceiptType) string {
	return "receipt#" + string(typ)
}

func detailPK(kind domain.DetailKind) string {
	return "detail#" + string(kind)
}

func itemKey(pk string, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: pk},
		"sk": &types.AttributeValueMemberS{Value: sk},
	}
}

// EnsureTable creates the branch table when it does not exist and waits
// until it is active.
func EnsureTable(ctx context.Context, client Client, table string) error {
	_, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)})
	if err == nil {
		return nil
	}
	var notFound *types.ResourceNotFoundException
	if !errors.As(err, &notFound) {
		return fmt.Errorf("dynamo: describe %s: %w", table, err)
	}

	_, err = client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(table),
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("pk"), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String("sk"), KeyType: types.KeyTypeRange},
		},
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("pk"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("sk"), AttributeType: types.ScalarAttributeTypeS},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	var inUse *types.ResourceInUseException
	if err != nil && !errors.As(err, &inUse) {
		return fmt.Errorf("dynamo: create %s: %w", table, err)
	}

	waiter := dynamodb.NewTableExistsWaiter(client)
	return waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)}, 2*time.Minute)
}

type orderItem struct {
	PK          string    `dynamodbav:"pk"`
	SK          string    `dynamodbav:"sk"`
	OrderID     string    `dynamodbav:"order_id"`
	Date        time.Time `dynamodbav:"order_date"`
	Supplier    string    `dynamodbav:"supplier"`
	EmployeeID  string    `dynamodbav:"employee_id"`
	WarehouseID string    `dynamodbav:"warehouse_id"`
	CreatedAt   time.Time `dynamodbav:"created_at"`
}

func (it orderItem) domain() domain.OrderHeader {
	return domain.OrderHeader{
		OrderID:     it.OrderID,
		Date:        it.Date,
		Supplier:    it.Supplier,
		EmployeeID:  it.EmployeeID,
		WarehouseID: it.WarehouseID,
		CreatedAt:   it.CreatedAt,
	}
}

type receiptItem struct {
	PK          string    `dynamodbav:"pk"`
	SK          string    `dynamodbav:"sk"`
	Type        string    `dynamodbav:"type"`
	ReceiptID   string    `dynamodbav:"receipt_id"`
	Date        time.Time `dynamodbav:"receipt_date"`
	Counterpart string    `dynamodbav:"counterpart"`
	EmployeeID  string    `dynamodbav:"employee_id"`
	WarehouseID string    `dynamodbav:"warehouse_id"`
	CreatedAt   time.Time `dynamodbav:"created_at"`
}

func (it receiptItem) domain() domain.ReceiptHeader {
	return domain.ReceiptHeader{
		Type:        domain.ReceiptType(it.Type),
		ReceiptID:   it.ReceiptID,
		Date:        it.Date,
		Counterpart: it.Counterpart,
		EmployeeID:  it.EmployeeID,
		WarehouseID: it.WarehouseID,
		CreatedAt:   it.CreatedAt,
	}
}

// detailItem keeps the unit price as a decimal string to avoid float drift.
type detailItem struct {
	PK         string    `dynamodbav:"pk"`
	SK         string    `dynamodbav:"sk"`
	Kind       string    `dynamodbav:"kind"`
	ParentID   string    `dynamodbav:"parent_id"`
	MaterialID string    `dynamodbav:"material_id"`
	Quantity   int64     `dynamodbav:"quantity"`
	UnitPrice  string    `dynamodbav:"unit_price"`
	Version    int64     `dynamodbav:"version"`
	CreatedAt  time.Time `dynamodbav:"created_at"`
	UpdatedAt  time.Time `dynamodbav:"updated_at"`
}

func (it detailItem) domain() (domain.DetailLine, error) {
	price, err := decimal.NewFromString(it.UnitPrice)
	if err != nil {
		return domain.DetailLine{}, fmt.Errorf("dynamo: unit price of %s/%s: %w", it.ParentID, it.MaterialID, err)
	}
	return domain.DetailLine{
		Kind:       domain.DetailKind(it.Kind),
		ParentID:   it.ParentID,
		MaterialID: it.MaterialID,
		Quantity:   it.Quantity,
		UnitPrice:  price,
		Version:    it.Version,
		CreatedAt:  it.CreatedAt,
		UpdatedAt:  it.UpdatedAt,
	}, nil
}

type inventoryItem struct {
	PK          string    `dynamodbav:"pk"`
	SK          string    `dynamodbav:"sk"`
	WarehouseID string    `dynamodbav:"warehouse_id"`
	MaterialID  string    `dynamodbav:"material_id"`
	Quantity    int64     `dynamodbav:"qty"`
	Version     int64     `dynamodbav:"version"`
	UpdatedAt   time.Time `dynamodbav:"updated_at"`
}

func (it inventoryItem) domain() domain.InventoryRow {
	return domain.InventoryRow{
		WarehouseID: it.WarehouseID,
		MaterialID:  it.MaterialID,
		Quantity:    it.Quantity,
		Version:     it.Version,
		UpdatedAt:   it.UpdatedAt,
	}
}
