package dynamo

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"branchstock/backend/internal/domain"
	"branchstock/backend/internal/store"
)

func testMutation(op store.DetailOp, guarded bool) store.DetailMutation {
	return store.DetailMutation{
		Op: op,
		Line: domain.DetailLine{
			Kind:       domain.DetailOrder,
			ParentID:   "DH001",
			MaterialID: "VT01",
			Quantity:   4,
			UnitPrice:  decimal.RequireFromString("3.75"),
		},
		ExpectedVersion: 2,
		Ledger:          store.LedgerChange{WarehouseID: "K1", MaterialID: "VT01", Delta: -4, Guarded: guarded},
	}
}

func canceled(reasons ...types.CancellationReason) error {
	return &types.TransactionCanceledException{CancellationReasons: reasons}
}

func TestBuildTransactionInsert(t *testing.T) {
	s := NewBranch(nil, "branch-cn1")
	items, err := s.buildTransaction(testMutation(store.DetailInsert, true), time.Unix(0, 0).UTC())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected detail and inventory items, got %d", len(items))
	}
	put := items[detailIndex].Put
	if put == nil || aws.ToString(put.ConditionExpression) != "attribute_not_exists(pk)" {
		t.Fatalf("expected conditional put, got %+v", items[detailIndex])
	}
	price, ok := put.Item["unit_price"].(*types.AttributeValueMemberS)
	if !ok || price.Value != "3.75" {
		t.Fatalf("expected decimal string price, got %#v", put.Item["unit_price"])
	}
	update := items[inventoryIndex].Update
	if update == nil || aws.ToString(update.ConditionExpression) != "qty >= :need" {
		t.Fatalf("expected guarded inventory update, got %+v", items[inventoryIndex])
	}
	need := update.ExpressionAttributeValues[":need"].(*types.AttributeValueMemberN)
	if need.Value != "4" {
		t.Fatalf("expected need 4, got %s", need.Value)
	}
}

func TestBuildTransactionSkipsZeroDelta(t *testing.T) {
	s := NewBranch(nil, "branch-cn1")
	m := testMutation(store.DetailUpdate, false)
	m.Ledger.Delta = 0
	items, err := s.buildTransaction(m, time.Now())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(items) != 1 || items[0].Update == nil {
		t.Fatalf("expected a single detail update, got %+v", items)
	}
	expected := items[0].Update.ExpressionAttributeValues[":expected"].(*types.AttributeValueMemberN)
	if expected.Value != "2" {
		t.Fatalf("expected version guard 2, got %s", expected.Value)
	}
}

func TestBuildTransactionUnguardedHasNoCondition(t *testing.T) {
	s := NewBranch(nil, "branch-cn1")
	m := testMutation(store.DetailDelete, false)
	m.Ledger.Delta = 4
	items, err := s.buildTransaction(m, time.Now())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if items[detailIndex].Delete == nil {
		t.Fatalf("expected delete item")
	}
	if items[inventoryIndex].Update.ConditionExpression != nil {
		t.Fatalf("unguarded change must not carry a condition")
	}
}

func TestMapApplyError(t *testing.T) {
	s := NewBranch(nil, "branch-cn1")
	failed := aws.String("ConditionalCheckFailed")
	none := aws.String("None")
	stock := map[string]types.AttributeValue{"qty": &types.AttributeValueMemberN{Value: "1"}}
	existing := map[string]types.AttributeValue{"version": &types.AttributeValueMemberN{Value: "3"}}

	tests := []struct {
		name string
		op   store.DetailOp
		err  error
		want error
	}{
		{"duplicate insert", store.DetailInsert, canceled(types.CancellationReason{Code: failed}, types.CancellationReason{Code: none}), store.ErrDuplicateKey},
		{"update of missing line", store.DetailUpdate, canceled(types.CancellationReason{Code: failed}), store.ErrNotFound},
		{"update of stale line", store.DetailUpdate, canceled(types.CancellationReason{Code: failed, Item: existing}), store.ErrVersionConflict},
		{"insufficient stock", store.DetailInsert, canceled(types.CancellationReason{Code: none}, types.CancellationReason{Code: failed, Item: stock}), store.ErrInsufficientStock},
		{"transaction conflict", store.DetailDelete, canceled(types.CancellationReason{Code: aws.String("TransactionConflict")}), store.ErrVersionConflict},
		{"conflict exception", store.DetailDelete, &types.TransactionConflictException{}, store.ErrVersionConflict},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := s.mapApplyError(tc.err, testMutation(tc.op, true))
			if !errors.Is(got, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}

	got := s.mapApplyError(canceled(types.CancellationReason{Code: none}, types.CancellationReason{Code: failed, Item: stock}), testMutation(store.DetailInsert, true))
	var insufficient *store.InsufficientStockError
	if !errors.As(got, &insufficient) || insufficient.Available != 1 || insufficient.Requested != 4 {
		t.Fatalf("unexpected insufficient stock detail: %v", got)
	}

	plain := errors.New("throttled")
	if got := s.mapApplyError(plain, testMutation(store.DetailInsert, true)); got != plain {
		t.Fatalf("expected unrelated errors to pass through, got %v", got)
	}
}

// readFailClient commits every transaction and fails every read.
type readFailClient struct {
	Client
	transactions int
}

func (c *readFailClient) TransactWriteItems(context.Context, *dynamodb.TransactWriteItemsInput, ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	c.transactions++
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func (c *readFailClient) GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return nil, errors.New("ProvisionedThroughputExceededException")
}

func TestApplyDetailSucceedsWhenReadBackFails(t *testing.T) {
	client := &readFailClient{}
	var logs bytes.Buffer
	s := NewBranch(client, "branch-cn1").WithLogger(zerolog.New(&logs))

	applied, err := s.ApplyDetail(context.Background(), testMutation(store.DetailInsert, true))
	if err != nil {
		t.Fatalf("committed unit must not fail: %v", err)
	}
	if client.transactions != 1 {
		t.Fatalf("expected one transaction, got %d", client.transactions)
	}
	if applied.Line.Version != 1 || applied.Line.MaterialID != "VT01" {
		t.Fatalf("unexpected line %+v", applied.Line)
	}
	if applied.Inventory.WarehouseID != "K1" || applied.Inventory.MaterialID != "VT01" {
		t.Fatalf("expected inventory key to be kept, got %+v", applied.Inventory)
	}
	if !strings.Contains(logs.String(), "inventory read-back failed after commit") {
		t.Fatalf("expected a warning, got %q", logs.String())
	}
}

func TestMapApplyErrorUndecodableStockImage(t *testing.T) {
	var logs bytes.Buffer
	s := NewBranch(nil, "branch-cn1").WithLogger(zerolog.New(&logs))
	bad := map[string]types.AttributeValue{"qty": &types.AttributeValueMemberS{Value: "lots"}}

	got := s.mapApplyError(
		canceled(types.CancellationReason{Code: aws.String("None")}, types.CancellationReason{Code: aws.String("ConditionalCheckFailed"), Item: bad}),
		testMutation(store.DetailInsert, true),
	)
	var insufficient *store.InsufficientStockError
	if !errors.As(got, &insufficient) {
		t.Fatalf("expected insufficient stock, got %v", got)
	}
	if insufficient.Available != 0 || insufficient.Requested != 4 {
		t.Fatalf("unexpected detail %+v", insufficient)
	}
	if !strings.Contains(logs.String(), "decode inventory image") {
		t.Fatalf("expected the decode failure to be logged, got %q", logs.String())
	}
}
