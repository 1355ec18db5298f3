package dynamo

import (
	"context"
	"os"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/google/uuid"

	"branchstock/backend/internal/store"
	"branchstock/backend/internal/store/storetest"
)

// Runs against DynamoDB Local, e.g. `docker run -p 8000:8000 amazon/dynamodb-local`.
func TestBranchStoreE2E(t *testing.T) {
	endpoint := os.Getenv("BRANCHSTOCK_TEST_DYNAMO_ENDPOINT")
	if endpoint == "" {
		t.Skip("set BRANCHSTOCK_TEST_DYNAMO_ENDPOINT to run dynamodb integration test")
	}

	ctx := context.Background()
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("local", "local", "")),
	)
	if err != nil {
		t.Fatalf("load aws config: %v", err)
	}
	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})

	storetest.RunBranchStore(t, func(t *testing.T) store.BranchStore {
		table := "branchstock-e2e-" + uuid.NewString()[:8]
		if err := EnsureTable(ctx, client, table); err != nil {
			t.Fatalf("ensure table: %v", err)
		}
		t.Cleanup(func() {
			_, _ = client.DeleteTable(context.Background(), &dynamodb.DeleteTableInput{TableName: aws.String(table)})
		})
		return NewBranch(client, table)
	})
}
