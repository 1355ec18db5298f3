package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/rs/zerolog"

	"branchstock/backend/internal/config"
	"branchstock/backend/internal/partition"
	"branchstock/backend/internal/store/dynamo"
	"branchstock/backend/internal/store/memory"
	pgstore "branchstock/backend/internal/store/postgres"
)

// buildPartitions opens the shared partition and one store per configured
// branch. On failure every database opened so far is closed again.
func buildPartitions(ctx context.Context, cfg config.Config, log zerolog.Logger) (_ partition.Config, err error) {
	var opened []*sql.DB
	defer func() {
		if err != nil {
			for _, db := range opened {
				_ = db.Close()
			}
		}
	}()
	out := partition.Config{Branches: make(map[string]partition.BranchPartition, len(cfg.Branches))}

	if cfg.SharedDatabaseURL != "" {
		db, err := openPostgres(ctx, cfg.SharedDatabaseURL, pgstore.ScopeShared, cfg.RunMigrations)
		if err != nil {
			return partition.Config{}, fmt.Errorf("shared partition: %w", err)
		}
		opened = append(opened, db)
		out.Shared = partition.SharedPartition{Name: "shared", Store: pgstore.NewReference(db)}
		log.Info().Str("partition", "shared").Str("backend", config.BackendPostgres).Msg("partition ready")
	} else {
		out.Shared = partition.SharedPartition{Name: "shared", Store: memory.NewReference()}
		log.Info().Str("partition", "shared").Str("backend", config.BackendMemory).Msg("partition ready")
	}

	var ddb *dynamodb.Client
	for _, b := range cfg.Branches {
		name := "branch-" + b.Code
		switch b.Backend {
		case config.BackendPostgres:
			db, err := openPostgres(ctx, b.DatabaseURL, pgstore.ScopeBranch, cfg.RunMigrations)
			if err != nil {
				return partition.Config{}, fmt.Errorf("branch %s: %w", b.Code, err)
			}
			opened = append(opened, db)
			out.Branches[b.Code] = partition.BranchPartition{Name: name, Store: pgstore.NewBranch(db)}
		case config.BackendDynamo:
			if ddb == nil {
				client, err := newDynamoClient(ctx, cfg)
				if err != nil {
					return partition.Config{}, err
				}
				ddb = client
			}
			if err := dynamo.EnsureTable(ctx, ddb, b.DynamoTable); err != nil {
				return partition.Config{}, fmt.Errorf("branch %s: %w", b.Code, err)
			}
			out.Branches[b.Code] = partition.BranchPartition{Name: name, Store: dynamo.NewBranch(ddb, b.DynamoTable).WithLogger(log)}
		default:
			out.Branches[b.Code] = partition.BranchPartition{Name: name, Store: memory.NewBranch()}
		}
		log.Info().Str("partition", name).Str("backend", b.Backend).Msg("partition ready")
	}
	return out, nil
}

func openPostgres(ctx context.Context, url string, scope pgstore.Scope, migrate bool) (*sql.DB, error) {
	db, err := pgstore.Open(ctx, url)
	if err != nil {
		return nil, err
	}
	if migrate {
		if err := pgstore.Migrate(ctx, db, scope); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return db, nil
}

func newDynamoClient(ctx context.Context, cfg config.Config) (*dynamodb.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.DynamoEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.DynamoEndpoint)
		}
	}), nil
}
