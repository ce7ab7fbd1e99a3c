package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// dynamoAPI is the part of *dynamodb.Client the ledger uses.
type dynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoLedger stores one item per (event, product) pair, keyed by
// "ledger_key". Claims are conditional puts so only the first one wins.
type DynamoLedger struct {
	client    dynamoAPI
	tableName string
	ttl       time.Duration
}

type dynamoLedgerItem struct {
	LedgerKey string `dynamodbav:"ledger_key"`
	EventID   string `dynamodbav:"event_id"`
	ProductID string `dynamodbav:"product_id"`
	AppliedAt string `dynamodbav:"applied_at"`
	ExpiresAt int64  `dynamodbav:"expires_at"`
}

func NewDynamoLedger(client *dynamodb.Client, tableName string) *DynamoLedger {
	return newDynamoLedger(client, tableName)
}

func newDynamoLedger(client dynamoAPI, tableName string) *DynamoLedger {
	return &DynamoLedger{client: client, tableName: tableName, ttl: 7 * 24 * time.Hour}
}

func (l *DynamoLedger) Claim(ctx context.Context, eventID, productID string) (bool, error) {
	now := time.Now().UTC()
	item := dynamoLedgerItem{
		LedgerKey: ledgerKey(eventID, productID),
		EventID:   eventID,
		ProductID: productID,
		AppliedAt: now.Format(time.RFC3339Nano),
		ExpiresAt: now.Add(l.ttl).Unix(),
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return false, fmt.Errorf("failed to marshal ledger item: %w", err)
	}

	_, err = l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(l.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(ledger_key)"),
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to put ledger item: %w", err)
	}
	return true, nil
}

func (l *DynamoLedger) Release(ctx context.Context, eventID, productID string) error {
	_, err := l.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(l.tableName),
		Key: map[string]types.AttributeValue{
			"ledger_key": &types.AttributeValueMemberS{Value: ledgerKey(eventID, productID)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete ledger item: %w", err)
	}
	return nil
}
