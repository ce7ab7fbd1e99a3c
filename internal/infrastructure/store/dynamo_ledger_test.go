package store

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDynamo honours attribute_not_exists on the ledger key.
type fakeDynamo struct {
	items   map[string]bool
	puts    []*dynamodb.PutItemInput
	deletes []*dynamodb.DeleteItemInput
}

func (f *fakeDynamo) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.puts = append(f.puts, in)
	key := in.Item["ledger_key"].(*types.AttributeValueMemberS).Value
	if f.items[key] {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("exists")}
	}
	f.items[key] = true
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.deletes = append(f.deletes, in)
	key := in.Key["ledger_key"].(*types.AttributeValueMemberS).Value
	delete(f.items, key)
	return &dynamodb.DeleteItemOutput{}, nil
}

func TestDynamoLedger_Claim(t *testing.T) {
	ctx := context.Background()
	fake := &fakeDynamo{items: map[string]bool{}}
	l := newDynamoLedger(fake, "ledger")

	ok, err := l.Claim(ctx, "e1", "p1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.Claim(ctx, "e1", "p1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.Len(t, fake.puts, 2)
	assert.Equal(t, "ledger", *fake.puts[0].TableName)
	assert.Equal(t, "attribute_not_exists(ledger_key)", *fake.puts[0].ConditionExpression)
	assert.Equal(t, "e1|p1", fake.puts[0].Item["ledger_key"].(*types.AttributeValueMemberS).Value)
}

func TestDynamoLedger_Release(t *testing.T) {
	ctx := context.Background()
	fake := &fakeDynamo{items: map[string]bool{}}
	l := newDynamoLedger(fake, "ledger")

	_, _ = l.Claim(ctx, "e1", "p1")
	require.NoError(t, l.Release(ctx, "e1", "p1"))

	ok, err := l.Claim(ctx, "e1", "p1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, fake.deletes, 1)
}
