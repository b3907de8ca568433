package store

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Dynamo implements Store on a single DynamoDB table with a composite
// (pk, sk) key. All record kinds share the table, separated by pk prefix.
type Dynamo struct {
	client *dynamodb.Client
	table  string
}

// NewDynamo wraps a DynamoDB client and table name.
func NewDynamo(client *dynamodb.Client, table string) *Dynamo {
	return &Dynamo{client: client, table: table}
}

func dynamoKey(pk, sk string) map[string]dbtypes.AttributeValue {
	return map[string]dbtypes.AttributeValue{
		"pk": &dbtypes.AttributeValueMemberS{Value: pk},
		"sk": &dbtypes.AttributeValueMemberS{Value: sk},
	}
}

func (d *Dynamo) Get(ctx context.Context, pk, sk string) (map[string]any, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.table),
		Key:            dynamoKey(pk, sk),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get item %s/%s: %w", pk, sk, err)
	}
	if out.Item == nil {
		return nil, ErrItemNotFound
	}
	return itemToDoc(out.Item)
}

func (d *Dynamo) Put(ctx context.Context, pk, sk string, doc map[string]any) error {
	item, err := docToItem(pk, sk, doc)
	if err != nil {
		return err
	}
	if _, err := d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.table),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("failed to put item %s/%s: %w", pk, sk, err)
	}
	return nil
}

func (d *Dynamo) ConditionalUpdate(ctx context.Context, pk, sk string, expectedVersion int64, doc map[string]any) error {
	item, err := docToItem(pk, sk, doc)
	if err != nil {
		return err
	}

	cond := expression.And(
		expression.AttributeExists(expression.Name("pk")),
		expression.Name("version").Equal(expression.Value(expectedVersion)),
	)
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return fmt.Errorf("failed to build condition expression: %w", err)
	}

	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(d.table),
		Item:                      item,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		var ccf *dbtypes.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			// The condition does not say which clause failed; one follow-up
			// read distinguishes a lost race from a deleted record.
			if _, getErr := d.Get(ctx, pk, sk); errors.Is(getErr, ErrItemNotFound) {
				return ErrItemNotFound
			}
			return ErrVersionMismatch
		}
		return fmt.Errorf("failed to conditionally update item %s/%s: %w", pk, sk, err)
	}
	return nil
}

func (d *Dynamo) Query(ctx context.Context, pkPrefix string, page Page) ([]map[string]any, string, error) {
	filter := expression.BeginsWith(expression.Name("pk"), pkPrefix)
	expr, err := expression.NewBuilder().WithFilter(filter).Build()
	if err != nil {
		return nil, "", fmt.Errorf("failed to build filter expression: %w", err)
	}

	input := &dynamodb.ScanInput{
		TableName:                 aws.String(d.table),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}
	if page.Limit > 0 {
		input.Limit = aws.Int32(int32(page.Limit))
	}
	if page.Token != "" {
		start, err := decodePageToken(page.Token)
		if err != nil {
			return nil, "", err
		}
		input.ExclusiveStartKey = start
	}

	out, err := d.client.Scan(ctx, input)
	if err != nil {
		return nil, "", fmt.Errorf("failed to scan %s items: %w", pkPrefix, err)
	}

	docs := make([]map[string]any, 0, len(out.Items))
	for _, item := range out.Items {
		doc, err := itemToDoc(item)
		if err != nil {
			return nil, "", err
		}
		docs = append(docs, doc)
	}

	next := ""
	if len(out.LastEvaluatedKey) > 0 {
		next, err = encodePageToken(out.LastEvaluatedKey)
		if err != nil {
			return nil, "", err
		}
	}
	return docs, next, nil
}

func (d *Dynamo) Delete(ctx context.Context, pk, sk string) error {
	if _, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.table),
		Key:       dynamoKey(pk, sk),
	}); err != nil {
		return fmt.Errorf("failed to delete item %s/%s: %w", pk, sk, err)
	}
	return nil
}

func docToItem(pk, sk string, doc map[string]any) (map[string]dbtypes.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal item %s/%s: %w", pk, sk, err)
	}
	item["pk"] = &dbtypes.AttributeValueMemberS{Value: pk}
	item["sk"] = &dbtypes.AttributeValueMemberS{Value: sk}
	return item, nil
}

func itemToDoc(item map[string]dbtypes.AttributeValue) (map[string]any, error) {
	var doc map[string]any
	if err := attributevalue.UnmarshalMap(item, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal item: %w", err)
	}
	delete(doc, "pk")
	delete(doc, "sk")
	return doc, nil
}

func encodePageToken(key map[string]dbtypes.AttributeValue) (string, error) {
	var plain map[string]any
	if err := attributevalue.UnmarshalMap(key, &plain); err != nil {
		return "", fmt.Errorf("failed to encode page token: %w", err)
	}
	raw, err := json.Marshal(plain)
	if err != nil {
		return "", fmt.Errorf("failed to encode page token: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func decodePageToken(token string) (map[string]dbtypes.AttributeValue, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("invalid page token: %w", err)
	}
	var plain map[string]any
	if err := json.Unmarshal(raw, &plain); err != nil {
		return nil, fmt.Errorf("invalid page token: %w", err)
	}
	key, err := attributevalue.MarshalMap(plain)
	if err != nil {
		return nil, fmt.Errorf("invalid page token: %w", err)
	}
	return key, nil
}
