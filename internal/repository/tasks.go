package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"time-agent/internal/domain"
)

const (
	pkPrefixTask = "TASK#"
	skTask       = "TASK#"
	ttlDuration  = 30 * 24 * time.Hour // 30-day TTL
)

func taskPK(id string) string {
	return pkPrefixTask + id
}

func (c *Client) ttlValue() int64 {
	return c.now().Add(ttlDuration).Unix()
}

// SaveTask persists a task result as a JSON document with a 30-day TTL.
func (c *Client) SaveTask(ctx context.Context, task domain.TaskResult) error {
	if task.ID == "" {
		return errors.New("repository: SaveTask: task id is required")
	}
	doc, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("repository: SaveTask marshal: %w", err)
	}
	if _, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item: map[string]types.AttributeValue{
			"PK":        &types.AttributeValueMemberS{Value: taskPK(task.ID)},
			"SK":        &types.AttributeValueMemberS{Value: skTask},
			"contextId": &types.AttributeValueMemberS{Value: task.ContextID},
			"state":     &types.AttributeValueMemberS{Value: task.Status.State},
			"document":  &types.AttributeValueMemberS{Value: string(doc)},
			"createdAt": &types.AttributeValueMemberS{Value: c.now().UTC().Format(time.RFC3339)},
			"ttl":       &types.AttributeValueMemberN{Value: strconv.FormatInt(c.ttlValue(), 10)},
		},
	}); err != nil {
		return fmt.Errorf("repository: SaveTask: %w", err)
	}
	return nil
}

// GetTask loads a previously saved task result.
func (c *Client) GetTask(ctx context.Context, id string) (domain.TaskResult, bool, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: taskPK(id)},
			"SK": &types.AttributeValueMemberS{Value: skTask},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.TaskResult{}, false, fmt.Errorf("repository: GetTask get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.TaskResult{}, false, nil
	}
	if ttl, err := intAttr(out.Item, "ttl"); err == nil && int64(ttl) < c.now().Unix() {
		// DynamoDB deletes expired items lazily.
		return domain.TaskResult{}, false, nil
	}
	doc, err := strAttr(out.Item, "document")
	if err != nil {
		return domain.TaskResult{}, false, fmt.Errorf("repository: GetTask: %w", err)
	}
	var task domain.TaskResult
	if err := json.Unmarshal([]byte(doc), &task); err != nil {
		return domain.TaskResult{}, false, fmt.Errorf("repository: GetTask unmarshal: %w", err)
	}
	return task, true, nil
}
