package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"time-agent/internal/domain"
)

const (
	pkPrefixProfile = "PROFILE#"
	skProfile       = "PROFILE#"
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// Client wraps a DynamoDB table holding user profiles or task results.
// Profiles and tasks may share a table; their partition keys never collide.
type Client struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName, now: time.Now}, nil
}

func profilePK(handle string) string {
	return pkPrefixProfile + strings.ToLower(strings.TrimSpace(handle))
}

// Lookup returns the profile stored for handle. Handles are case-insensitive.
func (c *Client) Lookup(ctx context.Context, handle string) (domain.UserProfile, bool, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: profilePK(handle)},
			"SK": &types.AttributeValueMemberS{Value: skProfile},
		},
	})
	if err != nil {
		return domain.UserProfile{}, false, fmt.Errorf("repository: Lookup get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.UserProfile{}, false, nil
	}
	p, err := itemToProfile(out.Item)
	if err != nil {
		return domain.UserProfile{}, false, fmt.Errorf("repository: Lookup decode: %w", err)
	}
	return p, true, nil
}

// PutProfile writes or replaces a profile. Profiles do not expire.
func (c *Client) PutProfile(ctx context.Context, p domain.UserProfile) error {
	if strings.TrimSpace(p.User) == "" || strings.TrimSpace(p.Timezone) == "" {
		return errors.New("repository: PutProfile: user and timezone are required")
	}
	item := map[string]types.AttributeValue{
		"PK":       &types.AttributeValueMemberS{Value: profilePK(p.User)},
		"SK":       &types.AttributeValueMemberS{Value: skProfile},
		"user":     &types.AttributeValueMemberS{Value: p.User},
		"timezone": &types.AttributeValueMemberS{Value: p.Timezone},
	}
	if p.FullName != "" {
		item["fullName"] = &types.AttributeValueMemberS{Value: p.FullName}
	}
	if _, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("repository: PutProfile: %w", err)
	}
	return nil
}

func itemToProfile(item map[string]types.AttributeValue) (domain.UserProfile, error) {
	user, err := strAttr(item, "user")
	if err != nil {
		return domain.UserProfile{}, err
	}
	tz, err := strAttr(item, "timezone")
	if err != nil {
		return domain.UserProfile{}, err
	}
	fullName, _ := strAttr(item, "fullName") // optional
	return domain.UserProfile{User: user, Timezone: tz, FullName: fullName}, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
