// Package dynamostore implements docstore.Store on a single DynamoDB table.
//
// Items are keyed by pk = "<database>/<collection>" and sk = document id, so
// a collection is one partition and Query returns it in id order. Values are
// stored as a binary attribute and posting-list members as a string set.
package dynamostore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/docsql/docsql/internal/docstore"
)

const (
	defaultPageSize = 1000
	batchGetLimit   = 100
	batchWriteLimit = 25
)

// API is the subset of the DynamoDB client the store uses.
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, opts ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	BatchGetItem(ctx context.Context, in *dynamodb.BatchGetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

func init() {
	docstore.Register("dynamodb", func(ctx context.Context, cfg docstore.Config) (docstore.Store, error) {
		dc := cfg.DynamoDB
		if dc.Table == "" {
			return nil, fmt.Errorf("dynamodb table is required")
		}
		region := dc.Region
		if region == "" {
			region = "us-east-1"
		}

		loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
		// Override credentials if provided
		if dc.AccessKeyID != "" && dc.SecretAccessKey != "" {
			loadOpts = append(loadOpts, config.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(dc.AccessKeyID, dc.SecretAccessKey, "")))
		}
		awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}

		var clientOpts []func(*dynamodb.Options)
		if dc.Endpoint != "" {
			// Custom endpoint (e.g., for DynamoDB Local)
			clientOpts = append(clientOpts, func(o *dynamodb.Options) {
				o.BaseEndpoint = aws.String(dc.Endpoint)
			})
		}
		client := dynamodb.NewFromConfig(awsCfg, clientOpts...)

		if err := EnsureTable(ctx, client, dc.Table); err != nil {
			return nil, err
		}
		return New(client, dc.Table), nil
	})
}

// EnsureTable creates the table with on-demand billing when it is missing
// and waits until it is active.
func EnsureTable(ctx context.Context, client *dynamodb.Client, table string) error {
	describeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := client.DescribeTable(describeCtx, &dynamodb.DescribeTableInput{TableName: aws.String(table)})
	if err == nil {
		return nil
	}
	var missing *types.ResourceNotFoundException
	if !errors.As(err, &missing) {
		return fmt.Errorf("failed to connect to DynamoDB table %s: %w", table, err)
	}

	_, err = client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(table),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("pk"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("sk"), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("pk"), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String("sk"), KeyType: types.KeyTypeRange},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		return fmt.Errorf("failed to create DynamoDB table %s: %w", table, err)
	}

	waiter := dynamodb.NewTableExistsWaiter(client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)}, 2*time.Minute); err != nil {
		return fmt.Errorf("DynamoDB table %s did not become active: %w", table, err)
	}
	return nil
}

// Store is a docstore.Store on one DynamoDB table.
type Store struct {
	client API
	table  string
}

// New returns a store on an existing table.
func New(client API, table string) *Store {
	return &Store{client: client, table: table}
}

// partitionKey names the partition holding a collection.
func partitionKey(database, name string) string {
	return database + "/" + name
}

// Collection returns a handle to the named collection.
func (s *Store) Collection(database, name string) docstore.Collection {
	return &collection{store: s, pk: partitionKey(database, name)}
}

// DropDatabase scans for the database's partitions and deletes their items.
func (s *Store) DropDatabase(ctx context.Context, database string) error {
	var start map[string]types.AttributeValue
	for {
		out, err := s.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:            aws.String(s.table),
			FilterExpression:     aws.String("begins_with(pk, :prefix)"),
			ProjectionExpression: aws.String("pk, sk"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":prefix": &types.AttributeValueMemberS{Value: database + "/"},
			},
			ExclusiveStartKey: start,
		})
		if err != nil {
			return fmt.Errorf("failed to scan database %s: %w", database, err)
		}
		if err := s.deleteKeys(ctx, out.Items); err != nil {
			return err
		}
		if len(out.LastEvaluatedKey) == 0 {
			return nil
		}
		start = out.LastEvaluatedKey
	}
}

// Close is a no-op for the HTTP-based client.
func (s *Store) Close(ctx context.Context) error {
	return nil
}

// deleteKeys removes the items whose keys are given, in BatchWriteItem
// chunks, resubmitting unprocessed requests.
func (s *Store) deleteKeys(ctx context.Context, keys []map[string]types.AttributeValue) error {
	for start := 0; start < len(keys); start += batchWriteLimit {
		chunk := keys[start:min(start+batchWriteLimit, len(keys))]
		requests := make([]types.WriteRequest, len(chunk))
		for i, key := range chunk {
			requests[i] = types.WriteRequest{DeleteRequest: &types.DeleteRequest{
				Key: map[string]types.AttributeValue{"pk": key["pk"], "sk": key["sk"]},
			}}
		}

		pending := map[string][]types.WriteRequest{s.table: requests}
		for attempt := 0; len(pending) > 0; attempt++ {
			out, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
			if err != nil {
				return fmt.Errorf("failed to delete items: %w", err)
			}
			pending = out.UnprocessedItems
			if len(pending) > 0 {
				if err := backoff(ctx, attempt); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// backoff sleeps before resubmitting unprocessed batch items.
func backoff(ctx context.Context, attempt int) error {
	delay := time.Duration(1<<min(attempt, 6)) * 50 * time.Millisecond
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

// itemFor builds the item stored for doc.
func itemFor(pk string, doc docstore.Document) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: pk},
		"sk": &types.AttributeValueMemberS{Value: doc.ID},
	}
	if doc.Value != nil {
		item["value"] = &types.AttributeValueMemberB{Value: doc.Value}
	}
	// String sets cannot be empty.
	if len(doc.Members) > 0 {
		item["members"] = &types.AttributeValueMemberSS{Value: doc.Members}
	}
	return item
}

// documentFrom decodes an item; members come back sorted.
func documentFrom(item map[string]types.AttributeValue) (docstore.Document, error) {
	var doc docstore.Document
	sk, ok := item["sk"].(*types.AttributeValueMemberS)
	if !ok {
		return doc, fmt.Errorf("item has no sort key")
	}
	doc.ID = sk.Value

	if attr, ok := item["value"]; ok {
		b, ok := attr.(*types.AttributeValueMemberB)
		if !ok {
			return doc, fmt.Errorf("item %s: value is not binary", doc.ID)
		}
		doc.Value = b.Value
	}
	if attr, ok := item["members"]; ok {
		ss, ok := attr.(*types.AttributeValueMemberSS)
		if !ok {
			return doc, fmt.Errorf("item %s: members is not a string set", doc.ID)
		}
		doc.Members = append([]string(nil), ss.Value...)
		sort.Strings(doc.Members)
	}
	return doc, nil
}

// memberCount reads the size of the members set from an item.
func memberCount(item map[string]types.AttributeValue) int {
	if ss, ok := item["members"].(*types.AttributeValueMemberSS); ok {
		return len(ss.Value)
	}
	return 0
}

type collection struct {
	store *Store
	pk    string
}

func (c *collection) key(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: c.pk},
		"sk": &types.AttributeValueMemberS{Value: id},
	}
}

func (c *collection) Insert(ctx context.Context, doc docstore.Document) error {
	_, err := c.store.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.store.table),
		Item:                itemFor(c.pk, doc),
		ConditionExpression: aws.String("attribute_not_exists(sk)"),
	})
	if isConditionFailed(err) {
		return fmt.Errorf("%w: %s", docstore.ErrDuplicateID, doc.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert item: %w", err)
	}
	return nil
}

func (c *collection) Replace(ctx context.Context, doc docstore.Document) error {
	_, err := c.store.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.store.table),
		Item:      itemFor(c.pk, doc),
	})
	if err != nil {
		return fmt.Errorf("failed to replace item: %w", err)
	}
	return nil
}

func (c *collection) FindOne(ctx context.Context, id string) (docstore.Document, error) {
	out, err := c.store.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.store.table),
		Key:            c.key(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return docstore.Document{}, fmt.Errorf("failed to get item: %w", err)
	}
	if out.Item == nil {
		return docstore.Document{}, docstore.ErrNotFound
	}
	return documentFrom(out.Item)
}

func (c *collection) Find(ctx context.Context, filter docstore.Filter, opts docstore.FindOptions) (docstore.Cursor, error) {
	pageSize := opts.BatchSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	if filter.All() {
		var start map[string]types.AttributeValue
		done := false
		return docstore.NewPagedCursor(func(ctx context.Context) ([]docstore.Document, error) {
			for !done {
				input := &dynamodb.QueryInput{
					TableName:              aws.String(c.store.table),
					KeyConditionExpression: aws.String("pk = :pk"),
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":pk": &types.AttributeValueMemberS{Value: c.pk},
					},
					ScanIndexForward:  aws.Bool(true),
					ConsistentRead:    aws.Bool(true),
					Limit:             aws.Int32(int32(pageSize)),
					ExclusiveStartKey: start,
				}
				if opts.IDsOnly {
					input.ProjectionExpression = aws.String("sk")
				}
				out, err := c.store.client.Query(ctx, input)
				if err != nil {
					return nil, fmt.Errorf("failed to query collection: %w", err)
				}
				start = out.LastEvaluatedKey
				done = len(start) == 0

				docs := make([]docstore.Document, 0, len(out.Items))
				for _, item := range out.Items {
					doc, err := documentFrom(item)
					if err != nil {
						return nil, err
					}
					docs = append(docs, doc)
				}
				if len(docs) > 0 {
					return docs, nil
				}
			}
			return nil, nil
		}), nil
	}

	ids := filter.SortedIDs()
	chunk := min(pageSize, batchGetLimit)
	return docstore.NewPagedCursor(func(ctx context.Context) ([]docstore.Document, error) {
		for len(ids) > 0 {
			n := min(chunk, len(ids))
			batch := ids[:n]
			ids = ids[n:]

			docs, err := c.batchGet(ctx, batch, opts.IDsOnly)
			if err != nil {
				return nil, err
			}
			if len(docs) > 0 {
				return docs, nil
			}
		}
		return nil, nil
	}), nil
}

// batchGet reads up to batchGetLimit ids and returns the found documents in
// id order.
func (c *collection) batchGet(ctx context.Context, ids []string, idsOnly bool) ([]docstore.Document, error) {
	keys := make([]map[string]types.AttributeValue, len(ids))
	for i, id := range ids {
		keys[i] = c.key(id)
	}
	ka := types.KeysAndAttributes{Keys: keys, ConsistentRead: aws.Bool(true)}
	if idsOnly {
		ka.ProjectionExpression = aws.String("sk")
	}

	var docs []docstore.Document
	pending := map[string]types.KeysAndAttributes{c.store.table: ka}
	for attempt := 0; len(pending) > 0; attempt++ {
		out, err := c.store.client.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{RequestItems: pending})
		if err != nil {
			return nil, fmt.Errorf("failed to batch get items: %w", err)
		}
		for _, item := range out.Responses[c.store.table] {
			doc, err := documentFrom(item)
			if err != nil {
				return nil, err
			}
			docs = append(docs, doc)
		}
		pending = out.UnprocessedKeys
		if len(pending) > 0 {
			if err := backoff(ctx, attempt); err != nil {
				return nil, err
			}
		}
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

func (c *collection) DeleteOne(ctx context.Context, id string) error {
	out, err := c.store.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    aws.String(c.store.table),
		Key:          c.key(id),
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	if len(out.Attributes) == 0 {
		return docstore.ErrNotFound
	}
	return nil
}

// DeleteMany deletes one item at a time; BatchWriteItem cannot report which
// items existed.
func (c *collection) DeleteMany(ctx context.Context, ids []string) (int64, error) {
	var deleted int64
	for _, id := range ids {
		err := c.DeleteOne(ctx, id)
		if errors.Is(err, docstore.ErrNotFound) {
			continue
		}
		if err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

func (c *collection) AddMember(ctx context.Context, id, member string) error {
	_, err := c.store.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(c.store.table),
		Key:              c.key(id),
		UpdateExpression: aws.String("ADD members :m"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":m": &types.AttributeValueMemberSS{Value: []string{member}},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}
	return nil
}

func (c *collection) RemoveMember(ctx context.Context, id, member string) (int, error) {
	out, err := c.store.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(c.store.table),
		Key:                 c.key(id),
		UpdateExpression:    aws.String("DELETE members :m"),
		ConditionExpression: aws.String("attribute_exists(sk)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":m": &types.AttributeValueMemberSS{Value: []string{member}},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if isConditionFailed(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to remove member: %w", err)
	}

	left := memberCount(out.Attributes)
	if left == 0 {
		// DynamoDB drops an emptied set; delete the entry unless it was refilled.
		_, err := c.store.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName:           aws.String(c.store.table),
			Key:                 c.key(id),
			ConditionExpression: aws.String("attribute_not_exists(members)"),
		})
		if err != nil && !isConditionFailed(err) {
			return 0, fmt.Errorf("failed to delete empty entry: %w", err)
		}
	}
	return left, nil
}

// Drop deletes every item in the collection's partition.
func (c *collection) Drop(ctx context.Context) error {
	var start map[string]types.AttributeValue
	for {
		out, err := c.store.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(c.store.table),
			KeyConditionExpression: aws.String("pk = :pk"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk": &types.AttributeValueMemberS{Value: c.pk},
			},
			ProjectionExpression: aws.String("pk, sk"),
			ExclusiveStartKey:    start,
		})
		if err != nil {
			return fmt.Errorf("failed to query collection: %w", err)
		}
		if err := c.store.deleteKeys(ctx, out.Items); err != nil {
			return err
		}
		if len(out.LastEvaluatedKey) == 0 {
			return nil
		}
		start = out.LastEvaluatedKey
	}
}
