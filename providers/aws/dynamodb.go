package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	api "github.com/stratus-io/stratus/pkg/provider"
)

type TableConfig struct {
	TableName   string                `json:"table_name"`
	Attributes  []AttributeDefinition `json:"attributes"`
	KeySchema   []KeySchemaElement    `json:"key_schema"`
	BillingMode string                `json:"billing_mode"`
}

type AttributeDefinition struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type KeySchemaElement struct {
	Name    string `json:"name"`
	KeyType string `json:"key_type"`
}

type TableState struct {
	TableName string `json:"table_name"`
	ARN       string `json:"arn"`
}

func (p *Provider) applyTable(ctx context.Context, req *api.ApplyRequest) (*api.ApplyResponse, error) {
	// DELETE
	if req.DesiredConfigJSON == nil {
		var prior TableState
		if err := json.Unmarshal(req.PriorStateJSON, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
		if prior.TableName != "" {
			_, err := p.dynamodbClient.DeleteTable(ctx, &dynamodb.DeleteTableInput{
				TableName: &prior.TableName,
			})
			if err != nil && !isErrorCode(err, "ResourceNotFoundException") {
				return nil, fmt.Errorf("failed to delete table: %w", err)
			}
		}
		return &api.ApplyResponse{}, nil
	}

	var desired TableConfig
	if err := json.Unmarshal(req.DesiredConfigJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired: %w", err)
	}

	var attrs []types.AttributeDefinition
	for _, a := range desired.Attributes {
		attrs = append(attrs, types.AttributeDefinition{
			AttributeName: &a.Name,
			AttributeType: types.ScalarAttributeType(a.Type),
		})
	}

	var keySchema []types.KeySchemaElement
	for _, k := range desired.KeySchema {
		keySchema = append(keySchema, types.KeySchemaElement{
			AttributeName: &k.Name,
			KeyType:       types.KeyType(k.KeyType),
		})
	}

	billingMode := types.BillingModePayPerRequest
	if desired.BillingMode != "" {
		billingMode = types.BillingMode(desired.BillingMode)
	}

	var arn string
	resp, err := p.dynamodbClient.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName:            &desired.TableName,
		AttributeDefinitions: attrs,
		KeySchema:            keySchema,
		BillingMode:          billingMode,
	})
	if err != nil {
		if !isErrorCode(err, "ResourceInUseException") {
			return nil, fmt.Errorf("failed to create table: %w", err)
		}
		// Already exists, pick up its ARN below.
	} else {
		arn = *resp.TableDescription.TableArn
	}

	// Reads and writes fail until the table is ACTIVE.
	waiter := dynamodb.NewTableExistsWaiter(p.dynamodbClient)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{
		TableName: &desired.TableName,
	}, 5*time.Minute); err != nil {
		return nil, fmt.Errorf("table %s never became active: %w", desired.TableName, err)
	}

	if arn == "" {
		describe, err := p.dynamodbClient.DescribeTable(ctx, &dynamodb.DescribeTableInput{
			TableName: &desired.TableName,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to describe table: %w", err)
		}
		arn = *describe.Table.TableArn
	}

	newState := TableState{
		TableName: desired.TableName,
		ARN:       arn,
	}
	stateJSON, _ := json.Marshal(newState)

	return &api.ApplyResponse{NewStateJSON: stateJSON}, nil
}
