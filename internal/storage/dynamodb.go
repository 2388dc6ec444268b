package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"ms-payments/internal/logger"
	"ms-payments/internal/models"
)

const (
	paymentsOrderIDIndex = "order_id-index"
	paymentsStatusIndex  = "status-index"

	// Fixed-width UTC layout so created_at sorts lexicographically in the
	// status index range key.
	timeLayout = "2006-01-02T15:04:05.000000000Z"
)

// DynamoStore persists Payment and Order documents in DynamoDB.
//
// Table requirements:
//   - payments: PK payment_id (S); GSI order_id-index (PK order_id);
//     GSI status-index (PK status, SK created_at)
//   - orders: PK order_id (S)
type DynamoStore struct {
	ddb           *dynamodb.Client
	paymentsTable string
	ordersTable   string
	log           *logger.Logger
}

var _ Store = (*DynamoStore)(nil)

func NewDynamoStore(ddb *dynamodb.Client, paymentsTable, ordersTable string, log *logger.Logger) *DynamoStore {
	return &DynamoStore{
		ddb:           ddb,
		paymentsTable: paymentsTable,
		ordersTable:   ordersTable,
		log:           log,
	}
}

type paymentItem struct {
	ID              string  `dynamodbav:"payment_id"`
	OrderID         string  `dynamodbav:"order_id"`
	BuyerID         string  `dynamodbav:"buyer_id"`
	SellerID        string  `dynamodbav:"seller_id"`
	ServiceID       string  `dynamodbav:"service_id"`
	Gateway         string  `dynamodbav:"gateway"`
	GatewayObjectID string  `dynamodbav:"gateway_object_id"`
	Amount          float64 `dynamodbav:"amount"`
	Currency        string  `dynamodbav:"currency"`
	Status          string  `dynamodbav:"status"`
	PaymentDetails  string  `dynamodbav:"payment_details,omitempty"`
	Error           string  `dynamodbav:"error,omitempty"`
	CreatedAt       string  `dynamodbav:"created_at"`
	UpdatedAt       string  `dynamodbav:"updated_at"`
	CompletedAt     string  `dynamodbav:"completed_at,omitempty"`
}

type orderItem struct {
	ID           string `dynamodbav:"order_id"`
	BuyerID      string `dynamodbav:"buyer_id,omitempty"`
	SellerID     string `dynamodbav:"seller_id,omitempty"`
	IsPaid       bool   `dynamodbav:"is_paid"`
	Status       string `dynamodbav:"status"`
	PaymentError string `dynamodbav:"payment_error,omitempty"`
	UpdatedAt    string `dynamodbav:"updated_at"`
}

func (s *DynamoStore) SavePayment(ctx context.Context, payment *models.Payment) error {
	av, err := attributevalue.MarshalMap(toPaymentItem(payment))
	if err != nil {
		return fmt.Errorf("failed to marshal payment %s: %w", payment.ID, err)
	}

	_, err = s.ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.paymentsTable),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(payment_id)"),
	})
	if err != nil {
		s.log.Error("DATABASE", fmt.Sprintf("Failed to save payment %s: %v", payment.ID, err))
		return fmt.Errorf("failed to save payment: %w", err)
	}

	s.log.Info("DATABASE", fmt.Sprintf("Payment %s saved for order %s", payment.ID, payment.OrderID))
	return nil
}

func (s *DynamoStore) GetPayment(ctx context.Context, id string) (*models.Payment, error) {
	out, err := s.ddb.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.paymentsTable),
		Key: map[string]types.AttributeValue{
			"payment_id": &types.AttributeValueMemberS{Value: id},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get payment %s: %w", id, err)
	}
	if len(out.Item) == 0 {
		return nil, ErrPaymentNotFound
	}

	var it paymentItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payment %s: %w", id, err)
	}
	return fromPaymentItem(it), nil
}

func (s *DynamoStore) ListPaymentsByOrder(ctx context.Context, orderID string) ([]*models.Payment, error) {
	out, err := s.ddb.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.paymentsTable),
		IndexName:              aws.String(paymentsOrderIDIndex),
		KeyConditionExpression: aws.String("order_id = :oid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":oid": &types.AttributeValueMemberS{Value: orderID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list payments for order %s: %w", orderID, err)
	}
	return unmarshalPayments(out.Items)
}

func (s *DynamoStore) ListPendingPaymentsBefore(ctx context.Context, cutoff time.Time) ([]*models.Payment, error) {
	out, err := s.ddb.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.paymentsTable),
		IndexName:              aws.String(paymentsStatusIndex),
		KeyConditionExpression: aws.String("#s = :pending AND created_at < :cutoff"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pending": &types.AttributeValueMemberS{Value: string(models.StatusPending)},
			":cutoff":  &types.AttributeValueMemberS{Value: cutoff.UTC().Format(timeLayout)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list pending payments: %w", err)
	}
	return unmarshalPayments(out.Items)
}

func (s *DynamoStore) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	out, err := s.ddb.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.ordersTable),
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: id},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get order %s: %w", id, err)
	}
	if len(out.Item) == 0 {
		return nil, ErrOrderNotFound
	}

	var it orderItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order %s: %w", id, err)
	}
	return fromOrderItem(it), nil
}

// ApplyOutcome commits the terminal payment state and the order update in a
// single DynamoDB transaction. The payment write is conditioned on the
// record still being pending, which makes duplicate deliveries collapse into
// ErrPaymentAlreadyFinal instead of re-applied timestamps.
func (s *DynamoStore) ApplyOutcome(ctx context.Context, w OutcomeWrite) error {
	paymentAV, err := attributevalue.MarshalMap(toPaymentItem(&w.Payment))
	if err != nil {
		return fmt.Errorf("failed to marshal payment %s: %w", w.Payment.ID, err)
	}

	items := []types.TransactWriteItem{
		{
			Put: &types.Put{
				TableName:           aws.String(s.paymentsTable),
				Item:                paymentAV,
				ConditionExpression: aws.String("#s = :pending"),
				ExpressionAttributeNames: map[string]string{
					"#s": "status",
				},
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":pending": &types.AttributeValueMemberS{Value: string(models.StatusPending)},
				},
			},
		},
	}

	if w.Order != nil {
		orderAV, err := attributevalue.MarshalMap(toOrderItem(w.Order))
		if err != nil {
			return fmt.Errorf("failed to marshal order %s: %w", w.Order.ID, err)
		}

		put := &types.Put{
			TableName:           aws.String(s.ordersTable),
			Item:                orderAV,
			ConditionExpression: aws.String("attribute_exists(order_id)"),
		}
		if w.RequireOrderUnpaid {
			put.ConditionExpression = aws.String("attribute_exists(order_id) AND is_paid = :unpaid")
			put.ExpressionAttributeValues = map[string]types.AttributeValue{
				":unpaid": &types.AttributeValueMemberBOOL{Value: false},
			}
		}
		items = append(items, types.TransactWriteItem{Put: put})
	}

	_, err = s.ddb.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	if err != nil {
		if reason := cancellationIndex(err); reason == 0 {
			return ErrPaymentAlreadyFinal
		} else if reason == 1 {
			return ErrOrderAlreadyPaid
		}
		s.log.Error("DATABASE", fmt.Sprintf("Outcome transaction failed for payment %s: %v", w.Payment.ID, err))
		return fmt.Errorf("failed to apply outcome for payment %s: %w", w.Payment.ID, err)
	}

	s.log.Info("DATABASE", fmt.Sprintf("Outcome %s applied for payment %s", w.Payment.Status, w.Payment.ID))
	return nil
}

// cancellationIndex returns the index of the transact item whose condition
// failed, or -1 when the error was not a conditional cancellation.
func cancellationIndex(err error) int {
	var canceled *types.TransactionCanceledException
	if !errors.As(err, &canceled) {
		return -1
	}
	for i, reason := range canceled.CancellationReasons {
		if reason.Code != nil && *reason.Code == "ConditionalCheckFailed" {
			return i
		}
	}
	return -1
}

func unmarshalPayments(items []map[string]types.AttributeValue) ([]*models.Payment, error) {
	payments := make([]*models.Payment, 0, len(items))
	for _, raw := range items {
		var it paymentItem
		if err := attributevalue.UnmarshalMap(raw, &it); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payment item: %w", err)
		}
		payments = append(payments, fromPaymentItem(it))
	}
	return payments, nil
}

func toPaymentItem(p *models.Payment) paymentItem {
	it := paymentItem{
		ID:              p.ID,
		OrderID:         p.OrderID,
		BuyerID:         p.BuyerID,
		SellerID:        p.SellerID,
		ServiceID:       p.ServiceID,
		Gateway:         string(p.Gateway),
		GatewayObjectID: p.GatewayObjectID,
		Amount:          p.Amount,
		Currency:        p.Currency,
		Status:          string(p.Status),
		PaymentDetails:  p.PaymentDetails,
		Error:           p.Error,
		CreatedAt:       p.CreatedAt.UTC().Format(timeLayout),
		UpdatedAt:       p.UpdatedAt.UTC().Format(timeLayout),
	}
	if p.CompletedAt != nil {
		it.CompletedAt = p.CompletedAt.UTC().Format(timeLayout)
	}
	return it
}

func fromPaymentItem(it paymentItem) *models.Payment {
	createdAt, _ := time.Parse(timeLayout, it.CreatedAt)
	updatedAt, _ := time.Parse(timeLayout, it.UpdatedAt)
	p := &models.Payment{
		ID:              it.ID,
		OrderID:         it.OrderID,
		BuyerID:         it.BuyerID,
		SellerID:        it.SellerID,
		ServiceID:       it.ServiceID,
		Gateway:         models.Gateway(it.Gateway),
		GatewayObjectID: it.GatewayObjectID,
		Amount:          it.Amount,
		Currency:        it.Currency,
		Status:          models.PaymentStatus(it.Status),
		PaymentDetails:  it.PaymentDetails,
		Error:           it.Error,
		CreatedAt:       createdAt,
		UpdatedAt:       updatedAt,
	}
	if it.CompletedAt != "" {
		if completedAt, err := time.Parse(timeLayout, it.CompletedAt); err == nil {
			p.CompletedAt = &completedAt
		}
	}
	return p
}

func toOrderItem(o *models.Order) orderItem {
	return orderItem{
		ID:           o.ID,
		BuyerID:      o.BuyerID,
		SellerID:     o.SellerID,
		IsPaid:       o.IsPaid,
		Status:       o.Status,
		PaymentError: o.PaymentError,
		UpdatedAt:    o.UpdatedAt.UTC().Format(timeLayout),
	}
}

func fromOrderItem(it orderItem) *models.Order {
	updatedAt, _ := time.Parse(timeLayout, it.UpdatedAt)
	return &models.Order{
		ID:           it.ID,
		BuyerID:      it.BuyerID,
		SellerID:     it.SellerID,
		IsPaid:       it.IsPaid,
		Status:       it.Status,
		PaymentError: it.PaymentError,
		UpdatedAt:    updatedAt,
	}
}
