package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Source collections written by the seeder.
const (
	CustomersColl    = "customers"
	AccountsColl     = "accounts"
	TransactionsColl = "transactions"
)

// Materialized views maintained by the external stream processor.
const (
	AccountsRefColl          = "accounts_ref"
	CustomersRefColl         = "customers_ref"
	TransactionsFlatColl     = "transactions_flat"
	TransactionsEnrichedColl = "transactions_enriched"
	MinuteStatsColl          = "transactions_minute_stats"
)

const (
	TradeBuy  = "buy"
	TradeSell = "sell"
)

type Meta struct {
	Tag string `bson:"tag" json:"tag"`
}

type TierAndDetails struct {
	Tier string `bson:"tier" json:"tier"`
}

type Customer struct {
	ID             primitive.ObjectID `bson:"_id" json:"_id"`
	Username       string             `bson:"username" json:"username"`
	Name           string             `bson:"name" json:"name"`
	Accounts       []int64            `bson:"accounts" json:"accounts"`
	TierAndDetails TierAndDetails     `bson:"tier_and_details" json:"tier_and_details"`
	Email          string             `bson:"email" json:"email"`
	Meta           Meta               `bson:"meta" json:"meta"`
}

type Account struct {
	AccountID int64    `bson:"account_id" json:"account_id"`
	Products  []string `bson:"products" json:"products"`
	Limit     float64  `bson:"limit" json:"limit"`
	Meta      Meta     `bson:"meta" json:"meta"`
}

// Trade is one entry of a bucket's transactions array.
type Trade struct {
	Date            time.Time `bson:"date" json:"date"`
	Amount          float64   `bson:"amount" json:"amount"`
	TransactionCode string    `bson:"transaction_code" json:"transaction_code"`
	Symbol          string    `bson:"symbol" json:"symbol"`
	Price           float64   `bson:"price" json:"price"`
	Total           float64   `bson:"total" json:"total"`
}

// TransactionBucket follows the sample_analytics bucket pattern: many trades
// of one account grouped under a date range.
type TransactionBucket struct {
	AccountID        int64     `bson:"account_id" json:"account_id"`
	TransactionCount int       `bson:"transaction_count" json:"transaction_count"`
	BucketStartDate  time.Time `bson:"bucket_start_date" json:"bucket_start_date"`
	BucketEndDate    time.Time `bson:"bucket_end_date" json:"bucket_end_date"`
	Transactions     []Trade   `bson:"transactions" json:"transactions"`
	Meta             Meta      `bson:"meta" json:"meta"`
}
