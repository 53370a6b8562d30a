package types

import (
	"math/big"
	"strings"
	"time"
)

// chain ids follow EIP-155: Eth mainnet id 1, Optimism 10, BNB 56, etc.

// CanonicalDecimals is the precision of the canonical settlement token,
// every cross-token comparison happens at this precision.
const CanonicalDecimals = 8

// TokenDescriptor is built from the network table whenever the active
// network changes and is never mutated afterwards.
type TokenDescriptor struct {
	Address     string `json:"address"`
	Symbol      string `json:"symbol"`
	Name        string `json:"name"`
	Decimals    int    `json:"decimals"`
	ChainID     int    `json:"chainId"`
	CanWrap     bool   `json:"canWrap"`
	CanBridge   bool   `json:"canBridge"`
	CanRedeem   bool   `json:"canRedeem"`
	IsCanonical bool   `json:"isCanonical"`
}

// Same reports whether both descriptors point to one token contract.
func (t TokenDescriptor) Same(o TokenDescriptor) bool {
	return t.ChainID == o.ChainID && strings.EqualFold(t.Address, o.Address)
}

// Amount is an integer amount together with the precision it is expressed in.
// Amounts of different precision are only comparable once normalized.
type Amount struct {
	Value    *big.Int `json:"value"`
	Decimals int      `json:"decimals"`
}

func NewAmount(value *big.Int, decimals int) Amount {
	v := new(big.Int)
	if value != nil {
		v.Set(value)
	}
	return Amount{Value: v, Decimals: decimals}
}

func NewAmountInt64(value int64, decimals int) Amount {
	return Amount{Value: big.NewInt(value), Decimals: decimals}
}

func (a Amount) Int() *big.Int {
	if a.Value == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(a.Value)
}

func (a Amount) Sign() int {
	if a.Value == nil {
		return 0
	}
	return a.Value.Sign()
}

func (a Amount) IsZero() bool {
	return a.Sign() == 0
}

type OperationKind string

const (
	OperationWrap    OperationKind = "wrap"
	OperationUnwrap  OperationKind = "unwrap"
	OperationBridge  OperationKind = "bridge"
	OperationInvalid OperationKind = "invalid"
)

type ApprovalStrategy string

const (
	StrategyExact     ApprovalStrategy = "exact"
	StrategyOptimized ApprovalStrategy = "optimized"
	StrategyUnlimited ApprovalStrategy = "unlimited"
)

type RiskTier string

const (
	RiskLow    RiskTier = "low"
	RiskMedium RiskTier = "medium"
	RiskHigh   RiskTier = "high"
)

type ApprovalOption struct {
	Strategy         ApprovalStrategy `json:"strategy"`
	Amount           Amount           `json:"amount"`
	EstimatedGasCost *big.Int         `json:"estimatedGasCost"` // wei
	Risk             RiskTier         `json:"risk"`
	Recommended      bool             `json:"recommended"`
}

// ApprovalState is recomputed on every allowance or gas price tick.
// Options are ranked, the recommended one first.
type ApprovalState struct {
	CurrentAllowance Amount           `json:"currentAllowance"`
	RequiredAmount   Amount           `json:"requiredAmount"`
	IsRequired       bool             `json:"isRequired"`
	Recommended      ApprovalStrategy `json:"recommended"`
	Options          []ApprovalOption `json:"options"`
}

// Option returns the option for the given strategy.
func (s ApprovalState) Option(strategy ApprovalStrategy) (ApprovalOption, bool) {
	for _, o := range s.Options {
		if o.Strategy == strategy {
			return o, true
		}
	}
	return ApprovalOption{}, false
}

type StepKind string

const (
	StepApproval                StepKind = "approval"
	StepDeposit                 StepKind = "deposit"
	StepSend                    StepKind = "send"
	StepDestinationConfirmation StepKind = "destinationConfirmation"
	StepQueueRedemption         StepKind = "queueRedemption"
	StepSecurityDelay           StepKind = "securityDelay"
)

type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepActive    StepStatus = "active"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// Terminal reports whether no further transition is possible.
func (s StepStatus) Terminal() bool {
	return s == StepCompleted || s == StepFailed
}

// TransactionStep is one entry of a flow's ordered step list.
type TransactionStep struct {
	ID                string        `json:"id"`
	Kind              StepKind      `json:"kind"`
	Label             string        `json:"label"`
	Status            StepStatus    `json:"status"`
	ChainID           int           `json:"chainId"`
	TxRef             string        `json:"txRef,omitempty"`
	EstimatedDuration time.Duration `json:"estimatedDuration,omitempty"`
	Error             *Error        `json:"error,omitempty"`
}

// RedemptionRequest is created by the unwrap flow and only ever changed by
// the custodian marking it fulfilled.
type RedemptionRequest struct {
	ID               uint64    `json:"id"`
	Owner            string    `json:"owner"`
	SourceToken      string    `json:"sourceToken"`
	CanonicalAmount  *big.Int  `json:"canonicalAmount"`  // burned, 1e8
	UnderlyingAmount *big.Int  `json:"underlyingAmount"` // owed, in the redeemed token's precision
	RequestTime      time.Time `json:"requestTime"`
	Fulfilled        bool      `json:"fulfilled"`
	FulfilledAt      time.Time `json:"fulfilledAt,omitempty"` // zero when not reported
}

type FlowStatus string

const (
	FlowPlanned   FlowStatus = "planned"
	FlowExecuting FlowStatus = "executing"
	FlowWaiting   FlowStatus = "waiting" // submitted, only the security delay is left
	FlowSucceeded FlowStatus = "success"
	FlowFailed    FlowStatus = "failed"
	FlowAbandoned FlowStatus = "abandoned"
)

// FlowRecord is the session checkpoint of one user initiated flow.
type FlowRecord struct {
	ID        string            `json:"id"`
	Status    FlowStatus        `json:"status"`
	Operation OperationKind     `json:"operation"`
	From      TokenDescriptor   `json:"from"`
	To        TokenDescriptor   `json:"to"`
	Amount    Amount            `json:"amount"`
	Account   string            `json:"account"`
	Recipient string            `json:"recipient,omitempty"`
	Steps     []TransactionStep `json:"steps"`
	TsCreated int64             `json:"tsCreated"`
	Message   string            `json:"message,omitempty"` // messages that help to track processing/errors

	// set once the queue step found the request it created
	RedemptionID *uint64 `json:"redemptionId,omitempty"`
	// recipient's canonical balance on the destination before a bridge send
	DestBalanceBefore string `json:"destBalanceBefore,omitempty"`

	// planned choices a restored flow executes with
	Strategy  ApprovalStrategy `json:"strategy,omitempty"`
	BridgeFee *big.Int         `json:"bridgeFee,omitempty"` // wei, bridge only
}
