package relayer

import (
	"encoding/json"
	"fmt"
	"time"

	"poolbridge/internal/numeral"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/google/uuid"
)

// Transaction type tags understood by the relayer.
const (
	TxTypeDeposit            = "0000"
	TxTypeTransfer           = "0001"
	TxTypeWithdrawal         = "0002"
	TxTypePermittableDeposit = "0003"
)

// Info is the relayer's view of the pool, independent of the chain view.
type Info struct {
	Root                 fr.Element
	OptimisticRoot       fr.Element
	DeltaIndex           uint64
	OptimisticDeltaIndex uint64
}

type infoResponse struct {
	Root                 string `json:"root"`
	OptimisticRoot       string `json:"optimisticRoot"`
	DeltaIndex           uint64 `json:"deltaIndex"`
	OptimisticDeltaIndex uint64 `json:"optimisticDeltaIndex"`
}

type feeResponse struct {
	Fee string `json:"fee"`
}

type sendResponse struct {
	JobID string `json:"jobId"`
}

// Groth16Proof is the opaque proof body, coordinates as decimal strings.
type Groth16Proof struct {
	A [2]string    `json:"a"`
	B [2][2]string `json:"b"`
	C [2]string    `json:"c"`
}

// Proof pairs the public inputs with the proof body.
type Proof struct {
	Inputs []fr.Element
	Proof  Groth16Proof
}

type proofWire struct {
	Inputs []string     `json:"inputs"`
	Proof  Groth16Proof `json:"proof"`
}

func (p Proof) MarshalJSON() ([]byte, error) {
	inputs := make([]string, len(p.Inputs))
	for i, in := range p.Inputs {
		inputs[i] = numeral.FormatField(in)
	}
	return json.Marshal(proofWire{Inputs: inputs, Proof: p.Proof})
}

func (p *Proof) UnmarshalJSON(data []byte) error {
	var w proofWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	inputs := make([]fr.Element, len(w.Inputs))
	for i, s := range w.Inputs {
		f, err := numeral.ParseField(s)
		if err != nil {
			return fmt.Errorf("input %d: %w", i, err)
		}
		inputs[i] = f
	}
	p.Inputs = inputs
	p.Proof = w.Proof
	return nil
}

// TransactionRequest is one proven transaction submitted to the relayer.
type TransactionRequest struct {
	UUID             *string `json:"uuid,omitempty"`
	Proof            Proof   `json:"proof"`
	Memo             string  `json:"memo"`
	TxType           string  `json:"txType"`
	DepositSignature *string `json:"depositSignature,omitempty"`
}

// NewTransactionRequest builds a request tagged with a fresh client-side UUID.
func NewTransactionRequest(proof Proof, memo, txType string) TransactionRequest {
	id := uuid.NewString()
	return TransactionRequest{
		UUID:   &id,
		Proof:  proof,
		Memo:   memo,
		TxType: txType,
	}
}

// JobState is Pending, Mined or Failed.
type JobState interface {
	fmt.Stringer
	Terminal() bool
	jobState()
}

type Pending struct{}

// Mined carries the hash of the transaction that settled the batch.
type Mined struct {
	TxHash string
}

// Failed carries the relayer's failure reason.
type Failed struct {
	Reason string
}

func (Pending) String() string { return "pending" }
func (Pending) Terminal() bool { return false }
func (Pending) jobState()      {}

func (Mined) String() string { return "mined" }
func (Mined) Terminal() bool { return true }
func (Mined) jobState()      {}

func (Failed) String() string { return "failed" }
func (Failed) Terminal() bool { return true }
func (Failed) jobState()      {}

// Job is the relayer's current view of one submitted batch. FinishedOn is set
// only for terminal states.
type Job struct {
	ID         string
	State      JobState
	CreatedOn  time.Time
	FinishedOn *time.Time
}

func (j Job) Terminal() bool { return j.State != nil && j.State.Terminal() }

type jobResponse struct {
	State        string  `json:"state"`
	TxHash       *string `json:"txHash"`
	FailedReason *string `json:"failedReason"`
	CreatedOn    uint64  `json:"createdOn"`
	FinishedOn   *uint64 `json:"finishedOn"`
}
