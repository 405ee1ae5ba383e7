// Copyright (c) 2023 BVK Chaitanya

package auction

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// ID is an identifier the service sends either as a JSON string or as a JSON
// number.
type ID string

func (v *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*v = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("could not unmarshal id %s: %w", data, err)
	}
	*v = ID(n.String())
	return nil
}

// ErrInvalidAmount is returned for amounts that are negative or do not fit in
// an int64.
var ErrInvalidAmount = errors.New("invalid amount")

var maxAmount = decimal.NewFromInt(math.MaxInt64)

// toAmount converts a wire amount to whole rupiah.
func toAmount(d decimal.Decimal) (int64, error) {
	if d.IsNegative() || d.GreaterThan(maxAmount) {
		return 0, fmt.Errorf("amount %s: %w", d, ErrInvalidAmount)
	}
	return d.IntPart(), nil
}

// GenericResponse is the envelope of every service response. Business errors
// are reported inside http 200 responses with a non-200 code.
type GenericResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type BidRecord struct {
	BidAmount     decimal.Decimal `json:"bidAmount"`
	UserAuctionID ID              `json:"userAuctionId"`
	Time          string          `json:"time"`
}

type HistoryResponse struct {
	GenericResponse

	Data []*BidRecord `json:"data"`
}

type SubmitRequest struct {
	AuctionID string `json:"auctionId"`
	BidAmount int64  `json:"bidAmount"`
	Passkey   string `json:"passkey"`
	BidTime   string `json:"bidTime"`
}

type SubmitResponse struct {
	GenericResponse

	Data json.RawMessage `json:"data"`
}

type StartSessionRequest struct {
	AuctionID string `json:"auctionId"`
}

type Participant struct {
	PinBidding string `json:"pinBidding"`
	PesertaID  ID     `json:"pesertaId"`
}

type LotInfo struct {
	LotLelangID      ID              `json:"lotLelangId"`
	NamaLotLelang    string          `json:"namaLotLelang"`
	KelipatanBid     decimal.Decimal `json:"kelipatanBid"`
	NilaiLimit       decimal.Decimal `json:"nilaiLimit"`
	TglMulaiLelang   string          `json:"tglMulaiLelang"`
	TglSelesaiLelang string          `json:"tglSelesaiLelang"`
	StatusLelang     string          `json:"statusLelang"`
}

type LotStatusData struct {
	Peserta   *Participant `json:"peserta"`
	LotLelang *LotInfo     `json:"lotLelang"`
}

type LotStatusResponse struct {
	GenericResponse

	Data *LotStatusData `json:"data"`
}

// LotStatus is the part of the lot status the bidding session needs.
type LotStatus struct {
	Name          string
	Passkey       string
	ParticipantID string
	Increment     int64
	ReserveValue  int64
	StartTime     time.Time
	EndTime       time.Time
	Status        string
}

// Observation is the result of one ledger read.
type Observation struct {
	// Amount and Bidder of the most recent ledger record.
	Amount int64
	Bidder string

	// OwnAmount is the most recent ledger amount placed by the operator's own
	// participant id. OwnFound is false if the page has no such record.
	OwnAmount int64
	OwnFound  bool

	// Latency of the winning request.
	Latency time.Duration
}
