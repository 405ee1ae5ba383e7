// Copyright (c) 2023 BVK Chaitanya

package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/kucing007/lelang-cli/clocksync"
)

// StartSession joins the live bidding session of a lot. The service rejects
// bids from participants that have not started the session.
func (c *Client) StartSession(ctx context.Context, lot string) error {
	token, err := c.creds.Token(ctx)
	if err != nil {
		return err
	}
	addrURL := endpoint(&c.biddingURL, "/pelaksanaan/lelang/mulai-sesi")
	req := &StartSessionRequest{AuctionID: lot}
	resp := new(GenericResponse)
	if err := httpPostJSON(ctx, c, addrURL, token, req, resp); err != nil {
		if !errors.Is(err, context.Canceled) {
			slog.Error("could not start bidding session", "lot", lot, "url", addrURL, "err", err)
		}
		return err
	}
	return nil
}

// LotStatus returns the participant and schedule details of a lot, including
// the bidding passkey of the operator.
func (c *Client) LotStatus(ctx context.Context, lot string) (*LotStatus, error) {
	token, err := c.creds.Token(ctx)
	if err != nil {
		return nil, err
	}

	values := make(url.Values)
	values.Set("dcp", "true")
	addrURL := endpoint(&c.apiURL, "/pelaksanaan", lot, "/status-lelang")
	addrURL.RawQuery = values.Encode()

	resp := new(LotStatusResponse)
	if err := httpGetJSON(ctx, c, addrURL, token, resp); err != nil {
		if !errors.Is(err, context.Canceled) {
			slog.Error("could not get lot status", "lot", lot, "url", addrURL, "err", err)
		}
		return nil, err
	}
	if resp.Code != 0 && resp.Code != http.StatusOK {
		return nil, &RejectedError{Code: resp.Code, Message: resp.Message}
	}
	if resp.Data == nil {
		return nil, fmt.Errorf("lot status response has no data")
	}
	return resp.Data.toLotStatus()
}

func (v *LotStatusData) toLotStatus() (*LotStatus, error) {
	s := new(LotStatus)
	if p := v.Peserta; p != nil {
		s.Passkey = p.PinBidding
		s.ParticipantID = string(p.PesertaID)
	}
	if l := v.LotLelang; l != nil {
		s.Name = l.NamaLotLelang
		s.Status = l.StatusLelang
		increment, err := toAmount(l.KelipatanBid)
		if err != nil {
			return nil, fmt.Errorf("could not use lot increment: %w", err)
		}
		reserve, err := toAmount(l.NilaiLimit)
		if err != nil {
			return nil, fmt.Errorf("could not use lot reserve value: %w", err)
		}
		s.Increment = increment
		s.ReserveValue = reserve
		if len(l.TglMulaiLelang) != 0 {
			t, err := clocksync.ParseTime(l.TglMulaiLelang, clocksync.WIB)
			if err != nil {
				return nil, err
			}
			s.StartTime = t
		}
		if len(l.TglSelesaiLelang) != 0 {
			t, err := clocksync.ParseTime(l.TglSelesaiLelang, clocksync.WIB)
			if err != nil {
				return nil, err
			}
			s.EndTime = t
		}
	}
	return s, nil
}
