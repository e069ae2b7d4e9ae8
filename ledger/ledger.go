// Package ledger defines the money-movement boundary: a Mover executes one
// transfer and returns a receipt reference. Concrete movers target an
// on-chain network or a bank rail; Router picks one by channel preference.
package ledger

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/teranos/remit/errors"
)

// Channel is a schedule's payment channel preference
type Channel string

const (
	ChannelOnChain Channel = "onchain"
	ChannelBank    Channel = "bank"
	ChannelEither  Channel = "either"
)

// ParseChannel accepts onchain, bank or either (empty means either)
func ParseChannel(s string) (Channel, error) {
	switch c := Channel(strings.ToLower(strings.TrimSpace(s))); c {
	case "":
		return ChannelEither, nil
	case ChannelOnChain, ChannelBank, ChannelEither:
		return c, nil
	}
	return "", errors.NewInvalidRequestError("unknown channel %q", s)
}

// Transfer is one value movement
type Transfer struct {
	// IdempotencyKey identifies the occurrence; rails deduplicate on it
	IdempotencyKey string
	PayerAddress   string
	PayerIdentity  string
	SigningKey     []byte
	PayeeAddress   string
	Amount         decimal.Decimal
	Currency       string
	Memo           string
}

// Receipt is a mover's confirmation of a settled transfer
type Receipt struct {
	Ref     string
	Channel Channel
}

// Mover executes transfers on one channel.
// Execute is called once per settlement attempt. Any error, including a
// context deadline, is an ordinary failure of that attempt.
type Mover interface {
	Channel() Channel
	Execute(ctx context.Context, t Transfer) (Receipt, error)
}

// Router selects a mover for a channel preference
type Router struct {
	movers map[Channel]Mover
}

// NewRouter registers movers by their channel. Later movers replace earlier
// ones on the same channel.
func NewRouter(movers ...Mover) *Router {
	r := &Router{movers: make(map[Channel]Mover)}
	for _, m := range movers {
		if m != nil {
			r.movers[m.Channel()] = m
		}
	}
	return r
}

// Select returns the mover for pref. Either prefers on-chain, then bank.
// An unroutable preference is a request error: retrying cannot route it.
func (r *Router) Select(pref Channel) (Mover, error) {
	order := []Channel{pref}
	if pref == ChannelEither || pref == "" {
		order = []Channel{ChannelOnChain, ChannelBank}
	}
	for _, c := range order {
		if m, ok := r.movers[c]; ok {
			return m, nil
		}
	}
	return nil, errors.NewInvalidRequestError("no mover configured for channel %q", pref)
}

// Channels lists the configured channels
func (r *Router) Channels() []Channel {
	var out []Channel
	for _, c := range []Channel{ChannelOnChain, ChannelBank} {
		if _, ok := r.movers[c]; ok {
			out = append(out, c)
		}
	}
	return out
}
