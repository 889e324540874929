package price

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/portfolio-league/league-engine/internal/model"
)

// aggregatorABI is the subset of Chainlink's AggregatorV3Interface we read.
const aggregatorABI = `[
{"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"latestRoundData","outputs":[{"name":"roundId","type":"uint80"},{"name":"answer","type":"int256"},{"name":"startedAt","type":"uint256"},{"name":"updatedAt","type":"uint256"},{"name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"},
{"inputs":[{"name":"_roundId","type":"uint80"}],"name":"getRoundData","outputs":[{"name":"roundId","type":"uint80"},{"name":"answer","type":"int256"},{"name":"startedAt","type":"uint256"},{"name":"updatedAt","type":"uint256"},{"name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"}
]`

// Round IDs are (phaseID << 64 | aggregatorRoundID); a zero aggregator
// round means there is nothing earlier in the phase.
var aggregatorRoundMask = new(big.Int).SetUint64(^uint64(0))

// Caller is the read-only contract call surface of an Ethereum client.
// *ethclient.Client satisfies it.
type Caller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// ChainlinkConfig maps assets to price feeds.
type ChainlinkConfig struct {
	// Feeds maps an asset to its aggregator proxy address.
	Feeds map[model.Asset]string

	// Fixed prices assets that are not read from a feed, e.g. USDC at 1.
	Fixed map[model.Asset]decimal.Decimal

	// MaxLookback bounds the number of rounds walked back for a
	// historical price. Zero means 500.
	MaxLookback int
}

// Chainlink reads prices from Chainlink aggregator contracts.
type Chainlink struct {
	caller      Caller
	abi         abi.ABI
	feeds       map[model.Asset]common.Address
	fixed       map[model.Asset]decimal.Decimal
	maxLookback int

	mu       sync.Mutex
	decimals map[common.Address]int32
}

type roundData struct {
	RoundID   *big.Int
	Answer    *big.Int
	UpdatedAt time.Time
}

// usable rejects incomplete rounds and non-positive answers.
func (r *roundData) usable() error {
	if r.UpdatedAt.Unix() == 0 {
		return fmt.Errorf("round %s is not complete", r.RoundID)
	}
	if r.Answer.Sign() <= 0 {
		return fmt.Errorf("round %s has non-positive answer %s", r.RoundID, r.Answer)
	}
	return nil
}

// NewChainlink creates a Chainlink provider.
func NewChainlink(caller Caller, cfg ChainlinkConfig) (*Chainlink, error) {
	parsed, err := abi.JSON(strings.NewReader(aggregatorABI))
	if err != nil {
		return nil, fmt.Errorf("price: parse aggregator abi: %w", err)
	}

	feeds := make(map[model.Asset]common.Address, len(cfg.Feeds))
	for asset, addr := range cfg.Feeds {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("price: feed address for %s is not a hex address: %q", asset, addr)
		}
		feeds[asset] = common.HexToAddress(addr)
	}

	fixed := make(map[model.Asset]decimal.Decimal, len(cfg.Fixed))
	for asset, p := range cfg.Fixed {
		fixed[asset] = p
	}

	lookback := cfg.MaxLookback
	if lookback <= 0 {
		lookback = 500
	}

	return &Chainlink{
		caller:      caller,
		abi:         parsed,
		feeds:       feeds,
		fixed:       fixed,
		maxLookback: lookback,
		decimals:    make(map[common.Address]int32),
	}, nil
}

// GetPrices reads every requested feed concurrently.
func (c *Chainlink) GetPrices(ctx context.Context, assets []model.Asset, at *time.Time) (model.Snapshot, error) {
	snap := model.Snapshot{Prices: make(map[model.Asset]decimal.Decimal, len(assets))}
	var (
		mu     sync.Mutex
		latest time.Time
	)

	feeds := make(map[model.Asset]common.Address, len(assets))
	for _, asset := range assets {
		if p, ok := c.fixed[asset]; ok {
			snap.Prices[asset] = p
			continue
		}
		addr, ok := c.feeds[asset]
		if !ok {
			return model.Snapshot{}, fmt.Errorf("%w: no feed configured for %s", ErrPriceUnavailable, asset)
		}
		feeds[asset] = addr
	}

	g, gctx := errgroup.WithContext(ctx)
	for asset, addr := range feeds {
		g.Go(func() error {
			rd, err := c.roundAt(gctx, addr, at)
			if err != nil {
				return fmt.Errorf("%s: %w", asset, err)
			}
			if err := rd.usable(); err != nil {
				return fmt.Errorf("%s: %w", asset, err)
			}
			dec, err := c.decimalsOf(gctx, addr)
			if err != nil {
				return fmt.Errorf("%s: %w", asset, err)
			}

			mu.Lock()
			defer mu.Unlock()
			snap.Prices[asset] = decimal.NewFromBigInt(rd.Answer, -dec)
			if rd.UpdatedAt.After(latest) {
				latest = rd.UpdatedAt
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return model.Snapshot{}, Unavailable(err)
	}

	switch {
	case at != nil:
		snap.Timestamp = at.UTC()
	case !latest.IsZero():
		snap.Timestamp = latest
	default:
		snap.Timestamp = time.Now().UTC()
	}
	return snap, nil
}

// roundAt returns the latest round, or the last round updated at or before at.
func (c *Chainlink) roundAt(ctx context.Context, feed common.Address, at *time.Time) (*roundData, error) {
	rd, err := c.call(ctx, feed, "latestRoundData")
	if err != nil {
		return nil, err
	}
	if at == nil {
		return rd, nil
	}

	for steps := 0; rd.UpdatedAt.After(*at); steps++ {
		if steps >= c.maxLookback {
			return nil, fmt.Errorf("no round at or before %s within %d rounds", at.Format(time.RFC3339), c.maxLookback)
		}
		if new(big.Int).And(rd.RoundID, aggregatorRoundMask).Cmp(big.NewInt(1)) <= 0 {
			return nil, fmt.Errorf("no round at or before %s in current phase", at.Format(time.RFC3339))
		}
		prev := new(big.Int).Sub(rd.RoundID, big.NewInt(1))
		if rd, err = c.call(ctx, feed, "getRoundData", prev); err != nil {
			return nil, err
		}
	}
	return rd, nil
}

func (c *Chainlink) call(ctx context.Context, feed common.Address, method string, args ...interface{}) (*roundData, error) {
	out, err := c.invoke(ctx, feed, method, args...)
	if err != nil {
		return nil, err
	}
	if len(out) != 5 {
		return nil, fmt.Errorf("%s: unexpected output length %d", method, len(out))
	}
	roundID, ok1 := out[0].(*big.Int)
	answer, ok2 := out[1].(*big.Int)
	updatedAt, ok3 := out[3].(*big.Int)
	if !ok1 || !ok2 || !ok3 {
		return nil, fmt.Errorf("%s: unexpected output types", method)
	}
	return &roundData{
		RoundID:   roundID,
		Answer:    answer,
		UpdatedAt: time.Unix(updatedAt.Int64(), 0).UTC(),
	}, nil
}

func (c *Chainlink) decimalsOf(ctx context.Context, feed common.Address) (int32, error) {
	c.mu.Lock()
	dec, ok := c.decimals[feed]
	c.mu.Unlock()
	if ok {
		return dec, nil
	}

	out, err := c.invoke(ctx, feed, "decimals")
	if err != nil {
		return 0, err
	}
	v, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("decimals: unexpected output type %T", out[0])
	}

	c.mu.Lock()
	c.decimals[feed] = int32(v)
	c.mu.Unlock()
	return int32(v), nil
}

func (c *Chainlink) invoke(ctx context.Context, feed common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: pack: %w", method, err)
	}
	raw, err := c.caller.CallContract(ctx, ethereum.CallMsg{To: &feed, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: call %s: %w", method, feed.Hex(), err)
	}
	out, err := c.abi.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("%s: unpack: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: empty result", method)
	}
	return out, nil
}
