package balances

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/Klingon-tech/klingfolio/internal/chain"
	"github.com/Klingon-tech/klingfolio/internal/metrics"
	"github.com/Klingon-tech/klingfolio/pkg/helpers"
	"github.com/Klingon-tech/klingfolio/pkg/logging"
)

// Function selector for balanceOf(address) = 0x70a08231
var balanceOfSelector = []byte{0x70, 0xa0, 0x82, 0x31}

// maxConcurrentCalls bounds parallel eth_call requests per lookup.
const maxConcurrentCalls = 4

// ChainReader is the subset of *ethclient.Client used for balance reads.
//
//go:generate mockgen -package=balances_test -destination=mock_chain_reader_test.go -source=evm.go ChainReader
type ChainReader interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// DialFunc opens a reader for a chain.
type DialFunc func(chainID uint64) (ChainReader, error)

// DialRPC returns a DialFunc connecting with ethclient to the URL returned
// by rpcURL.
func DialRPC(rpcURL func(chainID uint64) string) DialFunc {
	return func(chainID uint64) (ChainReader, error) {
		url := rpcURL(chainID)
		if url == "" {
			return nil, fmt.Errorf("%w: no rpc url for chain %d", ErrUnsupportedChain, chainID)
		}
		client, err := ethclient.Dial(url)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to RPC: %w", err)
		}
		return client, nil
	}
}

// EVMConfig configures an EVM balance source.
type EVMConfig struct {
	Dial DialFunc

	// DustThreshold hides token rows at or below this quantity. The native
	// row is always kept.
	DustThreshold decimal.Decimal

	// Timeout bounds one GetBalances call. Zero means 10s.
	Timeout time.Duration

	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time

	Logger *logging.Logger
}

// EVM reads native and ERC-20 balances over JSON-RPC.
type EVM struct {
	dial    DialFunc
	dust    decimal.Decimal
	timeout time.Duration
	now     func() time.Time
	log     *logging.Logger

	mu      sync.Mutex
	readers map[uint64]ChainReader
}

// NewEVM creates an EVM balance source. Readers are dialed lazily per chain.
func NewEVM(cfg *EVMConfig) *EVM {
	e := &EVM{
		dial:    cfg.Dial,
		dust:    cfg.DustThreshold,
		timeout: cfg.Timeout,
		now:     cfg.Clock,
		log:     cfg.Logger,
		readers: make(map[uint64]ChainReader),
	}
	if e.timeout <= 0 {
		e.timeout = 10 * time.Second
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.log == nil {
		e.log = logging.GetDefault().Component("balances")
	}
	return e
}

// Close closes every dialed client.
func (e *EVM) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for id, r := range e.readers {
		if c, ok := r.(interface{ Close() }); ok {
			c.Close()
		}
		delete(e.readers, id)
	}
}

func (e *EVM) reader(chainID uint64) (ChainReader, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if r, ok := e.readers[chainID]; ok {
		return r, nil
	}
	if e.dial == nil {
		return nil, fmt.Errorf("%w: no dialer configured", ErrUnsupportedChain)
	}
	r, err := e.dial(chainID)
	if err != nil {
		return nil, err
	}
	e.readers[chainID] = r
	return r, nil
}

// GetBalances implements Source. Transport failures are reported as
// ErrBalanceFetchFailed.
func (e *EVM) GetBalances(ctx context.Context, owner string, chainID uint64) (b *Balances, err error) {
	defer func() {
		metrics.BalanceFetchesTotal.WithLabelValues(chain.Name(chainID), metrics.Result(err)).Inc()
	}()

	if !chain.IsSupported(chainID) {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedChain, chainID)
	}
	if !common.IsHexAddress(owner) {
		return nil, fmt.Errorf("%w: owner %q", chain.ErrInvalidAddress, owner)
	}
	account := common.HexToAddress(owner)

	reader, err := e.reader(chainID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBalanceFetchFailed, err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	tokens := chain.ListTokens(chainID)
	raws := make([]*big.Int, len(tokens))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentCalls)
	for i, token := range tokens {
		g.Go(func() error {
			var (
				raw *big.Int
				err error
			)
			if token.IsNative() {
				raw, err = reader.BalanceAt(gctx, account, nil)
			} else {
				raw, err = erc20BalanceOf(gctx, reader, common.HexToAddress(token.Address), account)
			}
			if err != nil {
				return fmt.Errorf("%s: %w", token.Symbol, err)
			}
			raws[i] = raw
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		e.log.Warn("Balance fetch failed", "chain", chainID, "owner", account.Hex(), "error", err)
		return nil, fmt.Errorf("%w: %v", ErrBalanceFetchFailed, err)
	}

	b = &Balances{
		Owner:     account.Hex(),
		ChainID:   chainID,
		Rows:      make([]Row, 0, len(tokens)),
		FetchedAt: e.now(),
	}
	for i, token := range tokens {
		qty := helpers.FormatUnits(raws[i], token.Decimals)
		if !token.IsNative() && qty.LessThanOrEqual(e.dust) {
			continue
		}
		b.Rows = append(b.Rows, Row{
			Address:  token.Address,
			Symbol:   token.Symbol,
			Name:     token.Name,
			Decimals: token.Decimals,
			ChainID:  chainID,
			Raw:      raws[i],
			Quantity: qty,
		})
	}

	e.log.Debug("Balances fetched", "chain", chainID, "owner", account.Hex(), "rows", len(b.Rows))
	return b, nil
}

// erc20BalanceOf calls balanceOf(owner) on a token contract.
func erc20BalanceOf(ctx context.Context, reader ChainReader, token, owner common.Address) (*big.Int, error) {
	data := make([]byte, 36)
	copy(data[0:4], balanceOfSelector)
	copy(data[4:36], common.LeftPadBytes(owner.Bytes(), 32))

	out, err := reader.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	if len(out) < 32 {
		return nil, fmt.Errorf("short balanceOf response (%d bytes)", len(out))
	}
	return new(big.Int).SetBytes(out[:32]), nil
}
