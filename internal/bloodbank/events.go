package bloodbank

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"BloodBank-Chain/internal/web3"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// EventKind names a contract event.
type EventKind string

const (
	EventDonorRegistered EventKind = "DonorRegistered"
	EventBloodDonated    EventKind = "BloodDonated"
	EventBloodRequested  EventKind = "BloodRequested"
)

// EventKinds lists the events the dApp listens to.
var EventKinds = []EventKind{EventDonorRegistered, EventBloodDonated, EventBloodRequested}

// ErrUnknownEvent is returned when a log does not belong to a known event.
var ErrUnknownEvent = errors.New("unknown contract event")

// Event is a decoded contract log.
type Event struct {
	Kind        EventKind      `json:"kind"`
	Contract    common.Address `json:"contract"`
	Actor       common.Address `json:"actor"`
	Name        string         `json:"name,omitempty"`
	BloodType   string         `json:"bloodType,omitempty"`
	Amount      *big.Int       `json:"amount,omitempty"`
	Timestamp   uint64         `json:"timestamp,omitempty"`
	TxHash      common.Hash    `json:"txHash"`
	BlockNumber uint64         `json:"blockNumber"`
	LogIndex    uint           `json:"logIndex"`
	Removed     bool           `json:"removed,omitempty"`
}

type donorRegisteredLog struct {
	Donor common.Address
	Name  string
}

type bloodMovementLog struct {
	Donor     common.Address
	Requester common.Address
	BloodType string
	Amount    *big.Int
	Timestamp *big.Int
}

// FilterQuery selects the contract's known events from fromBlock onwards.
// A nil toBlock means latest.
func (c *Contract) FilterQuery(fromBlock, toBlock *big.Int) gethcore.FilterQuery {
	ids := make([]common.Hash, 0, len(EventKinds))
	for _, kind := range EventKinds {
		if ev, ok := c.abi.Events[string(kind)]; ok {
			ids = append(ids, ev.ID)
		}
	}
	return gethcore.FilterQuery{
		FromBlock: fromBlock,
		ToBlock:   toBlock,
		Addresses: []common.Address{c.address},
		Topics:    [][]common.Hash{ids},
	}
}

// SubscribeEvents streams raw logs of the known events. Endpoints without
// subscription support return an error; callers fall back to FilterEvents.
func (c *Contract) SubscribeEvents(ctx context.Context, fromBlock *big.Int) (*web3.EventSubscription, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	logs := make(chan types.Log, 64)
	sub, err := c.signer.Backend.SubscribeFilterLogs(ctx, c.FilterQuery(fromBlock, nil), logs)
	if err != nil {
		return nil, fmt.Errorf("订阅合约事件失败: %w", err)
	}
	return web3.NewEventSubscription(logs, sub), nil
}

// LatestBlock returns the current head block number.
func (c *Contract) LatestBlock(ctx context.Context) (uint64, error) {
	if err := c.check(); err != nil {
		return 0, err
	}
	header, err := c.signer.Backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("查询最新区块失败: %w", err)
	}
	return header.Number.Uint64(), nil
}

// FilterEvents returns the decoded events in the block range. Logs that do
// not decode are skipped.
func (c *Contract) FilterEvents(ctx context.Context, fromBlock, toBlock *big.Int) ([]Event, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	logs, err := c.signer.Backend.FilterLogs(ctx, c.FilterQuery(fromBlock, toBlock))
	if err != nil {
		return nil, fmt.Errorf("查询合约事件失败: %w", err)
	}
	events := make([]Event, 0, len(logs))
	for _, log := range logs {
		ev, err := c.DecodeEvent(log)
		if err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// DecodeEvent turns a raw log into an Event.
func (c *Contract) DecodeEvent(log types.Log) (Event, error) {
	if len(log.Topics) == 0 {
		return Event{}, ErrUnknownEvent
	}
	abiEvent, err := c.abi.EventByID(log.Topics[0])
	if err != nil {
		return Event{}, fmt.Errorf("%w: %s", ErrUnknownEvent, log.Topics[0].Hex())
	}

	ev := Event{
		Kind:        EventKind(abiEvent.Name),
		Contract:    log.Address,
		TxHash:      log.TxHash,
		BlockNumber: log.BlockNumber,
		LogIndex:    log.Index,
		Removed:     log.Removed,
	}

	switch ev.Kind {
	case EventDonorRegistered:
		var out donorRegisteredLog
		if err := c.bound.UnpackLog(&out, abiEvent.Name, log); err != nil {
			return Event{}, fmt.Errorf("解析 %s 事件失败: %w", abiEvent.Name, err)
		}
		ev.Actor = out.Donor
		ev.Name = out.Name
	case EventBloodDonated, EventBloodRequested:
		var out bloodMovementLog
		if err := c.bound.UnpackLog(&out, abiEvent.Name, log); err != nil {
			return Event{}, fmt.Errorf("解析 %s 事件失败: %w", abiEvent.Name, err)
		}
		ev.Actor = out.Donor
		if ev.Kind == EventBloodRequested {
			ev.Actor = out.Requester
		}
		ev.BloodType = out.BloodType
		ev.Amount = out.Amount
		if out.Timestamp != nil && out.Timestamp.IsUint64() {
			ev.Timestamp = out.Timestamp.Uint64()
		}
	default:
		return Event{}, fmt.Errorf("%w: %s", ErrUnknownEvent, abiEvent.Name)
	}
	return ev, nil
}
