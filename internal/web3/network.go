package web3

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"gopkg.in/yaml.v3"
)

// NativeCurrency describes the gas token of a network.
type NativeCurrency struct {
	Name     string `yaml:"name" json:"name"`
	Symbol   string `yaml:"symbol" json:"symbol"`
	Decimals uint8  `yaml:"decimals" json:"decimals"`
}

// NetworkDescriptor identifies the one chain the dApp accepts. Values are
// treated as immutable once loaded; ChainID returns a copy.
type NetworkDescriptor struct {
	chainID           *big.Int
	ChainName         string
	NativeCurrency    NativeCurrency
	RPCURLs           []string
	BlockExplorerURLs []string
}

// networkFile models the structure of configs/network.yaml.
type networkFile struct {
	ChainID           string         `yaml:"chain_id"`
	ChainName         string         `yaml:"chain_name"`
	NativeCurrency    NativeCurrency `yaml:"native_currency"`
	RPCURLs           []string       `yaml:"rpc_urls"`
	BlockExplorerURLs []string       `yaml:"block_explorer_urls"`
}

// DefaultNetwork is the local Hardhat node.
func DefaultNetwork() NetworkDescriptor {
	return NetworkDescriptor{
		chainID:        big.NewInt(31337),
		ChainName:      "Hardhat Local",
		NativeCurrency: NativeCurrency{Name: "Ether", Symbol: "ETH", Decimals: 18},
		RPCURLs:        []string{"http://localhost:8545"},
	}
}

// NewNetwork builds a descriptor from its parts.
func NewNetwork(chainID *big.Int, name string, currency NativeCurrency, rpcURLs, explorers []string) (NetworkDescriptor, error) {
	if chainID == nil || chainID.Sign() <= 0 {
		return NetworkDescriptor{}, errors.New("chain id must be positive")
	}
	if strings.TrimSpace(name) == "" {
		return NetworkDescriptor{}, errors.New("chain name is required")
	}
	if len(rpcURLs) == 0 {
		return NetworkDescriptor{}, errors.New("at least one rpc url is required")
	}
	if currency.Decimals == 0 {
		currency.Decimals = 18
	}
	return NetworkDescriptor{
		chainID:           new(big.Int).Set(chainID),
		ChainName:         name,
		NativeCurrency:    currency,
		RPCURLs:           append([]string(nil), rpcURLs...),
		BlockExplorerURLs: append([]string(nil), explorers...),
	}, nil
}

// LoadNetwork parses the YAML network descriptor. An empty path yields
// DefaultNetwork.
func LoadNetwork(path string) (NetworkDescriptor, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultNetwork(), nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return NetworkDescriptor{}, fmt.Errorf("读取网络配置失败: %w", err)
	}
	return ParseNetwork(content)
}

// ParseNetwork decodes a YAML network descriptor. chain_id accepts decimal
// or 0x-prefixed hex.
func ParseNetwork(content []byte) (NetworkDescriptor, error) {
	var raw networkFile
	if err := yaml.Unmarshal(content, &raw); err != nil {
		return NetworkDescriptor{}, fmt.Errorf("解析网络配置失败: %w", err)
	}
	id, ok := new(big.Int).SetString(strings.TrimSpace(raw.ChainID), 0)
	if !ok {
		return NetworkDescriptor{}, fmt.Errorf("无效的 chain_id: %q", raw.ChainID)
	}
	return NewNetwork(id, raw.ChainName, raw.NativeCurrency, raw.RPCURLs, raw.BlockExplorerURLs)
}

// ChainID returns a copy of the network's chain ID.
func (n NetworkDescriptor) ChainID() *big.Int {
	if n.chainID == nil {
		return nil
	}
	return new(big.Int).Set(n.chainID)
}

// ChainIDHex renders the chain ID the way wallets report it, e.g. 0x7a69.
func (n NetworkDescriptor) ChainIDHex() string {
	if n.chainID == nil {
		return "0x0"
	}
	return hexutil.EncodeBig(n.chainID)
}

// Matches reports whether id is this network's chain ID.
func (n NetworkDescriptor) Matches(id *big.Int) bool {
	return id != nil && n.chainID != nil && n.chainID.Cmp(id) == 0
}

// AddChainParams is the wallet_addEthereumChain parameter object.
type AddChainParams struct {
	ChainID           *hexutil.Big   `json:"chainId"`
	ChainName         string         `json:"chainName"`
	NativeCurrency    NativeCurrency `json:"nativeCurrency"`
	RPCURLs           []string       `json:"rpcUrls"`
	BlockExplorerURLs []string       `json:"blockExplorerUrls,omitempty"`
}

// SwitchChainParams is the wallet_switchEthereumChain parameter object.
type SwitchChainParams struct {
	ChainID *hexutil.Big `json:"chainId"`
}

// AddChainParams converts the descriptor into its wallet request form.
func (n NetworkDescriptor) AddChainParams() AddChainParams {
	return AddChainParams{
		ChainID:           (*hexutil.Big)(n.ChainID()),
		ChainName:         n.ChainName,
		NativeCurrency:    n.NativeCurrency,
		RPCURLs:           append([]string(nil), n.RPCURLs...),
		BlockExplorerURLs: append([]string(nil), n.BlockExplorerURLs...),
	}
}
