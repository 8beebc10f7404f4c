package session

import (
	xerrors "BloodBank-Chain/internal/errors"
)

// Session failure codes.
const (
	CodeNoWalletInstalled      xerrors.Code = "NO_WALLET_INSTALLED"
	CodeUserRejected           xerrors.Code = "USER_REJECTED"
	CodeWrongNetwork           xerrors.Code = "WRONG_NETWORK"
	CodeNetworkSwitchFailed    xerrors.Code = "NETWORK_SWITCH_FAILED"
	CodeContractNotDeployed    xerrors.Code = "CONTRACT_NOT_DEPLOYED"
	CodeContractAddressMissing xerrors.Code = "CONTRACT_ADDRESS_MISSING"
	CodeConnectFailure         xerrors.Code = "CONNECT_FAILURE"
	CodeSuperseded             xerrors.Code = "CONNECT_SUPERSEDED"
	CodeNotConnected           xerrors.Code = "NOT_CONNECTED"
)

func init() {
	xerrors.Register(CodeNoWalletInstalled, xerrors.Attributes{Message: "Please install MetaMask to use this application", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeUserRejected, xerrors.Attributes{Message: "Connection rejected. Please try again.", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeWrongNetwork, xerrors.Attributes{Message: "Please switch your wallet to the supported network", Severity: xerrors.SeverityInfo, Retryable: true})
	xerrors.Register(CodeNetworkSwitchFailed, xerrors.Attributes{Message: "Failed to switch network. Please try again.", Severity: xerrors.SeverityWarning, Retryable: true})
	xerrors.Register(CodeContractNotDeployed, xerrors.Attributes{Message: "Contract not deployed", Severity: xerrors.SeverityCritical})
	xerrors.Register(CodeContractAddressMissing, xerrors.Attributes{Message: "Contract address not found", Severity: xerrors.SeverityCritical})
	xerrors.Register(CodeConnectFailure, xerrors.Attributes{Message: "Failed to connect", Severity: xerrors.SeverityWarning, Retryable: true})
	xerrors.Register(CodeSuperseded, xerrors.Attributes{Message: "Connection attempt cancelled by disconnect", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeNotConnected, xerrors.Attributes{Message: "Please connect your wallet first", Severity: xerrors.SeverityInfo})
}

// connectFailure wraps an unexpected provider error the way the wallet
// button reports it.
func connectFailure(cause error) *xerrors.Error {
	return xerrors.Wrap(CodeConnectFailure, cause, "Failed to connect: "+cause.Error())
}
