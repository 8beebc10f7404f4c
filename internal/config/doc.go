// Package config loads the BloodBank daemon configuration from a JSON file,
// fills in defaults and applies deployment-time environment overrides such as
// the contract address and storage DSNs.
package config
