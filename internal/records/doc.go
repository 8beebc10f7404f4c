// Package records keeps the off-chain bookkeeping of the blood bank: users,
// donation records, inventory units and blood requests. The records are
// independent of the contract state and are never reconciled with it.
package records
