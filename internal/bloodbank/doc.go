// Package bloodbank binds the BloodDonation contract: a ContractHandle that
// can be invalidated, the donation and request forms submitted to it, and
// decoding of the events it emits.
package bloodbank
