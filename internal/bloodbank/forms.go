package bloodbank

import (
	"errors"
	"math/big"

	xerrors "BloodBank-Chain/internal/errors"

	"github.com/go-playground/validator/v10"
)

// UnitVolume is the fixed size of one donation in millilitres.
const UnitVolume = 450

// BloodTypes lists the accepted blood types in display order.
var BloodTypes = []string{"A+", "A-", "B+", "B-", "AB+", "AB-", "O+", "O-"}

var validate = validator.New(validator.WithRequiredStructEnabled())

// DonationForm is a donor's submission to donate().
type DonationForm struct {
	BloodType string `json:"bloodType" validate:"required,oneof=A+ A- B+ B- AB+ AB- O+ O-"`
	DonorName string `json:"donorName" validate:"required"`
	Age       int    `json:"age" validate:"gte=17,lte=70"`
	Contact   string `json:"contact" validate:"min=10"`
}

// Amount is the volume submitted with a donation.
func (DonationForm) Amount() *big.Int {
	return big.NewInt(UnitVolume)
}

// Validate returns the first failing check as an INVALID_ARGUMENT error.
func (f DonationForm) Validate() error {
	return firstViolation(validate.Struct(f), []fieldMessage{
		{"BloodType", "Please select a blood type"},
		{"DonorName", "Please enter your name"},
		{"Age", "Donor must be between 17 and 70 years old"},
		{"Contact", "Please enter a valid contact number"},
	})
}

// RequestForm is a hospital's submission to requestBlood(). Age is a pointer
// so that a newborn (0) can be told apart from a missing value.
type RequestForm struct {
	BloodType     string `json:"bloodType" validate:"required,oneof=A+ A- B+ B- AB+ AB- O+ O-"`
	Units         int    `json:"units" validate:"gte=1"`
	RecipientName string `json:"recipientName" validate:"required"`
	Age           *int   `json:"age" validate:"required,gte=0,lte=120"`
	Contact       string `json:"contact" validate:"min=10"`
	Hospital      string `json:"hospital" validate:"required"`
	Reason        string `json:"reason" validate:"required"`
}

// Amount is units times the unit volume.
func (f RequestForm) Amount() *big.Int {
	return big.NewInt(int64(f.Units) * UnitVolume)
}

// Validate returns the first failing check as an INVALID_ARGUMENT error.
func (f RequestForm) Validate() error {
	return firstViolation(validate.Struct(f), []fieldMessage{
		{"BloodType", "Please select a blood type"},
		{"Units", "Please enter a valid number of units"},
		{"RecipientName", "Please enter recipient name"},
		{"Age", "Please enter a valid age"},
		{"Contact", "Please enter a valid contact number"},
		{"Hospital", "Please enter hospital name"},
		{"Reason", "Please enter reason for request"},
	})
}

type fieldMessage struct {
	field   string
	message string
}

func firstViolation(err error, messages []fieldMessage) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "")
	}
	failed := make(map[string]bool, len(verrs))
	for _, fe := range verrs {
		failed[fe.StructField()] = true
	}
	for _, m := range messages {
		if failed[m.field] {
			return xerrors.New(xerrors.CodeInvalidArgument, m.message, xerrors.WithField(m.field))
		}
	}
	return xerrors.New(xerrors.CodeInvalidArgument, verrs[0].Error(), xerrors.WithField(verrs[0].StructField()))
}

// IsBloodType reports whether value is one of BloodTypes.
func IsBloodType(value string) bool {
	for _, t := range BloodTypes {
		if t == value {
			return true
		}
	}
	return false
}
